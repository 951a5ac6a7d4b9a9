// Package relay - registry.go owns the process-wide session collection.
//
// DESIGN: The registry is the only structure shared across sessions' pump
// goroutines. Every mutation (insert on admission, remove on cleanup) and
// every read (stats, admission checks) goes through its mutex; nothing
// touches the map ad hoc.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kagami/realtime-relay/internal/config"
	"github.com/kagami/realtime-relay/internal/ratelimit"
)

// Admission rejection reasons.
const (
	ReasonOriginNotAllowed = "origin_not_allowed"
	ReasonAtCapacity       = "at_capacity"
)

// AdmitRequest carries everything admission control needs about a
// connection attempt.
type AdmitRequest struct {
	Origin     string
	RemoteAddr string
	Project    string
	Colony     string
	TraceID    string
	Client     Conn
}

// Rejection is a refused admission: a reason string for logs/metrics and
// the close code communicated to the client.
type Rejection struct {
	Reason string
	Code   websocket.StatusCode
}

// Registry is the process-wide collection of live sessions.
type Registry struct {
	cfg *config.Config

	mu           sync.Mutex
	sessions     map[int64]*Session
	totalCreated int64

	// Cost of closed sessions is folded into these aggregates at cleanup so
	// /stats totals stay monotonic after sessions end.
	retiredCostNano int64
	byProjectNano   map[string]int64
	byColonyNano    map[string]int64
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:           cfg,
		sessions:      make(map[int64]*Session),
		byProjectNano: make(map[string]int64),
		byColonyNano:  make(map[string]int64),
	}
}

// Admit runs admission control: origin gate, then capacity gate, then
// session allocation. Rejections never consume a session id.
func (r *Registry) Admit(req AdmitRequest) (*Session, *Rejection) {
	if !r.cfg.OriginAllowed(req.Origin) {
		return nil, &Rejection{Reason: ReasonOriginNotAllowed, Code: StatusOriginNotAllowed}
	}

	project := req.Project
	if project == "" {
		project = config.DefaultProject
	}
	colony := req.Colony
	if colony == "" {
		colony = config.DefaultColony
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, &Rejection{Reason: ReasonAtCapacity, Code: StatusAtCapacity}
	}

	r.totalCreated++
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         r.totalCreated,
		TraceID:    req.TraceID,
		RemoteAddr: req.RemoteAddr,
		Origin:     req.Origin,
		Project:    project,
		Colony:     colony,
		CreatedAt:  time.Now(),
		Bucket:     ratelimit.NewBucket(r.cfg.RateBucketMax, r.cfg.RateTokensPerSec),
		client:     req.Client,
		ctx:        ctx,
		cancel:     cancel,
	}
	r.sessions[s.ID] = s

	log.Info().
		Int64("session_id", s.ID).
		Str("trace_id", s.TraceID).
		Str("remote_addr", s.RemoteAddr).
		Str("origin", s.Origin).
		Str("project", s.Project).
		Str("colony", s.Colony).
		Int("active", len(r.sessions)).
		Msg("session admitted")

	return s, nil
}

// Cleanup tears down a session exactly once. Idempotent: an absent id is a
// no-op. The session leaves the registry before any endpoint closes, so
// concurrent admission and stats never observe a half-torn-down session.
func (r *Registry) Cleanup(id int64, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	cost := s.costNanoCents.Load()
	r.retiredCostNano += cost
	r.byProjectNano[s.Project] += cost
	r.byColonyNano[s.Colony] += cost
	r.mu.Unlock()

	s.done.Store(true)
	s.cancel()

	// Best-effort closes; either endpoint may already be gone.
	_ = s.client.Close(closeCodeForReason(reason), reason)
	if u := s.Upstream(); u != nil {
		_ = u.Close(websocket.StatusNormalClosure, "session closed")
	}

	log.Info().
		Int64("session_id", s.ID).
		Str("trace_id", s.TraceID).
		Str("reason", reason).
		Dur("duration", time.Since(s.CreatedAt)).
		Int64("messages_in", s.MessagesIn()).
		Int64("messages_out", s.MessagesOut()).
		Float64("cost_cents", s.CostCents()).
		Msg("session closed")
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TotalCreated returns the number of sessions ever admitted.
func (r *Registry) TotalCreated() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCreated
}

// Shutdown force-closes every live session. Used at process termination.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Cleanup(id, ReasonShutdown)
	}
}

// SessionStat is one live session's entry in the /stats response.
type SessionStat struct {
	ID              int64   `json:"id"`
	Project         string  `json:"project"`
	Colony          string  `json:"colony"`
	RemoteAddr      string  `json:"remote_addr"`
	MessagesIn      int64   `json:"messages_in"`
	MessagesOut     int64   `json:"messages_out"`
	CostCents       float64 `json:"cost_cents"`
	DurationSeconds float64 `json:"duration_seconds"`
	CreatedAt       string  `json:"created_at"`
}

// Snapshot is a point-in-time read over the registry for /stats.
type Snapshot struct {
	Total          int64              `json:"total"`
	Active         []SessionStat      `json:"active"`
	MaxSessions    int                `json:"max_sessions"`
	TotalCostCents float64            `json:"total_cost_cents"`
	ByProject      map[string]float64 `json:"by_project"`
	ByColony       map[string]float64 `json:"by_colony"`
}

// Snapshot reads the registry without mutating it.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Total:       r.totalCreated,
		Active:      make([]SessionStat, 0, len(r.sessions)),
		MaxSessions: r.cfg.MaxSessions,
		ByProject:   make(map[string]float64, len(r.byProjectNano)),
		ByColony:    make(map[string]float64, len(r.byColonyNano)),
	}

	totalNano := r.retiredCostNano
	for tag, nano := range r.byProjectNano {
		snap.ByProject[tag] = float64(nano) / 1e9
	}
	for tag, nano := range r.byColonyNano {
		snap.ByColony[tag] = float64(nano) / 1e9
	}

	now := time.Now()
	for _, s := range r.sessions {
		nano := s.costNanoCents.Load()
		totalNano += nano
		snap.ByProject[s.Project] += float64(nano) / 1e9
		snap.ByColony[s.Colony] += float64(nano) / 1e9
		snap.Active = append(snap.Active, SessionStat{
			ID:              s.ID,
			Project:         s.Project,
			Colony:          s.Colony,
			RemoteAddr:      s.RemoteAddr,
			MessagesIn:      s.MessagesIn(),
			MessagesOut:     s.MessagesOut(),
			CostCents:       float64(nano) / 1e9,
			DurationSeconds: now.Sub(s.CreatedAt).Seconds(),
			CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		})
	}
	snap.TotalCostCents = float64(totalNano) / 1e9

	return snap
}
