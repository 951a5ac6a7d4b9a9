// WebSocket admission and upstream dialing for the relay.
//
// DESIGN: Connection flow:
//   - ServeWS():      upgrade, admission control, upstream dial
//   - pumpInbound():  client→upstream loop (runs on the handler goroutine)
//   - pumpOutbound(): upstream→client loop (own goroutine)
//
// Rejections complete the upgrade and close immediately with a policy
// close code; the relay never silently drops a connection attempt.
package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kagami/realtime-relay/internal/config"
	"github.com/kagami/realtime-relay/internal/monitoring"
)

// Relay wires the registry, counters, and config together and serves the
// WebSocket and control-plane endpoints.
type Relay struct {
	cfg       *config.Config
	registry  *Registry
	metrics   *monitoring.Counters
	startedAt time.Time
}

// New creates a relay for the given config.
func New(cfg *config.Config) *Relay {
	return &Relay{
		cfg:       cfg,
		registry:  NewRegistry(cfg),
		metrics:   monitoring.NewCounters(),
		startedAt: time.Now(),
	}
}

// Registry exposes the session registry (shutdown, tests).
func (r *Relay) Registry() *Registry { return r.registry }

// Routes returns the relay's HTTP mux: /ws, /health, /stats.
func (r *Relay) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.ServeWS)
	mux.HandleFunc("/health", r.handleHealth)
	mux.HandleFunc("/stats", r.handleStats)
	return mux
}

// ServeWS upgrades the client connection, runs admission control, opens the
// upstream connection, and pumps both directions until the session ends.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	traceID := uuid.NewString()

	// Origin policy is enforced after the upgrade so rejections can carry a
	// close code instead of an opaque HTTP 403.
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn().Err(err).Str("trace_id", traceID).Str("remote_addr", req.RemoteAddr).Msg("upgrade failed")
		return
	}
	c.SetReadLimit(config.MaxFrameBytes)

	q := req.URL.Query()
	s, rej := r.registry.Admit(AdmitRequest{
		Origin:     req.Header.Get("Origin"),
		RemoteAddr: req.RemoteAddr,
		Project:    q.Get("project"),
		Colony:     q.Get("colony"),
		TraceID:    traceID,
		Client:     c,
	})
	if rej != nil {
		r.metrics.RecordRejection(rej.Reason)
		log.Warn().
			Str("trace_id", traceID).
			Str("remote_addr", req.RemoteAddr).
			Str("origin", req.Header.Get("Origin")).
			Str("reason", rej.Reason).
			Msg("connection rejected")
		_ = c.Close(rej.Code, rej.Reason)
		return
	}
	r.metrics.RecordAdmission()

	upstream, err := r.dialUpstream(s.Context())
	if err != nil {
		r.metrics.RecordUpstreamError()
		log.Error().Err(err).
			Int64("session_id", s.ID).
			Str("trace_id", traceID).
			Msg("upstream dial failed")
		r.registry.Cleanup(s.ID, ReasonUpstreamError)
		return
	}
	s.AttachUpstream(upstream)
	if s.Done() {
		// Shutdown raced the dial; Cleanup could not see the upstream yet.
		_ = upstream.Close(websocket.StatusNormalClosure, "session closed")
		return
	}

	created := sessionCreatedEvent{
		Type:      "proxy.session.created",
		SessionID: s.ID,
		Model:     r.cfg.Model,
		Project:   s.Project,
		Colony:    s.Colony,
	}
	if err := writeEvent(s.Context(), s.client, created); err != nil {
		if !s.Done() {
			r.registry.Cleanup(s.ID, ReasonClientError)
		}
		return
	}

	go r.pumpOutbound(s)
	r.pumpInbound(s)
}

// dialUpstream opens the realtime API connection with a bounded timeout so
// a broken upstream cannot pin an admitted capacity slot indefinitely.
func (r *Relay) dialUpstream(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, config.UpstreamDialTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+r.cfg.APIKey)
	h.Set("OpenAI-Beta", "realtime=v1")

	c, resp, err := websocket.Dial(dialCtx, r.upstreamURL(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(config.MaxFrameBytes)
	return c, nil
}

func (r *Relay) upstreamURL() string {
	sep := "?"
	if strings.Contains(r.cfg.UpstreamURL, "?") {
		sep = "&"
	}
	return r.cfg.UpstreamURL + sep + "model=" + url.QueryEscape(r.cfg.Model)
}
