// Package relay - stats.go exposes the control-plane endpoints as JSON.
//
// GET /health returns liveness plus session occupancy.
// GET /stats returns a registry snapshot with per-session detail, cost
// totals grouped by project and colony, and operational counters.
//
// Both are pure reads and mirror the WebSocket origin allow-list: a request
// carrying a disallowed Origin header gets a 403.
package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kagami/realtime-relay/internal/monitoring"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	MaxSessions   int    `json:"max_sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Snapshot
	Counters monitoring.Stats `json:"counters"`
}

// checkOrigin rejects control-plane requests from disallowed origins.
// Requests without an Origin header (curl, monitoring agents) pass.
func (r *Relay) checkOrigin(w http.ResponseWriter, req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin != "" && !r.cfg.OriginAllowed(origin) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// handleHealth returns relay health status.
func (r *Relay) handleHealth(w http.ResponseWriter, req *http.Request) {
	if !r.checkOrigin(w, req) {
		return
	}
	resp := HealthResponse{
		Status:        "ok",
		Sessions:      r.registry.ActiveCount(),
		MaxSessions:   r.cfg.MaxSessions,
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStats returns a consistent snapshot of the registry.
func (r *Relay) handleStats(w http.ResponseWriter, req *http.Request) {
	if !r.checkOrigin(w, req) {
		return
	}
	resp := StatsResponse{
		Snapshot: r.registry.Snapshot(),
		Counters: r.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
