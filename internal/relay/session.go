// Package relay multiplexes browser clients onto upstream realtime API
// connections, one session per client, with admission control, per-session
// rate limiting, and per-session spend caps.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/kagami/realtime-relay/internal/ratelimit"
)

// Application close codes. 1000/1001 come from the WebSocket spec; the 4xxx
// range carries relay policy decisions so clients can distinguish "try again
// later" from "this session is over" from "you may never connect".
const (
	StatusOriginNotAllowed websocket.StatusCode = 4003
	StatusCostLimit        websocket.StatusCode = 4028
	StatusAtCapacity       websocket.StatusCode = 4029
	StatusClientError      websocket.StatusCode = 4500
	StatusUpstreamError    websocket.StatusCode = 4502
)

// Cleanup reasons recorded in logs and mapped to close codes.
const (
	ReasonClientClose   = "client_close"
	ReasonClientError   = "client_error"
	ReasonUpstreamClose = "upstream_close"
	ReasonUpstreamError = "upstream_error"
	ReasonForwardError  = "forward_error"
	ReasonCostLimit     = "cost_limit"
	ReasonShutdown      = "shutdown"
)

// Conn is the subset of *websocket.Conn the relay uses. Both session
// endpoints are held behind it so relay loops and the registry can be
// exercised against fakes.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Session is one client↔upstream relay pairing with its own rate and cost
// state. The two pump goroutines of a session are its only writers besides
// Cleanup; cross-session state lives in the Registry.
type Session struct {
	ID         int64
	TraceID    string
	RemoteAddr string
	Origin     string
	Project    string
	Colony     string
	CreatedAt  time.Time

	Bucket *ratelimit.Bucket

	client Conn

	// upstream is attached after the dial completes; guarded because a
	// shutdown-driven Cleanup can race the dial.
	mu       sync.Mutex
	upstream Conn

	// Cost is accumulated as integer nano-cents so both pump goroutines can
	// add atomically without a lock.
	costNanoCents atomic.Int64
	messagesIn    atomic.Int64
	messagesOut   atomic.Int64

	// done flips once, in Cleanup, before the endpoint closes. Pump loops
	// use it to tell teardown-induced errors from real transport failures.
	done atomic.Bool

	// ctx is the session's lifetime; cancel unblocks anything still waiting
	// on either endpoint.
	ctx    context.Context
	cancel context.CancelFunc
}

// AttachUpstream sets the upstream endpoint once the dial has completed.
func (s *Session) AttachUpstream(c Conn) {
	s.mu.Lock()
	s.upstream = c
	s.mu.Unlock()
}

// Upstream returns the upstream endpoint, or nil before the dial completes.
func (s *Session) Upstream() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// AddCostCents accumulates estimated cost. Monotonically non-decreasing.
func (s *Session) AddCostCents(cents float64) {
	s.costNanoCents.Add(int64(cents * 1e9))
}

// CostCents returns the accumulated estimated cost in cents.
func (s *Session) CostCents() float64 {
	return float64(s.costNanoCents.Load()) / 1e9
}

// MessagesIn returns the count of client→upstream messages relayed.
func (s *Session) MessagesIn() int64 { return s.messagesIn.Load() }

// MessagesOut returns the count of upstream→client messages relayed.
func (s *Session) MessagesOut() int64 { return s.messagesOut.Load() }

// Done reports whether cleanup has started for this session.
func (s *Session) Done() bool { return s.done.Load() }

// Context is the session's lifetime context; it is cancelled by Cleanup.
func (s *Session) Context() context.Context { return s.ctx }

// closeCodeForReason maps a cleanup reason to the close code sent to the
// client. The upstream side always gets a normal closure.
func closeCodeForReason(reason string) websocket.StatusCode {
	switch reason {
	case ReasonCostLimit:
		return StatusCostLimit
	case ReasonUpstreamError, ReasonForwardError:
		return StatusUpstreamError
	case ReasonClientError:
		return StatusClientError
	case ReasonShutdown:
		return websocket.StatusGoingAway
	default:
		return websocket.StatusNormalClosure
	}
}
