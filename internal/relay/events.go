// Package relay - events.go defines the proxy's own client-facing message
// envelopes, sent alongside transparently relayed upstream frames.
package relay

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/coder/websocket"
)

// sessionCreatedEvent is sent once, immediately after the upstream
// connection opens.
type sessionCreatedEvent struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
	Model     string `json:"model"`
	Project   string `json:"project"`
	Colony    string `json:"colony"`
}

// rateLimitedEvent is sent whenever an inbound message is rejected by the
// bucket. The offending message is dropped, not queued.
type rateLimitedEvent struct {
	Type         string `json:"type"`
	RetryAfterMS int64  `json:"retry_after_ms"`
}

// costLimitEvent is sent once, immediately before forced closure with
// StatusCostLimit.
type costLimitEvent struct {
	Type       string  `json:"type"`
	CostCents  float64 `json:"cost_cents"`
	LimitCents float64 `json:"limit_cents"`
}

// marshalNoEscape marshals JSON without HTML escaping so tags like '<' are
// not inflated into < on the wire.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// writeEvent sends a proxy envelope as a text frame.
func writeEvent(ctx context.Context, c Conn, v any) error {
	data, err := marshalNoEscape(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}
