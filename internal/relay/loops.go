// Package relay - loops.go pumps messages between the two session endpoints.
//
// DESIGN: Two goroutines per session, one per direction, cooperating only
// through the session's own endpoints and atomics. Closing either endpoint
// is the cancellation primitive: it unblocks the other direction's read.
// Messages within one direction are forwarded in receipt order; the two
// directions are independent streams.
package relay

import (
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// pumpInbound relays client→upstream. The bucket gates this direction:
// a rejected message is dropped and answered with a rate-limit notice,
// never queued.
func (r *Relay) pumpInbound(s *Session) {
	ctx := s.Context()
	upstream := s.Upstream()

	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			if s.Done() {
				return
			}
			reason := ReasonClientError
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				reason = ReasonClientClose
			}
			r.registry.Cleanup(s.ID, reason)
			return
		}

		if !s.Bucket.Consume(1) {
			r.metrics.RecordRateLimitedDrop()
			notice := rateLimitedEvent{
				Type:         "proxy.rate_limited",
				RetryAfterMS: s.Bucket.RetryAfter().Milliseconds(),
			}
			if err := writeEvent(ctx, s.client, notice); err != nil && !s.Done() {
				r.registry.Cleanup(s.ID, ReasonClientError)
				return
			}
			continue
		}

		s.AddCostCents(EstimateCents(data))
		s.messagesIn.Add(1)

		data = r.pinModel(s, data)

		if err := upstream.Write(ctx, typ, data); err != nil {
			if s.Done() {
				// Destination already tearing down; non-fatal drop.
				return
			}
			r.metrics.RecordUpstreamError()
			r.registry.Cleanup(s.ID, ReasonForwardError)
			return
		}
		r.metrics.RecordFrameIn()
	}
}

// pumpOutbound relays upstream→client and owns the cost-cap check. Both
// directions accumulate cost, but only this loop enforces the cap; a brief
// undercount between an inbound write and the next outbound check is an
// accepted approximation since the cap is a soft budget guard.
func (r *Relay) pumpOutbound(s *Session) {
	ctx := s.Context()
	upstream := s.Upstream()

	for {
		typ, data, err := upstream.Read(ctx)
		if err != nil {
			if s.Done() {
				return
			}
			reason := ReasonUpstreamError
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				reason = ReasonUpstreamClose
			default:
				r.metrics.RecordUpstreamError()
			}
			r.registry.Cleanup(s.ID, reason)
			return
		}

		s.AddCostCents(EstimateCents(data))
		s.messagesOut.Add(1)

		if capCents := r.cfg.CostCapCents; capCents > 0 && s.CostCents() >= capCents {
			r.metrics.RecordCostLimitClose()
			notice := costLimitEvent{
				Type:       "proxy.session.cost_limit",
				CostCents:  s.CostCents(),
				LimitCents: capCents,
			}
			_ = writeEvent(ctx, s.client, notice)
			r.registry.Cleanup(s.ID, ReasonCostLimit)
			return
		}

		if err := s.client.Write(ctx, typ, data); err != nil {
			if s.Done() {
				return
			}
			r.registry.Cleanup(s.ID, ReasonForwardError)
			return
		}
		r.metrics.RecordFrameOut()
	}
}

// pinModel rewrites the model field inside client session.update frames so
// clients cannot select a model other than the configured one.
func (r *Relay) pinModel(s *Session, data []byte) []byte {
	if gjson.GetBytes(data, "type").String() != "session.update" {
		return data
	}
	model := gjson.GetBytes(data, "session.model")
	if !model.Exists() || model.String() == r.cfg.Model {
		return data
	}
	pinned, err := sjson.SetBytes(data, "session.model", r.cfg.Model)
	if err != nil {
		return data
	}
	log.Debug().
		Int64("session_id", s.ID).
		Str("requested", model.String()).
		Str("pinned", r.cfg.Model).
		Msg("model pinned")
	return pinned
}
