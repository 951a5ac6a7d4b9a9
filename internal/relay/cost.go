// Package relay - cost.go estimates the monetary cost of relayed frames.
//
// DESIGN: Heuristic classification by the frame's "type" tag, not a billing
// ledger. The estimator is pure and total: every input maps to a cost, and
// anything unparsable degrades to the control-frame minimum rather than
// failing the relay.
package relay

import "github.com/tidwall/gjson"

// Heuristic per-frame costs in cents.
const (
	// CostAudioOutCents covers outbound audio-stream fragments, the most
	// expensive frames the upstream produces.
	CostAudioOutCents = 0.3

	// CostAudioInCents covers inbound audio-append fragments.
	CostAudioInCents = 0.05

	// CostControlCents is the minimum, charged for text deltas, control
	// frames, and anything that cannot be classified.
	CostControlCents = 0.01
)

// EstimateCents returns the approximate cost of one relayed frame.
func EstimateCents(data []byte) float64 {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return CostControlCents
	}
	switch typ.String() {
	case "response.audio.delta":
		return CostAudioOutCents
	case "input_audio_buffer.append":
		return CostAudioInCents
	case "response.text.delta", "response.audio_transcript.delta":
		return CostControlCents
	default:
		return CostControlCents
	}
}
