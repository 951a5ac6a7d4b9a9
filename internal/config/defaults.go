// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultPort is the listen port for the relay server.
const DefaultPort = 8787

// DefaultServerReadTimeout for HTTP server (control-plane endpoints only;
// WebSocket connections are hijacked and not subject to it).
const DefaultServerReadTimeout = 10 * time.Second

// ShutdownGrace is the watchdog window for graceful shutdown. If session
// teardown has not finished within this window the process force-exits.
const ShutdownGrace = 5 * time.Second

// =============================================================================
// ADMISSION AND SESSIONS
// =============================================================================

// DefaultMaxSessions is the ceiling on concurrent relay sessions.
const DefaultMaxSessions = 20

// DefaultProject is the sentinel project tag when the client supplies none.
const DefaultProject = "unknown"

// DefaultColony is the sentinel colony tag when the client supplies none.
const DefaultColony = "kagami"

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateTokensPerSec is the per-session token bucket refill rate.
const DefaultRateTokensPerSec = 10

// DefaultRateBucketMax is the per-session token bucket burst capacity.
const DefaultRateBucketMax = 30

// =============================================================================
// COST CONTROL
// =============================================================================

// DefaultCostCapCents is the per-session spend cap in cents. The cap is a
// heuristic budget guard, not a billing ledger.
const DefaultCostCapCents = 200

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamURL is the realtime API WebSocket endpoint.
const DefaultUpstreamURL = "wss://api.openai.com/v1/realtime"

// DefaultModel is the realtime model requested from the upstream.
const DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

// UpstreamDialTimeout bounds the upstream connect attempt so a broken
// upstream cannot pin down an admitted capacity slot indefinitely.
const UpstreamDialTimeout = 10 * time.Second

// MaxFrameBytes is the read limit on both relay endpoints. Audio frames are
// base64-encoded PCM and can be large; 1 MiB covers the realtime API's
// frame sizes with headroom.
const MaxFrameBytes = 1 << 20
