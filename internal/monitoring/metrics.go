// Package monitoring provides simple in-memory counters.
//
// DESIGN: Lightweight operational metrics for the relay:
//   - admissions/rejections: admission control outcomes
//   - frames:                forwarded message counts per direction
//   - rate_limited_drops:    inbound messages rejected by the bucket
//   - cost_limit_closes:     sessions closed for breaching the spend cap
//   - upstream_errors:       failed or broken upstream connections
//
// For production, export these to Prometheus or similar.
package monitoring

import "sync/atomic"

// Counters collects relay operational metrics.
type Counters struct {
	admissions       atomic.Int64
	rejectedOrigin   atomic.Int64
	rejectedCapacity atomic.Int64

	framesIn  atomic.Int64
	framesOut atomic.Int64

	rateLimitedDrops atomic.Int64
	costLimitCloses  atomic.Int64
	upstreamErrors   atomic.Int64
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordAdmission records a successful admission.
func (c *Counters) RecordAdmission() { c.admissions.Add(1) }

// RecordRejection records an admission rejection by reason.
func (c *Counters) RecordRejection(reason string) {
	switch reason {
	case "origin_not_allowed":
		c.rejectedOrigin.Add(1)
	case "at_capacity":
		c.rejectedCapacity.Add(1)
	}
}

// RecordFrameIn records a client→upstream frame forwarded.
func (c *Counters) RecordFrameIn() { c.framesIn.Add(1) }

// RecordFrameOut records an upstream→client frame forwarded.
func (c *Counters) RecordFrameOut() { c.framesOut.Add(1) }

// RecordRateLimitedDrop records an inbound message dropped by the bucket.
func (c *Counters) RecordRateLimitedDrop() { c.rateLimitedDrops.Add(1) }

// RecordCostLimitClose records a session closed for breaching its cap.
func (c *Counters) RecordCostLimitClose() { c.costLimitCloses.Add(1) }

// RecordUpstreamError records an upstream connect or transport failure.
func (c *Counters) RecordUpstreamError() { c.upstreamErrors.Add(1) }

// Stats is the counters snapshot exposed under "counters" on /stats.
type Stats struct {
	Admissions       int64 `json:"admissions"`
	RejectedOrigin   int64 `json:"rejected_origin"`
	RejectedCapacity int64 `json:"rejected_capacity"`
	FramesIn         int64 `json:"frames_in"`
	FramesOut        int64 `json:"frames_out"`
	RateLimitedDrops int64 `json:"rate_limited_drops"`
	CostLimitCloses  int64 `json:"cost_limit_closes"`
	UpstreamErrors   int64 `json:"upstream_errors"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Admissions:       c.admissions.Load(),
		RejectedOrigin:   c.rejectedOrigin.Load(),
		RejectedCapacity: c.rejectedCapacity.Load(),
		FramesIn:         c.framesIn.Load(),
		FramesOut:        c.framesOut.Load(),
		RateLimitedDrops: c.rateLimitedDrops.Load(),
		CostLimitCloses:  c.costLimitCloses.Load(),
		UpstreamErrors:   c.upstreamErrors.Load(),
	}
}
