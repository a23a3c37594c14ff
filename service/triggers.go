package service

import (
	"time"

	"github.com/mpi-sws-rg/tracebench/hindsight"
)

// TriggerConfig is one `-f ID:P` flag: a trigger queue id and the
// probability (0..1) that a completed request should fire it.
type TriggerConfig struct {
	QueueID     int
	Probability float64
}

// triggerState holds the precomputed integer threshold for one configured
// trigger, per spec.md §9.
type triggerState struct {
	queueID   int
	threshold uint32
}

// DefaultLatencyTriggerThreshold is the default head-sampling-by-latency
// cutoff from spec.md §9's Open Questions: the original used
// `nanos()-start_time>100`, effectively "always fires" at 100 nanoseconds.
// Rather than preserve a threshold that fires unconditionally, the cutoff
// is the configurable ServerImpl.LatencyTriggerThreshold duration, which
// NewServerImpl sets to this default (the original's literal value, kept
// for parity), resolving the Open Question explicitly instead of silently
// inheriting a likely-unintended constant.
const DefaultLatencyTriggerThreshold = 100 * time.Nanosecond

func buildTriggerStates(configs []TriggerConfig) []triggerState {
	states := make([]triggerState, 0, len(configs))
	for _, c := range configs {
		states = append(states, triggerState{queueID: c.QueueID, threshold: triggerThreshold(c.Probability)})
	}
	return states
}

// evaluateTriggers runs at FINISH: for each configured (queue_id,
// probability) it draws a single RNG value and fires if the draw falls
// under the precomputed threshold, then separately considers the
// latency-based head-sampling trigger if this request's end-to-end
// duration exceeded LatencyTriggerThreshold.
func (s *ServerImpl) evaluateTriggers(r *Request) {
	for _, ts := range s.triggerStates {
		draw := r.rng.Uint32()
		if triggerFires(draw, ts.threshold) {
			s.fireAndRecord(r, ts.queueID)
		}
	}

	if time.Since(r.startTime) > s.LatencyTriggerThreshold {
		s.fireAndRecord(r, TriggerLatencyHeadSampling)
	}
}

// fireAndRecord both fires a trigger queue and records which queue fired it
// as a "Trigger" attribute on the request's top-level span, so the offline
// reconstructor can bucket traces by the trigger that caused their
// inclusion (findIntAttributes(entries, "Trigger", ...) in the original
// processor).
func (s *ServerImpl) fireAndRecord(r *Request, queueID int) {
	s.Strategy.SetAttribute(r.ctx, r.execSpan, "Trigger", hindsight.Int32Attr(int32(queueID)))
	s.Strategy.FireTrigger(r.ctx, queueID)
}

// TriggerLatencyHeadSampling is the well-known queue id the latency-based
// trigger fires under.
const TriggerLatencyHeadSampling = 1
