package reconstruct

import (
	"encoding/binary"
	"sort"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/mpi-sws-rg/tracebench/service"
)

// findAttributeEntries locates every AttributeValue record for key, each
// immediately preceded by a matching AttributeKey record sharing the same
// span id. A key with no matching value (or a value record of the wrong
// type/span) is reported via status rather than silently dropped.
func findAttributeEntries(entries []hindsight.Record, key string) ([]hindsight.Record, TraceStatus) {
	status := StatusValid
	var values []hindsight.Record
	for i, e := range entries {
		if e.Type != hindsight.EventAttributeKey || string(e.Payload) != key {
			continue
		}
		if i+1 >= len(entries) {
			status = StatusMissingAttributeValue
			continue
		}
		v := entries[i+1]
		if v.Type != hindsight.EventAttributeValue || v.SpanID != e.SpanID {
			status = StatusMissingAttributeValue
			continue
		}
		values = append(values, v)
	}
	return values, status
}

func findIntAttributes(entries []hindsight.Record, key string) ([]int64, TraceStatus) {
	values, status := findAttributeEntries(entries, key)
	out := make([]int64, 0, len(values))
	for _, v := range values {
		out = append(out, decodeIntPayload(v.Payload))
	}
	return out, status
}

func decodeIntPayload(b []byte) int64 {
	switch len(b) {
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		return -5
	}
}

// agentPair is a (sender, receiver) breadcrumb address pair.
type agentPair struct {
	a, b string
}

// makeTrace validates one trace's buffers, grouped by the agent that
// produced them, mirroring the original processor's makeTrace: every
// agent's buffers are chained and concatenated first (keeping the first
// non-Valid status any agent reports, but still chaining every agent rather
// than stopping at the first failure, so interval/trigger bucketing below
// still sees as much of the trace as possible), then span-level and
// breadcrumb-level invariants are checked.
func makeTrace(buffersByAgent map[string][]RawBuffer) (TraceStatus, []CombinedBuffer, map[int64]struct{}, map[int64]struct{}) {
	status := StatusValid
	var combinedAll []CombinedBuffer
	for agent, bufs := range buffersByAgent {
		combined, st := groupAndConcatenate(agent, bufs)
		if status == StatusValid {
			status = st
		}
		combinedAll = append(combinedAll, combined...)
	}

	intervals := map[int64]struct{}{}
	triggers := map[int64]struct{}{}
	for _, cmb := range combinedAll {
		entries, _ := hindsight.Decode(cmb.Data)
		ivals, _ := findIntAttributes(entries, "Interval")
		for _, v := range ivals {
			intervals[v] = struct{}{}
		}
		trigs, _ := findIntAttributes(entries, "Trigger")
		for _, v := range trigs {
			triggers[v] = struct{}{}
		}
	}

	if status != StatusValid {
		return status, combinedAll, intervals, triggers
	}

	senderCalls := map[agentPair]int{}
	receiverCalls := map[agentPair]int{}

	for _, cmb := range combinedAll {
		entries, decErr := hindsight.Decode(cmb.Data)
		if decErr != nil {
			return StatusPrematureEndOfSlice, combinedAll, intervals, triggers
		}

		spanNames := make(map[uint64]string)
		for _, e := range entries {
			if e.Type == hindsight.EventSpanName {
				spanNames[e.SpanID] = string(e.Payload)
			}
		}

		breadcrumbs, bstatus := findAttributeEntries(entries, "Breadcrumb")
		if bstatus != StatusValid {
			return bstatus, combinedAll, intervals, triggers
		}
		for _, b := range breadcrumbs {
			address := string(b.Payload)
			switch spanNames[b.SpanID] {
			case service.SpanNameExec:
				receiverCalls[agentPair{address, cmb.Agent}]++
			case service.SpanNameChildCallPrepare:
				senderCalls[agentPair{cmb.Agent, address}]++
			default:
				return StatusUnexpectedBreadcrumb, combinedAll, intervals, triggers
			}
		}

		spanCounts := make(map[uint64]int)
		for _, e := range entries {
			switch e.Type {
			case hindsight.EventSpanStart:
				spanCounts[e.SpanID]++
			case hindsight.EventSpanEnd:
				spanCounts[e.SpanID]--
			}
		}
		if len(spanCounts) == 0 {
			return StatusEmptyTrace, combinedAll, intervals, triggers
		}
		for _, c := range spanCounts {
			if c < 0 {
				return StatusMissingSpanStart, combinedAll, intervals, triggers
			}
			if c > 0 {
				return StatusMissingSpanEnd, combinedAll, intervals, triggers
			}
		}
	}

	if len(senderCalls) != len(receiverCalls) {
		return StatusMissingChildCalls, combinedAll, intervals, triggers
	}
	for k, v := range senderCalls {
		if receiverCalls[k] != v {
			return StatusMissingChildCalls, combinedAll, intervals, triggers
		}
	}

	return StatusValid, combinedAll, intervals, triggers
}

// TraceOutcome is one trace's reconstruction result: its validation status
// and the (possibly empty) set of interval/trigger tags found in it.
type TraceOutcome struct {
	TraceID   uint64
	Status    TraceStatus
	Intervals []int64
	Triggers  []int64
}

// Reconstruct groups raw buffers by trace, validates each trace, and
// returns one TraceOutcome per trace.
func Reconstruct(raws []RawBuffer) []TraceOutcome {
	grouped := GroupByTraceID(raws)
	outcomes := make([]TraceOutcome, 0, len(grouped))
	for traceID, bufs := range grouped {
		byAgent := groupByAgent(bufs)
		status, _, intervals, triggers := makeTrace(byAgent)
		outcomes = append(outcomes, TraceOutcome{
			TraceID:   traceID,
			Status:    status,
			Intervals: sortedInt64Keys(intervals),
			Triggers:  sortedInt64Keys(triggers),
		})
	}
	return outcomes
}

func sortedInt64Keys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
