package reconstruct

import "sort"

// CombinedBuffer is one agent's fully-chained, concatenated event stream
// for a single trace: a trace may spill across several buffer fragments
// from the same agent (one call exceeded a single buffer's capacity, or
// the agent was invoked more than once within the trace), and this is
// each such chain flattened into one contiguous byte slice.
type CombinedBuffer struct {
	Agent string
	Data  []byte
}

// groupAndConcatenate links one agent's raw buffer fragments into their
// prev_buffer_id chains (buffer_id == prev_buffer_id marks a root) and
// concatenates each chain's event bytes in order.
func groupAndConcatenate(agent string, buffers []RawBuffer) ([]CombinedBuffer, TraceStatus) {
	byID := make(map[int32]*RawBuffer, len(buffers))
	bufs := make([]*RawBuffer, len(buffers))
	for i := range buffers {
		bufs[i] = &buffers[i]
		if _, dup := byID[bufs[i].Header.BufferID]; dup {
			return nil, StatusDuplicateBufferID
		}
		byID[bufs[i].Header.BufferID] = bufs[i]
	}

	next := make(map[int32]*RawBuffer, len(buffers))
	var roots []*RawBuffer
	for _, b := range bufs {
		id, prev := b.Header.BufferID, b.Header.PrevBufferID
		if id == prev {
			roots = append(roots, b)
			continue
		}
		if _, ok := byID[prev]; !ok {
			return nil, StatusMissingPrevBuffer
		}
		if _, taken := next[prev]; taken {
			return nil, StatusMultipleNextBuffers
		}
		next[prev] = b
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].Header.BufferID < roots[j].Header.BufferID })

	var combined []CombinedBuffer
	for _, root := range roots {
		var data []byte
		for cur := root; cur != nil; cur = next[cur.Header.BufferID] {
			data = append(data, cur.Data...)
		}
		combined = append(combined, CombinedBuffer{Agent: agent, Data: data})
	}
	return combined, StatusValid
}
