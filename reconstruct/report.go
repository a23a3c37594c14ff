package reconstruct

import (
	"fmt"
	"sort"
	"strings"
)

// bucketNone and bucketAll are the sentinel interval/trigger tags for
// "this trace had no interval/trigger attribute at all" and "the total
// across every interval/trigger", matching the original report's -9/x and
// -10/All buckets.
const (
	bucketNone int64 = -9
	bucketAll  int64 = -10
)

type reportCell struct {
	interval, trigger int64
	status            TraceStatus
}

type bucketKey struct{ interval, trigger int64 }

// Report renders the (interval, trigger) x status count table the original
// processor prints: each trace contributes to every (interval, trigger)
// combination it matches (including the "All" totals row/column and the
// "x" no-tag bucket), and interval numbers are normalized relative to the
// smallest real interval seen, so a report reads "0, 1, 2, ..." regardless
// of which wall-clock interval index the run happened to start at.
func Report(outcomes []TraceOutcome) string {
	counts := make(map[reportCell]int)

	minInterval := int64(1) << 62
	for _, o := range outcomes {
		intervals := o.Intervals
		if len(intervals) == 0 {
			intervals = []int64{bucketNone}
		}
		triggers := o.Triggers
		if len(triggers) == 0 {
			triggers = []int64{bucketNone}
		}

		for _, iv := range intervals {
			if iv >= 0 && iv < minInterval {
				minInterval = iv
			}
		}

		allIntervals := append(append([]int64{}, intervals...), bucketAll)
		allTriggers := append(append([]int64{}, triggers...), bucketAll)
		for _, iv := range allIntervals {
			for _, tr := range allTriggers {
				counts[reportCell{iv, tr, o.Status}]++
			}
		}
	}
	if minInterval == int64(1)<<62 {
		minInterval = 0
	}

	byBucket := make(map[bucketKey][]reportCell)
	for c := range counts {
		k := bucketKey{c.interval, c.trigger}
		byBucket[k] = append(byBucket[k], c)
	}

	buckets := make([]bucketKey, 0, len(byBucket))
	for k := range byBucket {
		buckets = append(buckets, k)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].interval != buckets[j].interval {
			return buckets[i].interval < buckets[j].interval
		}
		return buckets[i].trigger < buckets[j].trigger
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%4s%8s%7s%8s%7s %s\n", "I", "Trigger", "Status", "Count", "Pct", "Description")
	for _, k := range buckets {
		cells := byBucket[k]
		total := 0
		for _, c := range cells {
			total += counts[c]
		}
		sort.Slice(cells, func(i, j int) bool { return cells[i].status < cells[j].status })

		for _, c := range cells {
			count := counts[c]
			pct := 100 * float64(count) / float64(total)
			fmt.Fprintf(&b, "%4s%8s%7d%8d%7.2f %s\n",
				bucketLabel(k.interval, minInterval), bucketLabel(k.trigger, -1),
				int(c.status), count, pct, c.status.String())
		}
	}
	return b.String()
}

func bucketLabel(v, normalizeBy int64) string {
	switch v {
	case bucketAll:
		return "All"
	case bucketNone:
		return "x"
	default:
		if normalizeBy >= 0 {
			return fmt.Sprintf("%d", v-normalizeBy)
		}
		return fmt.Sprintf("%d", v)
	}
}
