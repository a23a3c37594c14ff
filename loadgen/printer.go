package loadgen

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Printer runs the rolling-throughput status line and, once stopped,
// reports the final aggregate: duration, total requests, overall
// throughput, and min/max/avg latency across every client, matching the
// original client's printthread.
type Printer struct {
	clients     []*Client
	globalCount *uint64
	logger      *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

func NewPrinter(clients []*Client, globalCount *uint64, logger *logrus.Entry) *Printer {
	return &Printer{
		clients:     clients,
		globalCount: globalCount,
		logger:      logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run blocks, logging a throughput line once per second, until Stop is
// called, then logs the final aggregate and returns.
func (p *Printer) Run() {
	defer close(p.done)

	time.Sleep(warmUp)

	start := time.Now()
	startCount := atomic.LoadUint64(p.globalCount)
	lastPrint := start
	lastCount := startCount

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.logFinal(start, startCount)
			return
		case t := <-ticker.C:
			count := atomic.LoadUint64(p.globalCount)
			duration := t.Sub(lastPrint)
			tput := float64(count-lastCount) / duration.Seconds()
			p.logger.Infof("%.0f requests/s (%d total)", tput, count-lastCount)
			lastPrint, lastCount = t, count
		}
	}
}

// Stop signals Run to print its final aggregate and exit, then blocks
// until it has.
func (p *Printer) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Printer) logFinal(start time.Time, startCount uint64) {
	end := time.Now()
	total := atomic.LoadUint64(p.globalCount) - startCount
	durationS := end.Sub(start).Seconds()

	var snaps []snapshot
	for _, c := range p.clients {
		snaps = append(snaps, c.Snapshot())
	}
	agg := mergeSnapshots(snaps)

	throughput := 0.0
	if durationS > 0 {
		throughput = float64(total) / durationS
	}

	p.logger.WithFields(logrus.Fields{
		"duration_s":    durationS,
		"total":         total,
		"throughput_rps": throughput,
		"avg_latency_ms": agg.AvgMicros() / 1000,
		"max_latency_ms": float64(agg.Max) / 1000,
		"min_latency_ms": float64(agg.Min) / 1000,
	}).Info("load generator finished")
}
