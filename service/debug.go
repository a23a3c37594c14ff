package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	handlerOutstanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracebench_handler_outstanding",
		Help: "Requests currently outstanding on a handler's admission controller.",
	}, []string{"handler"})
	handlerDraining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracebench_handler_draining",
		Help: "1 if a handler's admission controller is in the draining state, else 0.",
	}, []string{"handler"})
	handlerStageTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracebench_handler_stage_total",
		Help: "Cumulative count of requests that have passed a handler pipeline milestone.",
	}, []string{"handler", "stage"})
	handlerStageDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracebench_handler_stage_depth",
		Help: "Requests currently between two adjacent pipeline milestones on a handler.",
	}, []string{"handler", "stage"})
)

// DebugPrinter periodically samples every handler's admission state and
// both logs it (the stdout stage-depth printer spec.md's ServerImpl
// describes, "PrintThread" in the original) and exports it as Prometheus
// gauges, so a -d run can be watched live either way.
type DebugPrinter struct {
	server   *ServerImpl
	interval time.Duration
	logger   *logrus.Entry

	stop chan struct{}
	done chan struct{}
}

func NewDebugPrinter(server *ServerImpl, interval time.Duration, logger *logrus.Entry) *DebugPrinter {
	return &DebugPrinter{
		server:   server,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run samples Snapshot() on a ticker until Stop is called. It is meant to
// be run in its own goroutine.
func (p *DebugPrinter) Run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sample()
		case <-p.stop:
			return
		}
	}
}

func (p *DebugPrinter) sample() {
	for _, snap := range p.server.Snapshot() {
		label := strconv.Itoa(snap.HandlerID)
		handlerOutstanding.WithLabelValues(label).Set(float64(snap.Outstanding))
		draining := 0.0
		if snap.Draining {
			draining = 1.0
		}
		handlerDraining.WithLabelValues(label).Set(draining)

		handlerStageTotal.WithLabelValues(label, "awaiting").Set(float64(snap.Awaiting))
		handlerStageTotal.WithLabelValues(label, "processing").Set(float64(snap.Processing))
		handlerStageTotal.WithLabelValues(label, "awaiting_children").Set(float64(snap.AwaitingChildren))
		handlerStageTotal.WithLabelValues(label, "finishing").Set(float64(snap.Finishing))
		handlerStageTotal.WithLabelValues(label, "completed").Set(float64(snap.Completed))

		awaitingToProcessing := int64(snap.Awaiting) - int64(snap.Processing)
		processingToChildren := int64(snap.Processing) - int64(snap.AwaitingChildren)
		childrenToFinishing := int64(snap.AwaitingChildren) - int64(snap.Finishing)
		finishingToCompleted := int64(snap.Finishing) - int64(snap.Completed)

		handlerStageDepth.WithLabelValues(label, "awaiting_processing").Set(float64(awaitingToProcessing))
		handlerStageDepth.WithLabelValues(label, "processing_children").Set(float64(processingToChildren))
		handlerStageDepth.WithLabelValues(label, "children_finishing").Set(float64(childrenToFinishing))
		handlerStageDepth.WithLabelValues(label, "finishing_completed").Set(float64(finishingToCompleted))

		p.logger.WithFields(logrus.Fields{
			"handler":             snap.HandlerID,
			"outstanding":         snap.Outstanding,
			"draining":            snap.Draining,
			"awaiting_processing": awaitingToProcessing,
			"processing_children": processingToChildren,
			"children_finishing":  childrenToFinishing,
			"finishing_completed": finishingToCompleted,
		}).Debug("stage depth")
	}
}

// Stop signals Run to exit and waits for it to do so.
func (p *DebugPrinter) Stop() {
	close(p.stop)
	<-p.done
}
