// Package loadgen implements the benchmark's load generator: a pool of
// client "threads" (goroutines here), each issuing Exec RPCs against one
// resolved service instance either closed-loop (N outstanding requests,
// refilled as each completes) or open-loop (Poisson-ish arrivals at a
// fixed rate), with per-client latency accounting fed to a rolling
// throughput printer.
package loadgen

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config configures one Client.
type Config struct {
	ID                  int
	Stub                rpcpb.ExecClient
	APIs                []string // names drawn uniformly at random per request
	Debug               bool
	IntervalSeconds     int
	OpenLoop            bool
	Requests            int // closed-loop: outstanding count; open-loop: requests/sec
	SamplingProbability float64
	Limit               uint64 // 0 = unlimited
	GlobalCount         *uint64
	Logger              *logrus.Entry
}

// Client is one load-generating "thread": its own RNG (seeded by id, so
// runs are reproducible across a fixed concurrency), its own latency
// stats, and its own sent/received counters.
type Client struct {
	cfg Config

	rng       *rand.Rand
	stats     *latencyStats
	startedAt time.Time

	sentCount     uint64
	receivedCount uint64

	debugLimiter *rate.Limiter
	logger       *logrus.Entry
}

// warmUp is how long a client runs before it starts counting request
// latency toward its stats, matching the original client's one-second
// lead-in ("start_recording = now() + 1000000" microseconds).
const warmUp = time.Second

// NewClient constructs a Client ready for Run.
func NewClient(cfg Config) *Client {
	if len(cfg.APIs) == 0 {
		panic("loadgen: client requires at least one API")
	}
	return &Client{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(int64(cfg.ID))),
		stats:        newLatencyStats(),
		startedAt:    time.Now(),
		debugLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:       cfg.Logger.WithField("client", cfg.ID),
	}
}

// Run drives this client's request loop until ctx is cancelled or its
// request limit is reached, matching the original's closed-loop/open-loop
// split within AsyncCompleteRpc.
func (c *Client) Run(ctx context.Context) {
	if c.cfg.OpenLoop {
		c.runOpenLoop(ctx)
	} else {
		c.runClosedLoop(ctx)
	}
}

// limitReached reports whether this client has already dispatched its
// configured request limit (0 means unlimited).
func (c *Client) limitReached() bool {
	return c.cfg.Limit != 0 && atomic.LoadUint64(&c.sentCount) >= c.cfg.Limit
}

// runClosedLoop keeps exactly cfg.Requests calls outstanding: one worker
// goroutine per outstanding slot, each looping request-then-wait, refilling
// the instant its previous call completes.
func (c *Client) runClosedLoop(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if c.limitReached() {
					return
				}
				atomic.AddUint64(&c.sentCount, 1)
				c.execOnce(ctx)
				atomic.AddUint64(&c.receivedCount, 1)
			}
		}()
	}
	wg.Wait()
}

// runOpenLoop paces requests by an exponential interarrival distribution
// scaled to cfg.Requests requests/sec, capping outstanding in-flight calls
// at 2x the target rate (max_outstanding in the original), since a slow
// server should apply backpressure rather than let goroutines pile up
// unbounded.
func (c *Client) runOpenLoop(ctx context.Context) {
	ratePerSec := float64(c.cfg.Requests)
	meanIntervalSec := 1.0 / ratePerSec

	maxOutstanding := 2 * c.cfg.Requests
	if maxOutstanding < 1 {
		maxOutstanding = 1
	}
	outstanding := make(chan struct{}, maxOutstanding)

	var wg sync.WaitGroup
	next := time.Now()
	for {
		if c.limitReached() {
			break
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		wait := time.Until(next)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				wg.Wait()
				return
			case <-timer.C:
			}
		}
		next = next.Add(time.Duration(c.rng.ExpFloat64() * meanIntervalSec * float64(time.Second)))

		select {
		case outstanding <- struct{}{}:
		default:
			// At the cap: drop this tick's dispatch, matching the
			// original's "sent_count - received_count < max_outstanding"
			// gate, which simply skips sending rather than blocking.
			continue
		}

		atomic.AddUint64(&c.sentCount, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-outstanding }()
			c.execOnce(ctx)
			atomic.AddUint64(&c.receivedCount, 1)
		}()
	}
	wg.Wait()
}

// execOnce builds and sends one Exec RPC, recording its latency (after the
// warm-up has elapsed) and bumping the shared global request counter.
func (c *Client) execOnce(ctx context.Context) {
	api := c.cfg.APIs[c.rng.Intn(len(c.cfg.APIs))]
	req := c.buildRequest(api)

	start := time.Now()
	_, err := c.cfg.Stub.Exec(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		if c.debugLimiter.Allow() {
			c.logger.WithError(err).Warn("exec rpc failed")
		}
		return
	}

	atomic.AddUint64(c.cfg.GlobalCount, 1)
	if time.Since(c.startedAt) > warmUp {
		c.stats.record(uint64(elapsed.Microseconds()))
	}

	if c.cfg.Debug && c.debugLimiter.Allow() {
		c.logger.WithField("api", api).WithField("latency_us", elapsed.Microseconds()).Debug("exec completed")
	}
}

// buildRequest assembles one ExecRequest's otel/hindsight sub-messages per
// spec.md §6: a fresh random trace id, the no-parent span sentinel, a
// head-sampling decision drawn at the configured probability, and the
// hindsight trigger flag always set (the client always asks the server to
// consider firing retroactive-tracing triggers for its own requests).
func (c *Client) buildRequest(api string) *rpcpb.ExecRequest {
	traceIDHex, hindsightTraceID := newTraceID()
	nowUs := uint64(time.Now().UnixMicro())
	interval := uint64(0)
	if c.cfg.IntervalSeconds > 0 {
		interval = nowUs / (uint64(c.cfg.IntervalSeconds) * 1000000)
	}

	return &rpcpb.ExecRequest{
		API:      api,
		Debug:    c.cfg.Debug,
		Interval: interval,
		Otel: &rpcpb.OtelContext{
			TraceIDHex: traceIDHex,
			SpanIDHex:  noParentSpanIDHex,
			Sample:     sampleDecision(c.rng, c.cfg.SamplingProbability),
		},
		Hindsight: &rpcpb.HindsightContext{
			TraceID:     hindsightTraceID,
			SpanID:      0,
			TriggerFlag: true,
		},
	}
}

// Snapshot returns this client's latency stats for the printer.
func (c *Client) Snapshot() snapshot { return c.stats.snapshot() }
