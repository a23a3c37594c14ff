// Command tracebench-client drives load against one service named in a
// topology: a pool of concurrent client goroutines, each its own gRPC
// connection, running closed- or open-loop per the client CLI spec.md §6
// describes.
package main

import (
	"context"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mpi-sws-rg/tracebench/internal/config"
	"github.com/mpi-sws-rg/tracebench/internal/debughttp"
	"github.com/mpi-sws-rg/tracebench/loadgen"
	"github.com/mpi-sws-rg/tracebench/rpcpb"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

func main() {
	defaults, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading environment defaults")
	}

	concurrency := flag.Int("c", defaults.Concurrency, "number of concurrent client threads")
	requests := flag.Int("r", defaults.RequestRate, "closed-loop: outstanding requests per client; open-loop: requests/sec per client")
	openLoop := flag.Bool("o", false, "run as an open-loop client instead of closed-loop")
	limit := flag.Int("l", -1, "requests each client thread submits before exiting; 0 for no limit; -1 for 1 if -d else no limit")
	topologyFile := flag.String("t", "", "topology file (required unless SERV is standalone)")
	addressesFile := flag.String("a", "", "addresses file (required unless SERV is standalone)")
	interval := flag.Int("i", defaults.IntervalSecs, "interval window size in seconds")
	sampling := flag.Float64("s", defaults.SamplingProb, "probability of head-based sampling")
	debug := flag.Bool("d", false, "print debug information")
	flag.Parse()

	if *requests < 1 {
		logrus.Fatalf("must use a positive value for -r; got %d", *requests)
	}
	if flag.NArg() < 1 {
		logrus.Fatal(`expected a service name (or "standalone") as the positional argument`)
	}
	serviceName := flag.Arg(0)

	var topologyJSON, addressesJSON []byte
	if serviceName == "standalone" {
		logrus.Info("using the built-in standalone configuration")
		serviceName = config.StandaloneServiceName
		topologyJSON = []byte(config.StandaloneTopologyJSON)
		addressesJSON = []byte(config.StandaloneAddressesJSON)
	} else {
		if *topologyFile == "" || *addressesFile == "" {
			logrus.Fatal("-t and -a are required unless SERV is \"standalone\"")
		}
		topologyJSON, err = os.ReadFile(*topologyFile)
		if err != nil {
			logrus.WithError(err).Fatal("reading topology file")
		}
		addressesJSON, err = os.ReadFile(*addressesFile)
		if err != nil {
			logrus.WithError(err).Fatal("reading addresses file")
		}
	}

	topo, err := topology.Parse(topologyJSON, addressesJSON, nil)
	if err != nil {
		logrus.WithError(err).Fatal("parsing topology/addresses")
	}
	svc, err := topo.ResolveService(serviceName)
	if err != nil {
		logrus.WithError(err).Fatal("resolving service")
	}
	addrInfo, err := topo.ResolveAddress(serviceName)
	if err != nil {
		logrus.WithError(err).Fatal("resolving address")
	}
	apis := make([]string, 0, len(svc.APIs))
	for name := range svc.APIs {
		apis = append(apis, name)
	}
	if len(apis) == 0 {
		logrus.Fatalf("service %q has no APIs", serviceName)
	}

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	effectiveLimit := *limit
	if effectiveLimit < 0 {
		if *debug {
			effectiveLimit = 1
		} else {
			effectiveLimit = 0
		}
	}

	logger := logrus.WithField("service", serviceName)

	var globalCount uint64
	clients := make([]*loadgen.Client, *concurrency)
	conns := make([]*grpc.ClientConn, *concurrency)
	for i := 0; i < *concurrency; i++ {
		address := addrInfo.Instances[rand.Intn(len(addrInfo.Instances))].DialAddress()
		conn, err := grpc.Dial(address,
			grpc.WithInsecure(),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcpb.CodecName())),
		)
		if err != nil {
			logrus.WithError(err).Fatalf("dialing %s", address)
		}
		conns[i] = conn
		clients[i] = loadgen.NewClient(loadgen.Config{
			ID:                  i,
			Stub:                rpcpb.NewExecClient(conn),
			APIs:                apis,
			Debug:               *debug,
			IntervalSeconds:     *interval,
			OpenLoop:            *openLoop,
			Requests:            *requests,
			SamplingProbability: *sampling,
			Limit:               uint64(effectiveLimit),
			GlobalCount:         &globalCount,
			Logger:              logger,
		})
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	printer := loadgen.NewPrinter(clients, &globalCount, logger)
	go printer.Run()

	var debugServer *http.Server
	if *debug {
		mux := debughttp.NewMux(nil, false)
		debugServer = &http.Server{Addr: defaults.DebugHTTPAddr, Handler: mux}
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("debug http server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}

	if effectiveLimit == 0 {
		logger.Info("press control-c to quit")
	}

	wg.Wait()
	cancel()
	printer.Stop()
	if debugServer != nil {
		debugServer.Shutdown(context.Background())
	}
}
