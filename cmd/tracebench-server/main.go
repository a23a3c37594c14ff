// Command tracebench-server runs one benchmark server process: it binds
// the topology-assigned port for a named service (or the built-in
// "standalone" configuration), serves the Exec RPC through a fixed pool of
// handler goroutines, and optionally exports Hindsight trigger buffers and
// a debug HTTP surface, matching the server CLI spec.md §6 describes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/mpi-sws-rg/tracebench/internal/config"
	"github.com/mpi-sws-rg/tracebench/internal/debughttp"
	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/service"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// triggerFlags collects repeated -f ID:P flags into TriggerConfigs.
type triggerFlags []service.TriggerConfig

func (t *triggerFlags) String() string {
	parts := make([]string, len(*t))
	for i, tr := range *t {
		parts[i] = fmt.Sprintf("%d:%g", tr.QueueID, tr.Probability)
	}
	return strings.Join(parts, ",")
}

func (t *triggerFlags) Set(s string) error {
	idStr, probStr, ok := strings.Cut(s, ":")
	if !ok {
		return errors.Errorf("invalid trigger %q, expected form QUEUEID:PROBABILITY e.g. 7:0.5", s)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return errors.Wrapf(err, "invalid trigger queue id %q", idStr)
	}
	prob, err := strconv.ParseFloat(probStr, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid trigger probability %q", probStr)
	}
	*t = append(*t, service.TriggerConfig{QueueID: id, Probability: prob})
	return nil
}

func main() {
	defaults, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("loading environment defaults")
	}

	threads := flag.Int("c", defaults.Threads, "number of request processing threads")
	tracer := flag.String("x", defaults.Tracer, "tracing backend: none, hindsight, ot-hindsight, ot-jaeger, ot-stdout, ot-noop, ot-local")
	noCompute := flag.Bool("n", false, "disable RPC computation, overriding the topology's exec value")
	debug := flag.Bool("d", false, "turn on debug printing")
	maxOutstanding := flag.Int("m", defaults.MaxOutstanding, "maximum concurrently-executing requests per handler")
	topologyFile := flag.String("t", "", "topology file (required unless SERV is standalone)")
	addressesFile := flag.String("a", "", "addresses file (required unless SERV is standalone)")
	otelHost := flag.String("h", defaults.CollectorHost, "OpenTelemetry collector host, for ot-jaeger")
	otelPort := flag.Int("p", defaults.CollectorPort, "OpenTelemetry collector port, for ot-jaeger")
	simpleSpanProcessor := flag.Bool("s", false, "use the simple span processor instead of the batch processor")
	instanceID := flag.Int("i", 0, "instance id of the assigned service")
	matrixCSV := flag.String("M", "", "matrix-multiply benchmark CSV mapping (m,n,k,time_ms) rows used to resolve each API's exec target to concrete dimensions")
	collectorLog := flag.String("L", "tracebench-server.buffers", "path this agent writes its exported trigger buffers to")
	var triggers triggerFlags
	flag.Var(&triggers, "f", "install a trigger for queue ID with probability P, as ID:P (repeatable)")
	flag.Parse()

	if flag.NArg() < 1 {
		logrus.Fatal(`expected a service name (or "standalone") as the positional argument`)
	}
	serviceName := flag.Arg(0)

	var topologyJSON, addressesJSON []byte
	standalone := serviceName == "standalone"
	if standalone {
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

	var matrixConfigs []topology.MatrixConfig
	if *matrixCSV != "" {
		matrixConfigs, err = config.LoadMatrixCSV(*matrixCSV)
		if err != nil {
			logrus.WithError(err).Fatal("loading matrix benchmark CSV")
		}
	}

	topo, err := topology.Parse(topologyJSON, addressesJSON, matrixConfigs)
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
	if *instanceID < 0 || *instanceID >= len(addrInfo.Instances) {
		logrus.Fatalf("instance id %d out of range for service %q (%d instances)", *instanceID, serviceName, len(addrInfo.Instances))
	}
	instance := addrInfo.Instances[*instanceID]
	breadcrumb := instance.BreadcrumbAddress()

	logger := logrus.WithFields(logrus.Fields{"service": serviceName, "instance_id": *instanceID})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var agent *hindsight.Agent
	if *tracer == "hindsight" || *tracer == "ot-hindsight" {
		agentName := breadcrumb
		if standalone {
			// A standalone fleet running several instances on one host would
			// otherwise collide on the same breadcrumb address as a collector
			// sink map key; disambiguate with a per-process instance id.
			agentName = breadcrumb + "/" + uuid.NewString()
		}
		f, err := os.Create(*collectorLog)
		if err != nil {
			logrus.WithError(err).Fatal("opening collector log for writing")
		}
		defer f.Close()
		agent = hindsight.NewAgent(agentName, hindsight.NewWriterSink(f), 64*1024)
	}

	strategy, shutdownTracing, err := otelpipe.Setup(otelpipe.Config{
		Tracer:              *tracer,
		CollectorHost:       *otelHost,
		CollectorPort:       *otelPort,
		SimpleSpanProcessor: *simpleSpanProcessor,
		ServiceName:         serviceName,
		InstanceID:          *instanceID,
		Agent:               agent,
	})
	if err != nil {
		logrus.WithError(err).Fatal("setting up tracing")
	}
	defer shutdownTracing(context.Background())

	for _, tr := range triggers {
		logger.Infof("trigger %d=%v", tr.QueueID, tr.Probability)
	}

	server := service.NewServerImpl(svc, topo, breadcrumb, strategy, *noCompute, *maxOutstanding, *instanceID, triggers, logger)
	server.Run(*threads)

	grpcServer := grpc.NewServer()
	server.RegisterOn(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", instance.Port))
	if err != nil {
		logrus.WithError(err).Fatal("binding listener")
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.WithError(err).Error("grpc server stopped")
		}
	}()
	logger.Infof("serving on %s", instance.DialAddress())

	var printer *service.DebugPrinter
	var debugServer *http.Server
	if *debug {
		printer = service.NewDebugPrinter(server, 100*time.Millisecond, logger)
		go printer.Run()

		mux := debughttp.NewMux(func() interface{} { return server.Snapshot() }, true)
		debugServer = &http.Server{Addr: defaults.DebugHTTPAddr, Handler: mux}
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("debug http server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	grpcServer.GracefulStop()
	server.Shutdown()
	server.Join()
	if printer != nil {
		printer.Stop()
	}
	if debugServer != nil {
		debugServer.Shutdown(context.Background())
	}
}
