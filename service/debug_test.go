package service

import (
	"testing"
	"time"

	"github.com/mpi-sws-rg/tracebench/otelpipe"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugPrinterSamplesEveryHandler(t *testing.T) {
	svc := &topology.ServiceConfig{Name: "svc", APIs: map[string]*topology.API{}}
	topo := &topology.Topology{Services: map[string]*topology.ServiceConfig{"svc": svc}}
	logger := logrus.NewEntry(logrus.New())

	server := NewServerImpl(svc, topo, "local:1", otelpipe.NoTracing{}, true, 100, 0, nil, logger)
	server.Run(2)
	defer server.Shutdown()

	printer := NewDebugPrinter(server, 10*time.Millisecond, logger)
	snaps := server.Snapshot()
	require.Len(t, snaps, 2)

	printer.sample() // exercises the gauge/log path directly, no need to Run a goroutine
	assert.False(t, snaps[0].Draining)
}
