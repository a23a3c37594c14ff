package config

import (
	"strings"
	"testing"

	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMatrixCSVSkipsHeaderAndParsesRows(t *testing.T) {
	csv := "m,n,k,time_ms\n10,10,10,1.5\n20,20,20,3.25\n"
	configs, err := parseMatrixCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, topology.MatrixConfig{TimeMS: 1.5, Dims: topology.MatrixDims{M: 10, N: 10, K: 10}}, configs[0])
	assert.Equal(t, topology.MatrixConfig{TimeMS: 3.25, Dims: topology.MatrixDims{M: 20, N: 20, K: 20}}, configs[1])
}

func TestParseMatrixCSVRejectsBadNumber(t *testing.T) {
	csv := "m,n,k,time_ms\nabc,10,10,1.5\n"
	_, err := parseMatrixCSV(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestStandaloneDocumentsParseAsValidTopology(t *testing.T) {
	topo, err := topology.Parse([]byte(StandaloneTopologyJSON), []byte(StandaloneAddressesJSON), nil)
	require.NoError(t, err)
	svc, err := topo.ResolveService(StandaloneServiceName)
	require.NoError(t, err)
	_, err = svc.GetAPI("root")
	assert.NoError(t, err)
}
