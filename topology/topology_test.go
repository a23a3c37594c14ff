package topology

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTopology = `{
  "services": [
    {"name": "a", "apis": [{"name": "root", "exec": 5.0, "children": [
      {"service": "b", "api": "leaf", "probability": 50},
      {"service": "c", "api": "leaf", "probability": 50}
    ]}]},
    {"name": "b", "apis": [{"name": "leaf", "exec": 1.0, "children": []}]},
    {"name": "c", "apis": [{"name": "leaf", "exec": 1.0, "children": []}]}
  ]
}`

const sampleAddresses = `{
  "addresses": [
    {"name": "a", "hostname": "localhost", "port": 9001, "agent_port": 9101},
    {"name": "b", "hostname": "localhost", "port": 9002, "agent_port": 9102},
    {"name": "c", "instances": [
      {"hostname": "host1", "port": 9003, "agent_port": 9103},
      {"hostname": "host2", "port": 9004, "agent_port": 9104}
    ]}
  ]
}`

func TestParseAndResolve(t *testing.T) {
	topo, err := Parse([]byte(sampleTopology), []byte(sampleAddresses), nil)
	require.NoError(t, err)

	svc, err := topo.ResolveService("a")
	require.NoError(t, err)
	api, err := svc.GetAPI("root")
	require.NoError(t, err)
	assert.Len(t, api.Children, 2)

	_, err = topo.ResolveService("nope")
	assert.Error(t, err)
}

func TestMultiInstancePickIsUniform(t *testing.T) {
	topo, err := Parse([]byte(sampleTopology), []byte(sampleAddresses), nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		ro, err := PickInstance(rng, topo, Outcall{Service: "c", API: "leaf", Probability: 100})
		require.NoError(t, err)
		seen[ro.Instance.Hostname]++
	}
	assert.Len(t, seen, 2)
}

func TestValidateRejectsUnknownChildService(t *testing.T) {
	badTopology := `{"services":[{"name":"a","apis":[{"name":"root","exec":1.0,"children":[{"service":"ghost","api":"x","probability":10}]}]}]}`
	_, err := Parse([]byte(badTopology), []byte(sampleAddresses), nil)
	assert.Error(t, err)
}

func TestNearestMatrixConfig(t *testing.T) {
	configs := []MatrixConfig{
		{TimeMS: 1.0, Dims: MatrixDims{M: 10, N: 10, K: 10}},
		{TimeMS: 5.0, Dims: MatrixDims{M: 50, N: 50, K: 50}},
		{TimeMS: 10.0, Dims: MatrixDims{M: 100, N: 100, K: 100}},
	}
	assert.Equal(t, MatrixDims{M: 50, N: 50, K: 50}, nearestMatrixConfig(configs, 4.0))
	assert.Equal(t, MatrixDims{M: 10, N: 10, K: 10}, nearestMatrixConfig(configs, 0.0))
}
