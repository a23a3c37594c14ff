// Package config holds the envconfig-sourced flag defaults shared by the
// three tracebench binaries, plus the small amount of config-adjacent
// loading (matrix-benchmark CSV, the standalone single-service topology)
// that every binary needs before it can build a topology.Topology.
package config

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/kelseyhightower/envconfig"
	"github.com/mpi-sws-rg/tracebench/topology"
	"github.com/pkg/errors"
)

// Defaults is processed once per binary via envconfig.Process("tracebench",
// &d), then used to seed flag.*Var defaults -- so an operator running a
// fleet of agents can set TRACEBENCH_MAX_OUTSTANDING=200 etc. in the
// environment instead of editing every invocation, and flag.Parse still
// has the final word.
type Defaults struct {
	Threads        int     `envconfig:"threads" default:"4"`
	Tracer         string  `envconfig:"tracer" default:"hindsight"`
	MaxOutstanding int     `envconfig:"max_outstanding" default:"100"`
	CollectorHost  string  `envconfig:"collector_host" default:"localhost"`
	CollectorPort  int     `envconfig:"collector_port" default:"4317"`
	Concurrency    int     `envconfig:"concurrency" default:"1"`
	RequestRate    int     `envconfig:"requests" default:"100"`
	IntervalSecs   int     `envconfig:"interval_seconds" default:"10"`
	SamplingProb   float64 `envconfig:"sampling_probability" default:"1"`
	DebugHTTPAddr  string  `envconfig:"debug_addr" default:":8080"`
}

// Load processes the environment into a Defaults struct, matching
// config_parse.go's envconfig.Process("veneur", &c) call.
func Load() (Defaults, error) {
	var d Defaults
	if err := envconfig.Process("tracebench", &d); err != nil {
		return Defaults{}, errors.Wrap(err, "config: processing environment")
	}
	return d, nil
}

// LoadMatrixCSV reads the (m, n, k, time_ms) rows a -M matrix benchmark CSV
// provides, skipping the header row, matching
// ServiceConfig::generate_matrix_configs's schema.
func LoadMatrixCSV(path string) ([]topology.MatrixConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: opening matrix CSV")
	}
	defer f.Close()
	return parseMatrixCSV(f)
}

func parseMatrixCSV(r io.Reader) ([]topology.MatrixConfig, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "config: reading matrix CSV")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	configs := make([]topology.MatrixConfig, 0, len(rows)-1)
	for _, row := range rows[1:] { // first row is the header
		m, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing matrix CSV m column")
		}
		n, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing matrix CSV n column")
		}
		k, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing matrix CSV k column")
		}
		ms, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing matrix CSV time_ms column")
		}
		configs = append(configs, topology.MatrixConfig{TimeMS: ms, Dims: topology.MatrixDims{M: m, N: n, K: k}})
	}
	return configs, nil
}

// StandaloneServiceName, StandaloneTopologyJSON and StandaloneAddressesJSON
// are the built-in single-service configuration used when SERV is the
// literal "standalone", replacing the original's
// standalone_service_name/standalone_topology_filename/
// standalone_addresses_filename file-based constants with embedded
// documents (this module has no fixed "../config" directory to read from).
const StandaloneServiceName = "service1"

const StandaloneTopologyJSON = `{
  "services": [
    {
      "name": "service1",
      "apis": [
        {"name": "root", "exec": 1.0, "children": []}
      ]
    }
  ]
}`

const StandaloneAddressesJSON = `{
  "addresses": [
    {"name": "service1", "hostname": "127.0.0.1", "port": 50051, "agent_port": 50052}
  ]
}`
