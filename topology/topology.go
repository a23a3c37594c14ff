// Package topology models the service/API call graph a benchmark run is
// configured with: which services exist, which APIs each exposes, what
// children each API probabilistically calls, and how a logical outcall to
// a multi-instance service resolves to one concrete address.
package topology

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Instance is one concrete, addressable replica of a service: a gRPC
// dial address plus the breadcrumb address its agent reports as.
type Instance struct {
	Hostname  string
	Port      int
	AgentPort int
}

func (i Instance) DialAddress() string {
	return fmt.Sprintf("%s:%d", i.Hostname, i.Port)
}

func (i Instance) BreadcrumbAddress() string {
	return fmt.Sprintf("%s:%d", i.Hostname, i.AgentPort)
}

// AddressInfo is the resolved address entry for one service name, which
// may expand to several instances when the service is horizontally
// replicated.
type AddressInfo struct {
	Name      string
	Instances []Instance
}

// Outcall describes one edge in the call graph: from the owning API to a
// named (service, api) pair, fired with the given probability (0-100, as
// whole percent, matching the original JSON schema) independently per
// request.
type Outcall struct {
	Service     string
	API         string
	Probability int
}

// MatrixDims is the (m, n, k) matrix-multiply dimension triple an API's
// numeric exec target resolves to via the nearest-time_ms CSV lookup.
type MatrixDims struct {
	M, N, K int
}

// API is one named entry point on a service.
type API struct {
	Name     string
	Exec     float64
	Children []Outcall
	dims     MatrixDims
}

// Dims returns the matrix dimensions this API's target exec time resolved
// to at startup. Parse resolves them when it is given matrix configs;
// otherwise they are all zero.
func (a *API) Dims() MatrixDims { return a.dims }

// ServiceConfig is one service's full API surface.
type ServiceConfig struct {
	Name string
	APIs map[string]*API
}

// GetAPI looks up a named API, matching service.get_api from spec.md §4.2.
func (s *ServiceConfig) GetAPI(name string) (*API, error) {
	api, ok := s.APIs[name]
	if !ok {
		return nil, errors.Errorf("topology: service %q has no api %q", s.Name, name)
	}
	return api, nil
}

// MatrixConfig is one row of the CSV mapping a target exec time (ms) to a
// concrete matrix multiply dimension triple.
type MatrixConfig struct {
	TimeMS float64
	Dims   MatrixDims
}

// Topology is the parsed, validated service/API/address graph for one
// benchmark run.
type Topology struct {
	Services  map[string]*ServiceConfig
	Addresses map[string]*AddressInfo
}

// topologyDoc and addressDoc mirror the JSON schema from spec.md §6:
//   services:[{name, apis:[{name, exec, children:[{service,api,probability}]}]}]
//   addresses:[{name, deploy_addr, port|instances:[{hostname,port,agent_port}], hostname, agent_port}]
type topologyDoc struct {
	Services []struct {
		Name string `json:"name"`
		APIs []struct {
			Name     string  `json:"name"`
			Exec     float64 `json:"exec"`
			Children []struct {
				Service     string `json:"service"`
				API         string `json:"api"`
				Probability int    `json:"probability"`
			} `json:"children"`
		} `json:"apis"`
	} `json:"services"`
}

type addressDoc struct {
	Addresses []struct {
		Name      string `json:"name"`
		Hostname  string `json:"hostname"`
		Port      int    `json:"port"`
		AgentPort int    `json:"agent_port"`
		Instances []struct {
			Hostname  string `json:"hostname"`
			Port      int    `json:"port"`
			AgentPort int    `json:"agent_port"`
		} `json:"instances"`
	} `json:"addresses"`
}

// Parse decodes a topology document and the accompanying address document
// into a Topology, then performs the lookups and cross-validation every
// caller needs at startup: matrix config resolution (if matrixConfigs is
// non-nil) and the §8 structural invariants (every outcall target exists,
// every instance has a nonzero port).
func Parse(topologyJSON, addressesJSON []byte, matrixConfigs []MatrixConfig) (*Topology, error) {
	var tdoc topologyDoc
	if err := json.Unmarshal(topologyJSON, &tdoc); err != nil {
		return nil, errors.Wrap(err, "topology: parsing topology document")
	}
	var adoc addressDoc
	if err := json.Unmarshal(addressesJSON, &adoc); err != nil {
		return nil, errors.Wrap(err, "topology: parsing address document")
	}

	t := &Topology{
		Services:  make(map[string]*ServiceConfig),
		Addresses: make(map[string]*AddressInfo),
	}

	for _, svc := range tdoc.Services {
		sc := &ServiceConfig{Name: svc.Name, APIs: make(map[string]*API)}
		for _, api := range svc.APIs {
			a := &API{Name: api.Name, Exec: api.Exec}
			for _, c := range api.Children {
				a.Children = append(a.Children, Outcall{Service: c.Service, API: c.API, Probability: c.Probability})
			}
			if matrixConfigs != nil {
				a.dims = nearestMatrixConfig(matrixConfigs, api.Exec)
			}
			sc.APIs[api.Name] = a
		}
		t.Services[svc.Name] = sc
	}

	for _, addr := range adoc.Addresses {
		info := &AddressInfo{Name: addr.Name}
		if len(addr.Instances) > 0 {
			for _, inst := range addr.Instances {
				info.Instances = append(info.Instances, Instance{Hostname: inst.Hostname, Port: inst.Port, AgentPort: inst.AgentPort})
			}
		} else {
			info.Instances = []Instance{{Hostname: addr.Hostname, Port: addr.Port, AgentPort: addr.AgentPort}}
		}
		t.Addresses[addr.Name] = info
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ResolveService looks up a service by name, matching resolve_service from
// spec.md §4.2.
func (t *Topology) ResolveService(name string) (*ServiceConfig, error) {
	s, ok := t.Services[name]
	if !ok {
		return nil, errors.Errorf("topology: no such service %q", name)
	}
	return s, nil
}

// ResolveAddress looks up the address entry for a service name.
func (t *Topology) ResolveAddress(name string) (*AddressInfo, error) {
	a, ok := t.Addresses[name]
	if !ok {
		return nil, errors.Errorf("topology: no address entry for service %q", name)
	}
	return a, nil
}

// Validate enforces the structural invariants spec.md assumes hold at
// startup: every outcall names a service with a resolvable address, and
// every configured instance has a usable port. The original implementation
// never checks this and silently misbehaves on a malformed topology; this
// is a supplemented safety net, fatal at startup per spec.md §7(vi).
func (t *Topology) Validate() error {
	for name, svc := range t.Services {
		for apiName, api := range svc.APIs {
			for _, child := range api.Children {
				if _, ok := t.Services[child.Service]; !ok {
					return errors.Errorf("topology: %s.%s references unknown service %q", name, apiName, child.Service)
				}
				if _, ok := t.Addresses[child.Service]; !ok {
					return errors.Errorf("topology: %s.%s references service %q with no address entry", name, apiName, child.Service)
				}
				if child.Probability < 0 || child.Probability > 100 {
					return errors.Errorf("topology: %s.%s -> %s.%s has invalid probability %d", name, apiName, child.Service, child.API, child.Probability)
				}
			}
		}
	}
	for name, info := range t.Addresses {
		if len(info.Instances) == 0 {
			return errors.Errorf("topology: address entry %q has no instances", name)
		}
		for _, inst := range info.Instances {
			if inst.Port == 0 {
				return errors.Errorf("topology: address entry %q has an instance with no port", name)
			}
		}
	}
	return nil
}

// nearestMatrixConfig implements the CSV nearest-time_ms lookup from
// spec.md §3/§4.2: ties (equal distance) resolve to whichever row was
// seen first in the CSV.
func nearestMatrixConfig(configs []MatrixConfig, targetMS float64) MatrixDims {
	best := configs[0]
	bestDist := absDiff(best.TimeMS, targetMS)
	for _, c := range configs[1:] {
		dist := absDiff(c.TimeMS, targetMS)
		if dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best.Dims
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// ResolvedOutcall is a single-instance outcall: a multi-instance Outcall
// with one concrete instance already picked.
type ResolvedOutcall struct {
	Outcall
	Instance Instance
}

// PickInstance resolves a (possibly multi-instance) outcall to a single
// concrete instance, chosen uniformly at random among the target
// service's instances, per spec.md §4.2.
func PickInstance(rng *rand.Rand, t *Topology, oc Outcall) (ResolvedOutcall, error) {
	info, err := t.ResolveAddress(oc.Service)
	if err != nil {
		return ResolvedOutcall{}, err
	}
	idx := 0
	if len(info.Instances) > 1 {
		idx = rng.Intn(len(info.Instances))
	}
	return ResolvedOutcall{Outcall: oc, Instance: info.Instances[idx]}, nil
}
