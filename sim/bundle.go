package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/dispatch-sim/sim/trace"
	"github.com/inference-sim/dispatch-sim/sim/workload"
)

// Scenario is a run configuration loadable from a YAML file.
// Nil pointer fields mean "not set in YAML"; they do not override CLI flags.
// String fields use empty string for "not set".
type Scenario struct {
	Algorithm   string               `yaml:"algorithm"`
	ArrivalRate *int                 `yaml:"arrival_rate"`
	Arrival     workload.ArrivalSpec `yaml:"arrival"`
	Seed        *int64               `yaml:"seed"`
	HorizonMs   *int64               `yaml:"horizon_ms"`
	TraceLevel  string               `yaml:"trace_level"`
	Servers     []ServerSeed         `yaml:"servers"`
}

// LoadScenario reads and parses a YAML scenario file. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks names and ranges. Servers are validated with the same rules as AddServer.
func (sc *Scenario) Validate() error {
	if sc.Algorithm != "" {
		if _, err := ParseAlgorithm(sc.Algorithm); err != nil {
			return err
		}
	}
	if sc.ArrivalRate != nil && (*sc.ArrivalRate < MinArrivalRate || *sc.ArrivalRate > MaxArrivalRate) {
		return fmt.Errorf("arrival_rate must be in [%d, %d], got %d", MinArrivalRate, MaxArrivalRate, *sc.ArrivalRate)
	}
	if !workload.ValidProcesses[sc.Arrival.Process] {
		return fmt.Errorf("unknown arrival process %q", sc.Arrival.Process)
	}
	if sc.Arrival.CV != nil && *sc.Arrival.CV <= 0 {
		return fmt.Errorf("arrival cv must be positive, got %f", *sc.Arrival.CV)
	}
	if sc.HorizonMs != nil && *sc.HorizonMs <= 0 {
		return fmt.Errorf("horizon_ms must be positive, got %d", *sc.HorizonMs)
	}
	if !trace.IsValidTraceLevel(sc.TraceLevel) {
		return fmt.Errorf("unknown trace level %q", sc.TraceLevel)
	}
	for i, s := range sc.Servers {
		if _, err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}
	return nil
}

// Apply overlays the fields set in the scenario onto cfg.
// A non-empty server list replaces cfg.Servers.
func (sc *Scenario) Apply(cfg *SimConfig) {
	if sc.Algorithm != "" {
		a, _ := ParseAlgorithm(sc.Algorithm)
		cfg.Algorithm = a
	}
	if sc.ArrivalRate != nil {
		cfg.ArrivalRate = *sc.ArrivalRate
	}
	if sc.Arrival.Process != "" {
		cfg.Arrival.Process = sc.Arrival.Process
	}
	if sc.Arrival.CV != nil {
		cv := *sc.Arrival.CV
		cfg.Arrival.CV = &cv
	}
	if sc.Seed != nil {
		cfg.Seed = *sc.Seed
	}
	if sc.TraceLevel != "" {
		cfg.Trace.Level = trace.TraceLevel(sc.TraceLevel)
	}
	if len(sc.Servers) > 0 {
		cfg.Servers = append([]ServerSeed(nil), sc.Servers...)
	}
}
