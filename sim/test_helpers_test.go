package sim

import (
	"testing"

	"github.com/inference-sim/dispatch-sim/sim/trace"
	"github.com/inference-sim/dispatch-sim/sim/workload"
)

func serverCfg(name string, weight, maxConns int, procMs int64) ServerConfig {
	return ServerConfig{Name: name, Weight: weight, MaxConnections: maxConns, ProcessingTimeMs: procMs}
}

func boolPtr(v bool) *bool    { return &v }
func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// newTestSimulator builds a stopped simulator with decision tracing on.
func newTestSimulator(t *testing.T, algorithm Algorithm, rate int, servers ...ServerConfig) *Simulator {
	t.Helper()
	seeds := make([]ServerSeed, len(servers))
	for i, cfg := range servers {
		seeds[i] = ServerSeed{ServerConfig: cfg}
	}
	s, err := NewSimulator(SimConfig{
		Algorithm:   algorithm,
		ArrivalRate: rate,
		Arrival:     workload.ArrivalSpec{Process: workload.ProcessConstant},
		Seed:        42,
		Servers:     seeds,
		Trace:       trace.TraceConfig{Level: trace.TraceLevelDecisions},
	})
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return s
}

// newTestEngine returns a registry holding servers and an engine tracking them.
func newTestEngine(t *testing.T, servers ...ServerConfig) (*Registry, *SelectionEngine, []ServerID) {
	t.Helper()
	r := NewRegistry()
	e := NewSelectionEngine(r)
	ids := make([]ServerID, len(servers))
	for i, cfg := range servers {
		srv, err := r.AddServer(cfg)
		if err != nil {
			t.Fatalf("AddServer(%+v): %v", cfg, err)
		}
		e.Track(srv)
		ids[i] = srv.ID
	}
	return r, e, ids
}

// assertCapacityInvariant checks 0 <= conns <= max and conns == |inFlight| for every server.
func assertCapacityInvariant(t *testing.T, servers []Server) {
	t.Helper()
	for _, s := range servers {
		if s.CurrentConnections < 0 || s.CurrentConnections > s.MaxConnections {
			t.Errorf("%s: connections %d outside [0, %d]", s.ID, s.CurrentConnections, s.MaxConnections)
		}
		if s.CurrentConnections != len(s.InFlight) {
			t.Errorf("%s: connections %d != in-flight %d", s.ID, s.CurrentConnections, len(s.InFlight))
		}
	}
}

// assertConservation checks request accounting for runs without removals or stats clears.
func assertConservation(t *testing.T, s *Simulator) {
	t.Helper()
	var served, inFlight int64
	for _, srv := range s.Servers() {
		served += srv.TotalRequests
		inFlight += int64(srv.CurrentConnections)
	}
	m := s.Metrics
	if served != m.Admitted {
		t.Errorf("sum of totalRequests = %d, admitted = %d", served, m.Admitted)
	}
	if m.Dispatched != m.Admitted+m.Dropped() {
		t.Errorf("dispatched %d != admitted %d + dropped %d", m.Dispatched, m.Admitted, m.Dropped())
	}
	if m.Admitted != m.Completed+inFlight {
		t.Errorf("admitted %d != completed %d + in flight %d", m.Admitted, m.Completed, inFlight)
	}
}

func pickCounts(t *testing.T, e *SelectionEngine, a Algorithm, n int) map[ServerID]int {
	t.Helper()
	counts := make(map[ServerID]int)
	for i := 0; i < n; i++ {
		srv, ok := e.Select(a)
		if !ok {
			t.Fatalf("pick %d: no server selected", i)
		}
		counts[srv.ID]++
	}
	return counts
}
