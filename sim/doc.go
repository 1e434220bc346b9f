// Package sim provides the discrete-event dispatch engine for dispatch-sim.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - server.go, request.go: the Server and Request value types and their lifecycles
//   - registry.go: the arena that owns server records, admission control and per-server counters
//   - selection.go: the four selection policies (RR, WRR, DWRR, LC_RR) and their shared state
//   - simulator.go: the virtual clock, dispatch ticks, completions and the control surface
//   - stats.go, metrics.go: the derived summary, the stable Report shape and run counters
//   - bundle.go: YAML scenarios
//
// # Architecture
//
// The engine is single-threaded. Every state change happens either inside an event popped from
// the Simulator's EventQueue or inside a control call (Start, Pause, AddServer, ...) made between
// events. Callers never hold references into engine state: Servers() and Server() return value
// snapshots, and all mutation goes through the Simulator.
//
// Sub-packages:
//   - sim/workload/: inter-arrival samplers (constant cadence, Poisson, Gamma)
//   - sim/trace/: decision trace recording
//
// # Key Interfaces
//
//   - Event: a timestamped unit of work executed against the Simulator
//   - SelectionPolicy: choose one server from the eligible set
//   - workload.ArrivalSampler: time until the next dispatch tick
package sim
