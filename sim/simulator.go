// sim/simulator.go
package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/dispatch-sim/sim/trace"
	"github.com/inference-sim/dispatch-sim/sim/workload"
)

// Arrival rate bounds in requests/second.
const (
	MinArrivalRate = 1
	MaxArrivalRate = 100
)

// RunState is the dispatch driver's lifecycle state.
type RunState string

const (
	RunStateStopped RunState = "stopped"
	RunStateRunning RunState = "running"
	RunStatePaused  RunState = "paused"
)

// ServerSeed is a server the simulator registers on construction and on every Reset.
type ServerSeed struct {
	ServerConfig `yaml:",inline"`
	Active       *bool `yaml:"active"` // nil means active
}

// SimConfig groups everything Reset restores.
type SimConfig struct {
	Algorithm   Algorithm
	ArrivalRate int // requests/second, clamped to [MinArrivalRate, MaxArrivalRate]
	Arrival     workload.ArrivalSpec
	Seed        int64
	Servers     []ServerSeed
	Trace       trace.TraceConfig
}

// DefaultSimConfig returns round robin at 1 req/s over the default servers.
func DefaultSimConfig() SimConfig {
	defaults := DefaultServerConfigs()
	seeds := make([]ServerSeed, len(defaults))
	for i, cfg := range defaults {
		seeds[i] = ServerSeed{ServerConfig: cfg}
	}
	return SimConfig{
		Algorithm:   AlgorithmRoundRobin,
		ArrivalRate: MinArrivalRate,
		Seed:        42,
		Servers:     seeds,
		Trace:       trace.TraceConfig{Level: trace.TraceLevelNone},
	}
}

// ClampArrivalRate bounds n to [MinArrivalRate, MaxArrivalRate].
func ClampArrivalRate(n int) int {
	return min(max(n, MinArrivalRate), MaxArrivalRate)
}

// DispatchResult is the outcome of one dispatch tick.
type DispatchResult struct {
	Request Request
	Server  Server // zero value when no server was eligible
	Outcome trace.Outcome
}

// Simulator is the core object that holds the virtual clock, the server registry,
// the selection engine and the event loop.
//
// Thread-safety: NOT thread-safe. All methods must be called from the same goroutine.
type Simulator struct {
	config SimConfig

	clock  int64 // ms
	events EventQueue

	registry *Registry
	selector *SelectionEngine

	algorithm   Algorithm
	arrivalRate int
	arrivals    workload.ArrivalSampler
	rng         *PartitionedRNG

	state          RunState
	dispatchEpoch  uint64 // bumped whenever pending dispatch ticks must be invalidated
	requestCounter int64

	Metrics *Metrics
	trace   *trace.SimulationTrace
}

// NewSimulator validates cfg and builds a stopped simulator seeded with cfg.Servers.
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmRoundRobin
	}
	if !ValidAlgorithms[cfg.Algorithm] {
		return nil, fmt.Errorf("%w %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if !workload.ValidProcesses[cfg.Arrival.Process] {
		return nil, fmt.Errorf("unknown arrival process %q", cfg.Arrival.Process)
	}
	if _, err := workload.NewArrivalSampler(cfg.Arrival, ClampArrivalRate(cfg.ArrivalRate)); err != nil {
		return nil, err
	}
	if !trace.IsValidTraceLevel(string(cfg.Trace.Level)) {
		return nil, fmt.Errorf("unknown trace level %q", cfg.Trace.Level)
	}
	for i, seed := range cfg.Servers {
		if _, err := seed.Validate(); err != nil {
			return nil, fmt.Errorf("server %d: %w", i, err)
		}
	}
	s := &Simulator{config: cfg}
	s.Reset()
	return s, nil
}

// Reset reinitializes all owned state: clock, events, registry, selection state,
// request counter, metrics and trace. The configured servers are registered again
// and the simulator is left stopped.
func (s *Simulator) Reset() {
	s.clock = 0
	s.events = EventQueue{}
	s.registry = NewRegistry()
	s.selector = NewSelectionEngine(s.registry)
	s.algorithm = s.config.Algorithm
	s.arrivalRate = ClampArrivalRate(s.config.ArrivalRate)
	s.rng = NewPartitionedRNG(NewSimulationKey(s.config.Seed))
	s.arrivals = mustArrivalSampler(s.config.Arrival, s.arrivalRate)
	s.state = RunStateStopped
	s.dispatchEpoch++
	s.requestCounter = 0
	s.Metrics = NewMetrics()
	s.trace = trace.NewSimulationTrace(s.config.Trace)

	for _, seed := range s.config.Servers {
		srv, err := s.AddServer(seed.ServerConfig)
		if err != nil {
			// Seeds are validated by NewSimulator.
			panic(fmt.Sprintf("Simulator.Reset: seed server rejected: %v", err))
		}
		if seed.Active != nil && !*seed.Active {
			_, _ = s.ToggleServer(srv.ID)
		}
	}
	logrus.Debugf("Simulator reset: algorithm=%s rate=%d/s servers=%d", s.algorithm, s.arrivalRate, s.registry.Len())
}

// --- Control surface ---

// Start begins dispatching. The first tick fires one inter-arrival time from now.
// No-op if already running.
func (s *Simulator) Start() {
	if s.state == RunStateRunning {
		return
	}
	s.state = RunStateRunning
	s.dispatchEpoch++
	s.armDispatchTick()
	logrus.Infof("[tick %07d] Dispatch started (%s, %d req/s)", s.clock, s.algorithm, s.arrivalRate)
}

// Pause halts dispatch without clearing stats. In-flight requests keep completing.
// No-op unless running.
func (s *Simulator) Pause() {
	if s.state != RunStateRunning {
		return
	}
	s.state = RunStatePaused
	s.dispatchEpoch++
	logrus.Infof("[tick %07d] Dispatch paused", s.clock)
}

// Stop halts dispatch and clears all stats. Pending completions are discarded:
// the in-flight sets they would release are emptied by the clear.
func (s *Simulator) Stop() {
	s.state = RunStateStopped
	s.dispatchEpoch++
	s.events.Clear()
	s.registry.ClearStats()
	s.Metrics = NewMetrics()
	s.Metrics.SimEndedTime = s.clock
	logrus.Infof("[tick %07d] Dispatch stopped, stats cleared", s.clock)
}

// SetAlgorithm switches the selection policy and pauses dispatch. Stats are kept.
// Unknown names return an error wrapping ErrUnknownAlgorithm and change nothing.
func (s *Simulator) SetAlgorithm(name string) error {
	a, err := ParseAlgorithm(name)
	if err != nil {
		return err
	}
	s.algorithm = a
	s.Pause()
	logrus.Infof("[tick %07d] Algorithm set to %s", s.clock, a.Label())
	return nil
}

// SetArrivalRate sets the arrival rate in requests/second, clamped to
// [MinArrivalRate, MaxArrivalRate], and returns the applied value.
// While running the next tick is re-armed from the current clock.
func (s *Simulator) SetArrivalRate(n int) int {
	s.arrivalRate = ClampArrivalRate(n)
	s.arrivals = mustArrivalSampler(s.config.Arrival, s.arrivalRate)
	if s.state == RunStateRunning {
		s.dispatchEpoch++
		s.armDispatchTick()
	}
	return s.arrivalRate
}

// AddServer registers a server. Validation errors leave the registry untouched.
func (s *Simulator) AddServer(cfg ServerConfig) (Server, error) {
	srv, err := s.registry.AddServer(cfg)
	if err != nil {
		return Server{}, err
	}
	s.selector.Track(srv)
	return srv, nil
}

// RemoveServer deletes a server and its weight credit. Idempotent.
// Its pending completions expire without effect when they fire.
func (s *Simulator) RemoveServer(id ServerID) {
	if s.registry.RemoveServer(id) {
		s.selector.Forget(id)
	}
}

// ToggleServer flips a server's active flag and returns the new value.
func (s *Simulator) ToggleServer(id ServerID) (bool, error) {
	return s.registry.ToggleActive(id)
}

// UpdateServer replaces a server's configuration; same validation as AddServer.
func (s *Simulator) UpdateServer(id ServerID, cfg ServerConfig) (Server, error) {
	srv, err := s.registry.UpdateConfig(id, cfg)
	if err != nil {
		return Server{}, err
	}
	s.selector.Retrack(srv)
	return srv, nil
}

// --- Dispatch driver ---

// Dispatch runs one tick at the current clock: manufacture a request, select a server
// and admit the request onto it. Drops are normal outcomes, not errors.
func (s *Simulator) Dispatch() DispatchResult {
	s.requestCounter++
	req := NewRequest(RequestID(s.requestCounter), s.clock)
	s.Metrics.Dispatched++

	eligible := 0
	if s.trace.Config.Enabled() {
		eligible = len(s.registry.Eligible())
	}

	srv, ok := s.selector.Select(s.algorithm)
	if !ok {
		req.State = StateRejected
		s.Metrics.DroppedNoServer++
		logrus.Debugf("[tick %07d] request %d dropped: no eligible server", s.clock, req.ID)
		return s.recordDispatch(DispatchResult{Request: req, Outcome: trace.OutcomeDroppedNoServer}, eligible)
	}

	admitted, ok := s.registry.Admit(srv.ID, req, s.clock)
	if !ok {
		req.State = StateRejected
		s.Metrics.DroppedFull++
		logrus.Debugf("[tick %07d] request %d dropped: %s refused admission", s.clock, req.ID, srv.ID)
		return s.recordDispatch(DispatchResult{Request: req, Server: srv, Outcome: trace.OutcomeDroppedFull}, eligible)
	}

	s.events.Schedule(&CompletionEvent{time: admitted.DueAt(), request: admitted})
	s.Metrics.Admitted++
	srv, _ = s.registry.Server(srv.ID)
	logrus.Debugf("[tick %07d] request %d -> %s (%d/%d), due at %d", s.clock, req.ID, srv.Name,
		srv.CurrentConnections, srv.MaxConnections, admitted.DueAt())
	return s.recordDispatch(DispatchResult{Request: admitted, Server: srv, Outcome: trace.OutcomeAdmitted}, eligible)
}

func (s *Simulator) recordDispatch(res DispatchResult, eligible int) DispatchResult {
	if s.trace.Config.Enabled() {
		s.trace.RecordDispatch(trace.DispatchRecord{
			RequestID:    int64(res.Request.ID),
			Clock:        s.clock,
			Algorithm:    string(s.algorithm),
			Eligible:     eligible,
			ChosenServer: string(res.Server.ID),
			Outcome:      res.Outcome,
		})
	}
	return res
}

func (s *Simulator) complete(req Request, now int64) {
	done, ok := s.registry.Complete(req, now)
	if ok {
		s.Metrics.Completed++
		logrus.Debugf("[tick %07d] request %d completed on %s", now, done.ID, done.AssignedServer)
	} else {
		s.Metrics.OrphanedCompletions++
		logrus.Debugf("[tick %07d] request %d completion expired: %s no longer holds it", now, req.ID, req.AssignedServer)
	}
	if s.trace.Config.Enabled() {
		s.trace.RecordCompletion(trace.CompletionRecord{
			RequestID: int64(req.ID),
			ServerID:  string(req.AssignedServer),
			Clock:     now,
			Orphaned:  !ok,
		})
	}
}

func (s *Simulator) armDispatchTick() {
	iat := s.arrivals.SampleIAT(s.rng.ForSubsystem(SubsystemArrivals))
	s.events.Schedule(&DispatchTickEvent{time: s.clock + iat, epoch: s.dispatchEpoch})
}

// --- Event loop ---

// HasPendingEvents returns true if any event is queued.
func (s *Simulator) HasPendingEvents() bool {
	return s.events.Len() > 0
}

// PeekNextEventTime returns the timestamp of the earliest pending event.
// Caller MUST check HasPendingEvents() first; panics on empty queue.
func (s *Simulator) PeekNextEventTime() int64 {
	ev := s.events.Peek()
	if ev == nil {
		panic("Simulator.PeekNextEventTime: empty event queue")
	}
	return ev.Timestamp()
}

// ProcessNextEvent pops and executes the earliest event, advancing the clock to it.
// Caller MUST check HasPendingEvents() first; panics on empty queue.
func (s *Simulator) ProcessNextEvent() {
	ev := s.events.PopNext()
	if ev == nil {
		panic("Simulator.ProcessNextEvent: empty event queue")
	}
	if ev.Timestamp() < s.clock {
		panic(fmt.Sprintf("Clock went backwards: %d < %d", ev.Timestamp(), s.clock))
	}
	s.clock = ev.Timestamp()
	s.Metrics.SimEndedTime = s.clock
	logrus.Tracef("[tick %07d] Executing %T", s.clock, ev)
	ev.Execute(s)
}

// AdvanceTo processes every event with timestamp <= t in order, then sets the clock to t.
// Panics if t is before the current clock.
func (s *Simulator) AdvanceTo(t int64) {
	if t < s.clock {
		panic(fmt.Sprintf("Simulator.AdvanceTo: %d is before clock %d", t, s.clock))
	}
	for s.HasPendingEvents() && s.PeekNextEventTime() <= t {
		s.ProcessNextEvent()
	}
	s.clock = t
	s.Metrics.SimEndedTime = t
}

// Advance moves the clock forward by d ms.
func (s *Simulator) Advance(d int64) {
	s.AdvanceTo(s.clock + d)
}

// Drain pauses dispatch and processes every pending completion.
func (s *Simulator) Drain() {
	s.Pause()
	for s.HasPendingEvents() {
		s.ProcessNextEvent()
	}
}

// --- Read surface ---

// Clock returns the current virtual time in ms.
func (s *Simulator) Clock() int64 { return s.clock }

// State returns the dispatch driver's state.
func (s *Simulator) State() RunState { return s.state }

// Algorithm returns the active selection algorithm.
func (s *Simulator) Algorithm() Algorithm { return s.algorithm }

// ArrivalRate returns the arrival rate in requests/second.
func (s *Simulator) ArrivalRate() int { return s.arrivalRate }

// RequestCount returns the number of requests manufactured since the last Reset.
func (s *Simulator) RequestCount() int64 { return s.requestCounter }

// Servers returns server snapshots in insertion order.
func (s *Simulator) Servers() []Server { return s.registry.Servers() }

// Server returns a snapshot of one server.
func (s *Simulator) Server(id ServerID) (Server, bool) { return s.registry.Server(id) }

// SelectionState exposes rotation and weight-credit state for inspection.
func (s *Simulator) SelectionState() *SelectionState { return s.selector.State() }

// Summary derives the aggregate view from current registry state.
func (s *Simulator) Summary() Summary { return Summarize(s.registry.Servers(), s.algorithm) }

// Report derives the stable, serializable report from current registry state.
func (s *Simulator) Report() Report { return BuildReport(s.registry.Servers()) }

// Trace returns the decision trace; empty unless tracing is enabled.
func (s *Simulator) Trace() *trace.SimulationTrace { return s.trace }

// RunID identifies the current run; it changes on Reset.
func (s *Simulator) RunID() string { return s.trace.RunID }

func mustArrivalSampler(spec workload.ArrivalSpec, rate int) workload.ArrivalSampler {
	sampler, err := workload.NewArrivalSampler(spec, rate)
	if err != nil {
		// The arrival process is validated by NewSimulator.
		panic(fmt.Sprintf("arrival sampler: %v", err))
	}
	return sampler
}
