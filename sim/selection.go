package sim

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Algorithm names a server selection policy.
type Algorithm string

const (
	AlgorithmRoundRobin                 Algorithm = "RR"
	AlgorithmWeightedRoundRobin         Algorithm = "WRR"
	AlgorithmDynamicWeightedRoundRobin  Algorithm = "DWRR"
	AlgorithmLeastConnectionsRoundRobin Algorithm = "LC_RR"
)

// ErrUnknownAlgorithm is wrapped when an algorithm name is not recognized.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// ValidAlgorithms is the set of recognized algorithm names.
// Shared by ParseAlgorithm, Scenario.Validate and NewSelectionPolicy.
var ValidAlgorithms = map[Algorithm]bool{
	AlgorithmRoundRobin:                 true,
	AlgorithmWeightedRoundRobin:         true,
	AlgorithmDynamicWeightedRoundRobin:  true,
	AlgorithmLeastConnectionsRoundRobin: true,
}

// AlgorithmNames lists the algorithms in display order.
var AlgorithmNames = []Algorithm{
	AlgorithmRoundRobin,
	AlgorithmWeightedRoundRobin,
	AlgorithmDynamicWeightedRoundRobin,
	AlgorithmLeastConnectionsRoundRobin,
}

// ParseAlgorithm accepts an algorithm name, case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToUpper(strings.TrimSpace(name)))
	if !ValidAlgorithms[a] {
		return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// Label returns the human-readable algorithm name used in reports.
func (a Algorithm) Label() string {
	switch a {
	case AlgorithmRoundRobin:
		return "Round Robin"
	case AlgorithmWeightedRoundRobin:
		return "Weighted Round Robin"
	case AlgorithmDynamicWeightedRoundRobin:
		return "Dynamic Weighted Round Robin"
	case AlgorithmLeastConnectionsRoundRobin:
		return "Least Connections Round Robin"
	default:
		return string(a)
	}
}

// WeightCredit is the per-server counter consumed by the weighted policies.
// Max mirrors the server's effective weight.
type WeightCredit struct {
	Current int
	Max     int
}

// SelectionState is the rotation and weight state shared by all policies.
// It outlives policy switches: changing algorithm does not reset it.
type SelectionState struct {
	RotationIndex int
	credits       map[ServerID]*WeightCredit
	weights       weightWriter
}

type weightWriter interface {
	setWeight(id ServerID, weight int)
}

func newSelectionState(w weightWriter) *SelectionState {
	return &SelectionState{
		credits: make(map[ServerID]*WeightCredit),
		weights: w,
	}
}

// credit returns the server's credit entry, creating {0, weight} if missing.
func (st *SelectionState) credit(s Server) *WeightCredit {
	c, ok := st.credits[s.ID]
	if !ok {
		c = &WeightCredit{Current: 0, Max: s.Weight}
		st.credits[s.ID] = c
	}
	return c
}

// Credit returns a copy of the server's weight credit.
func (st *SelectionState) Credit(id ServerID) (WeightCredit, bool) {
	c, ok := st.credits[id]
	if !ok {
		return WeightCredit{}, false
	}
	return *c, true
}

// SelectionPolicy picks one server from a non-empty eligible set.
// Implementations keep no state of their own; everything lives in SelectionState.
type SelectionPolicy interface {
	Pick(eligible []Server, state *SelectionState) Server
}

// RoundRobin picks E[rotationIndex mod |E|] and advances the index.
// The index is reduced modulo the current eligible count, so churn in the eligible
// set re-maps it onto a different server.
type RoundRobin struct{}

// Pick implements SelectionPolicy for RoundRobin.
func (RoundRobin) Pick(eligible []Server, state *SelectionState) Server {
	return rotate(eligible, state)
}

// WeightedRoundRobin picks the server with the highest positive credit (first wins ties)
// and takes one credit from it. Once every eligible credit is <= 0 all eligible credits
// are replenished to their weight. With no positive credit the first eligible server is
// picked without a decrement.
type WeightedRoundRobin struct{}

// Pick implements SelectionPolicy for WeightedRoundRobin.
func (WeightedRoundRobin) Pick(eligible []Server, state *SelectionState) Server {
	bestIdx := -1
	bestCredit := 0
	for i, s := range eligible {
		if c := state.credit(s); c.Current > bestCredit {
			bestCredit = c.Current
			bestIdx = i
		}
	}

	var chosen Server
	if bestIdx >= 0 {
		chosen = eligible[bestIdx]
		state.credit(chosen).Current--
	} else {
		chosen = eligible[0]
	}

	exhausted := true
	for _, s := range eligible {
		if state.credit(s).Current > 0 {
			exhausted = false
			break
		}
	}
	if exhausted {
		for _, s := range eligible {
			c := state.credit(s)
			c.Current = s.Weight
			c.Max = s.Weight
		}
	}
	return chosen
}

// DynamicWeightedRoundRobin rescales each eligible server's weight by its free capacity,
// round(max(1, originalWeight * (1 - conns/maxConns))), writes it back to the server and
// its credit, then delegates to WeightedRoundRobin.
type DynamicWeightedRoundRobin struct{}

// Pick implements SelectionPolicy for DynamicWeightedRoundRobin.
func (DynamicWeightedRoundRobin) Pick(eligible []Server, state *SelectionState) Server {
	reweighted := make([]Server, len(eligible))
	for i, s := range eligible {
		s.Weight = DynamicWeight(s)
		state.credit(s).Max = s.Weight
		if state.weights != nil {
			state.weights.setWeight(s.ID, s.Weight)
		}
		reweighted[i] = s
	}
	return WeightedRoundRobin{}.Pick(reweighted, state)
}

// DynamicWeight returns the load-adjusted weight of s, in [1, OriginalWeight].
func DynamicWeight(s Server) int {
	free := 1 - float64(s.CurrentConnections)/float64(s.MaxConnections)
	return int(math.Round(math.Max(1, float64(s.OriginalWeight)*free)))
}

// LeastConnectionsRoundRobin restricts the eligible set to the servers with the fewest
// connections and rotates among them with the shared rotation index.
type LeastConnectionsRoundRobin struct{}

// Pick implements SelectionPolicy for LeastConnectionsRoundRobin.
func (LeastConnectionsRoundRobin) Pick(eligible []Server, state *SelectionState) Server {
	minConn := eligible[0].CurrentConnections
	for _, s := range eligible[1:] {
		minConn = min(minConn, s.CurrentConnections)
	}
	least := make([]Server, 0, len(eligible))
	for _, s := range eligible {
		if s.CurrentConnections == minConn {
			least = append(least, s)
		}
	}
	return rotate(least, state)
}

func rotate(candidates []Server, state *SelectionState) Server {
	idx := state.RotationIndex % len(candidates)
	state.RotationIndex = (idx + 1) % len(candidates)
	return candidates[idx]
}

// NewSelectionPolicy creates a selection policy by name.
// Valid names are defined in ValidAlgorithms. Panics on unrecognized names.
func NewSelectionPolicy(a Algorithm) SelectionPolicy {
	if !ValidAlgorithms[a] {
		panic(fmt.Sprintf("unknown selection algorithm %q", a))
	}
	switch a {
	case AlgorithmRoundRobin:
		return RoundRobin{}
	case AlgorithmWeightedRoundRobin:
		return WeightedRoundRobin{}
	case AlgorithmDynamicWeightedRoundRobin:
		return DynamicWeightedRoundRobin{}
	case AlgorithmLeastConnectionsRoundRobin:
		return LeastConnectionsRoundRobin{}
	default:
		panic(fmt.Sprintf("unhandled selection algorithm %q", a))
	}
}

// SelectionEngine runs a policy over the registry's eligible set.
type SelectionEngine struct {
	registry *Registry
	state    *SelectionState
	policies map[Algorithm]SelectionPolicy
}

// NewSelectionEngine creates an engine bound to registry.
func NewSelectionEngine(registry *Registry) *SelectionEngine {
	e := &SelectionEngine{
		registry: registry,
		policies: make(map[Algorithm]SelectionPolicy, len(AlgorithmNames)),
	}
	for _, a := range AlgorithmNames {
		e.policies[a] = NewSelectionPolicy(a)
	}
	e.Reset()
	return e
}

// Track initializes the weight credit of a newly added server to {0, weight}.
func (e *SelectionEngine) Track(s Server) {
	e.state.credits[s.ID] = &WeightCredit{Current: 0, Max: s.Weight}
}

// Retrack points the server's weight credit at its new weight, capping any
// unspent credit at that weight.
func (e *SelectionEngine) Retrack(s Server) {
	c := e.state.credit(s)
	c.Max = s.Weight
	c.Current = min(c.Current, s.Weight)
}

// Forget drops the weight credit of a removed server.
func (e *SelectionEngine) Forget(id ServerID) {
	delete(e.state.credits, id)
}

// Reset clears the rotation index and all weight credits.
func (e *SelectionEngine) Reset() {
	e.state = newSelectionState(e.registry)
}

// State exposes the shared selection state for inspection.
func (e *SelectionEngine) State() *SelectionState {
	return e.state
}

// Select picks a server with the given algorithm. Returns false when no server can
// accept a request; that is a dropped request, not an error.
func (e *SelectionEngine) Select(a Algorithm) (Server, bool) {
	policy, ok := e.policies[a]
	if !ok {
		panic(fmt.Sprintf("SelectionEngine.Select: unknown algorithm %q", a))
	}
	eligible := e.registry.Eligible()
	if len(eligible) == 0 {
		return Server{}, false
	}
	chosen := policy.Pick(eligible, e.state)
	// DWRR may have rewritten the weight; return the registry's view.
	if fresh, ok := e.registry.Server(chosen.ID); ok {
		return fresh, true
	}
	return chosen, true
}
