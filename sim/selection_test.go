package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
		ok   bool
	}{
		{"RR", AlgorithmRoundRobin, true},
		{"wrr", AlgorithmWeightedRoundRobin, true},
		{" DWRR ", AlgorithmDynamicWeightedRoundRobin, true},
		{"lc_rr", AlgorithmLeastConnectionsRoundRobin, true},
		{"random", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, err := ParseAlgorithm(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.ErrorIs(t, err, ErrUnknownAlgorithm, tc.in)
		}
	}
}

func TestNewSelectionPolicy_UnknownName_Panics(t *testing.T) {
	assert.Panics(t, func() { NewSelectionPolicy("least-loaded") })
}

func TestSelect_EmptyEligibleSet_ReturnsNoServer(t *testing.T) {
	r, e, ids := newTestEngine(t, serverCfg("a", 1, 1, 100))
	_, _ = r.ToggleActive(ids[0])

	for _, a := range AlgorithmNames {
		_, ok := e.Select(a)
		assert.False(t, ok, "algorithm %s", a)
	}
}

func TestRoundRobin_EachServerOncePerRotation(t *testing.T) {
	// GIVEN three idle servers
	_, e, ids := newTestEngine(t,
		serverCfg("s1", 3, 5, 100), serverCfg("s2", 2, 5, 100), serverCfg("s3", 1, 5, 100))

	// WHEN selecting k*10 times
	var order []ServerID
	for i := 0; i < 30; i++ {
		srv, ok := e.Select(AlgorithmRoundRobin)
		require.True(t, ok)
		order = append(order, srv.ID)
	}

	// THEN every window of k consecutive picks covers each server exactly once
	for start := 0; start+3 <= len(order); start++ {
		window := map[ServerID]bool{}
		for _, id := range order[start : start+3] {
			window[id] = true
		}
		if len(window) != 3 {
			t.Fatalf("window at %d = %v, want all three servers", start, order[start:start+3])
		}
	}
	assert.Equal(t, ids, order[:3], "rotation follows insertion order")
}

func TestRoundRobin_SkipsIneligibleServers(t *testing.T) {
	r, e, ids := newTestEngine(t,
		serverCfg("s1", 1, 5, 100), serverCfg("s2", 1, 5, 100), serverCfg("s3", 1, 5, 100))
	_, _ = r.ToggleActive(ids[1])

	counts := pickCounts(t, e, AlgorithmRoundRobin, 10)
	assert.Equal(t, 5, counts[ids[0]])
	assert.Equal(t, 0, counts[ids[1]])
	assert.Equal(t, 5, counts[ids[2]])
}

func TestWeightedRoundRobin_FirstPickPrimesCredits(t *testing.T) {
	// GIVEN freshly tracked servers, whose credits start at zero
	_, e, ids := newTestEngine(t, serverCfg("s1", 3, 9, 100), serverCfg("s2", 2, 9, 100))

	// WHEN the first pick finds no positive credit
	srv, ok := e.Select(AlgorithmWeightedRoundRobin)
	require.True(t, ok)

	// THEN the first eligible server is chosen and every credit is replenished to its weight
	assert.Equal(t, ids[0], srv.ID)
	c1, _ := e.State().Credit(ids[0])
	c2, _ := e.State().Credit(ids[1])
	assert.Equal(t, WeightCredit{Current: 3, Max: 3}, c1)
	assert.Equal(t, WeightCredit{Current: 2, Max: 2}, c2)
}

func TestWeightedRoundRobin_CycleOrderAndTieBreak(t *testing.T) {
	_, e, ids := newTestEngine(t,
		serverCfg("s1", 3, 9, 100), serverCfg("s2", 2, 9, 100), serverCfg("s3", 1, 9, 100))
	e.Select(AlgorithmWeightedRoundRobin) // prime

	var order []ServerID
	for i := 0; i < 6; i++ {
		srv, _ := e.Select(AlgorithmWeightedRoundRobin)
		order = append(order, srv.ID)
	}

	// Credits 3,2,1: s1 wins, then s1 beats s2 on a 2-2 tie by position, and so on.
	want := []ServerID{ids[0], ids[0], ids[1], ids[0], ids[1], ids[2]}
	assert.Equal(t, want, order)
}

func TestWeightedRoundRobin_TwoFullCyclesMatchWeights(t *testing.T) {
	// GIVEN weights 3,2,1 at zero load
	_, e, ids := newTestEngine(t,
		serverCfg("S1", 3, 9, 100), serverCfg("S2", 2, 9, 100), serverCfg("S3", 1, 9, 100))
	e.Select(AlgorithmWeightedRoundRobin) // prime

	// WHEN running two replenishment cycles
	for cycle := 0; cycle < 2; cycle++ {
		counts := pickCounts(t, e, AlgorithmWeightedRoundRobin, 6)

		// THEN each cycle yields exactly {S1:3, S2:2, S3:1}
		assert.Equal(t, map[ServerID]int{ids[0]: 3, ids[1]: 2, ids[2]: 1}, counts, "cycle %d", cycle)
	}

	// AND a third replenishment has just happened
	for i, w := range []int{3, 2, 1} {
		c, _ := e.State().Credit(ids[i])
		assert.Equal(t, w, c.Current)
	}
}

func TestWeightedRoundRobin_RatioOverManyCycles(t *testing.T) {
	_, e, ids := newTestEngine(t,
		serverCfg("a", 5, 9, 100), serverCfg("b", 1, 9, 100), serverCfg("c", 4, 9, 100))
	e.Select(AlgorithmWeightedRoundRobin)

	counts := pickCounts(t, e, AlgorithmWeightedRoundRobin, 10*10)
	assert.Equal(t, 50, counts[ids[0]])
	assert.Equal(t, 10, counts[ids[1]])
	assert.Equal(t, 40, counts[ids[2]])
}

func TestDynamicWeight_Table(t *testing.T) {
	tests := []struct {
		orig, conns, max int
		want             int
	}{
		{3, 0, 5, 3},
		{3, 4, 5, 1}, // 0.6 floors to 1
		{5, 1, 4, 4}, // 3.75 rounds up
		{2, 1, 4, 2}, // 1.5 rounds half away from zero
		{10, 9, 10, 1},
		{1, 0, 1, 1},
	}
	for _, tc := range tests {
		s := Server{OriginalWeight: tc.orig, CurrentConnections: tc.conns, MaxConnections: tc.max}
		if got := DynamicWeight(s); got != tc.want {
			t.Errorf("DynamicWeight(orig=%d, %d/%d) = %d, want %d", tc.orig, tc.conns, tc.max, got, tc.want)
		}
	}
}

func TestDynamicWeight_BoundedAndMonotoneInLoad(t *testing.T) {
	for orig := 1; orig <= 10; orig++ {
		for max := 1; max <= 10; max++ {
			prev := orig + 1
			for conns := 0; conns < max; conns++ {
				w := DynamicWeight(Server{OriginalWeight: orig, CurrentConnections: conns, MaxConnections: max})
				if w < 1 || w > orig {
					t.Fatalf("orig=%d conns=%d max=%d: weight %d outside [1, %d]", orig, conns, max, w, orig)
				}
				if w > prev {
					t.Fatalf("orig=%d max=%d: weight rose from %d to %d as load grew", orig, max, prev, w)
				}
				prev = w
			}
		}
	}
}

func TestDynamicWeightedRoundRobin_WritesWeightBack(t *testing.T) {
	// GIVEN a server with weight 4 holding half its capacity
	r, e, ids := newTestEngine(t, serverCfg("busy", 4, 4, 100), serverCfg("idle", 4, 4, 100))
	_, _ = r.Admit(ids[0], NewRequest(1, 0), 0)
	_, _ = r.Admit(ids[0], NewRequest(2, 0), 0)

	// WHEN DWRR selects
	_, ok := e.Select(AlgorithmDynamicWeightedRoundRobin)
	require.True(t, ok)

	// THEN the registry weight and credit max follow the load, the baseline does not
	busy, _ := r.Server(ids[0])
	idle, _ := r.Server(ids[1])
	assert.Equal(t, 2, busy.Weight)
	assert.Equal(t, 4, busy.OriginalWeight)
	assert.Equal(t, 4, idle.Weight)
	c, _ := e.State().Credit(ids[0])
	assert.Equal(t, 2, c.Max)
}

func TestDynamicWeightedRoundRobin_FavoursLessLoadedServer(t *testing.T) {
	r, e, ids := newTestEngine(t, serverCfg("busy", 4, 8, 100), serverCfg("idle", 4, 8, 100))
	for i := 0; i < 6; i++ {
		_, _ = r.Admit(ids[0], NewRequest(RequestID(i+1), 0), 0)
	}

	e.Select(AlgorithmDynamicWeightedRoundRobin) // prime
	counts := pickCounts(t, e, AlgorithmDynamicWeightedRoundRobin, 5)

	// busy weight = round(4 * 2/8) = 1, idle weight = 4
	assert.Equal(t, 1, counts[ids[0]])
	assert.Equal(t, 4, counts[ids[1]])
}

func TestLeastConnectionsRoundRobin_AlwaysPicksMinimum(t *testing.T) {
	// GIVEN servers with 2, 0, 1, 0 connections
	r, e, ids := newTestEngine(t,
		serverCfg("a", 1, 5, 100), serverCfg("b", 1, 5, 100), serverCfg("c", 1, 5, 100), serverCfg("d", 1, 5, 100))
	next := RequestID(0)
	admit := func(id ServerID) {
		next++
		_, ok := r.Admit(id, NewRequest(next, 0), 0)
		require.True(t, ok)
	}
	admit(ids[0])
	admit(ids[0])
	admit(ids[2])

	// WHEN selecting and admitting repeatedly
	for i := 0; i < 12; i++ {
		before := r.Eligible()
		minConn := before[0].CurrentConnections
		for _, s := range before {
			minConn = min(minConn, s.CurrentConnections)
		}
		srv, ok := e.Select(AlgorithmLeastConnectionsRoundRobin)
		require.True(t, ok)

		// THEN the chosen server had the minimum connection count at selection time
		if srv.CurrentConnections != minConn {
			t.Fatalf("pick %d: chose %s with %d connections, minimum was %d", i, srv.Name, srv.CurrentConnections, minConn)
		}
		admit(srv.ID)
	}
	assertCapacityInvariant(t, r.Servers())
}

func TestLeastConnectionsRoundRobin_RotatesAmongTies(t *testing.T) {
	r, e, ids := newTestEngine(t, serverCfg("a", 1, 5, 100), serverCfg("b", 1, 5, 100), serverCfg("c", 1, 5, 100))
	_, _ = r.Admit(ids[0], NewRequest(1, 0), 0)

	var order []ServerID
	for i := 0; i < 4; i++ {
		srv, _ := e.Select(AlgorithmLeastConnectionsRoundRobin)
		order = append(order, srv.ID)
	}
	assert.Equal(t, []ServerID{ids[1], ids[2], ids[1], ids[2]}, order)
}

func TestSelectionState_SurvivesAlgorithmSwitch(t *testing.T) {
	_, e, _ := newTestEngine(t, serverCfg("a", 2, 5, 100), serverCfg("b", 1, 5, 100))
	e.Select(AlgorithmRoundRobin)
	require.Equal(t, 1, e.State().RotationIndex)

	e.Select(AlgorithmWeightedRoundRobin)
	assert.Equal(t, 1, e.State().RotationIndex, "WRR does not touch the rotation index")

	srv, _ := e.Select(AlgorithmRoundRobin)
	assert.Equal(t, "b", srv.Name)
}

func TestSelectionEngine_ForgetDropsCredit(t *testing.T) {
	_, e, ids := newTestEngine(t, serverCfg("a", 2, 5, 100))
	_, ok := e.State().Credit(ids[0])
	require.True(t, ok)

	e.Forget(ids[0])
	_, ok = e.State().Credit(ids[0])
	assert.False(t, ok)
}
