package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/inference-sim/dispatch-sim/sim"
	"github.com/inference-sim/dispatch-sim/sim/trace"
	"github.com/inference-sim/dispatch-sim/sim/workload"
)

// newTestCommand builds a throwaway command carrying the simulator flags, parsed from args.
func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	registerSimFlags(c.Flags())
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func resolve(t *testing.T, args ...string) (sim.SimConfig, error) {
	t.Helper()
	c := newTestCommand(t, args...)
	v, err := newViper(c)
	require.NoError(t, err)
	cfg, _, err := resolveSimConfig(c, v)
	return cfg, err
}

func TestParseServerSpec(t *testing.T) {
	cfg, err := parseServerSpec("edge:a:3:5:800")
	require.NoError(t, err)
	assert.Equal(t, sim.ServerConfig{Name: "edge:a", Weight: 3, MaxConnections: 5, ProcessingTimeMs: 800}, cfg)

	bad := []string{
		"edge:3:5",          // too few fields
		"edge:x:5:800",      // weight not numeric
		"edge:3:five:800",   // capacity not numeric
		"edge:3:5:soon",     // processing time not numeric
		" :3:5:800",         // blank name
		"edge:0:5:800",      // weight below 1
		"edge:3:0:800",      // zero capacity
		"edge:3:5:0",        // zero processing time
	}
	for _, spec := range bad {
		_, err := parseServerSpec(spec)
		assert.Error(t, err, spec)
	}
}

func TestResolveSimConfig_DefaultsWhenNothingSet(t *testing.T) {
	cfg, err := resolve(t)
	require.NoError(t, err)

	assert.Equal(t, sim.DefaultSimConfig(), cfg)
}

func TestResolveSimConfig_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := resolve(t,
		"--algorithm", "lc_rr",
		"--rate", "40",
		"--arrival-process", "gamma",
		"--arrival-cv", "2",
		"--seed", "7",
		"--trace-level", "decisions",
		"--server", "a:2:3:100",
		"--server", "b:1:1:200",
	)
	require.NoError(t, err)

	assert.Equal(t, sim.AlgorithmLeastConnectionsRoundRobin, cfg.Algorithm)
	assert.Equal(t, 40, cfg.ArrivalRate)
	assert.Equal(t, workload.ProcessGamma, cfg.Arrival.Process)
	require.NotNil(t, cfg.Arrival.CV)
	assert.Equal(t, 2.0, *cfg.Arrival.CV)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, trace.TraceLevelDecisions, cfg.Trace.Level)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "b", cfg.Servers[1].Name)
}

func TestResolveSimConfig_RejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"--algorithm", "random"},
		{"--trace-level", "verbose"},
		{"--server", "broken"},
	} {
		_, err := resolve(t, args...)
		assert.Error(t, err, "%v", args)
	}
}

func TestResolveSimConfig_Precedence_FlagOverEnvOverScenario(t *testing.T) {
	// GIVEN a scenario setting algorithm, rate and seed
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("algorithm: WRR\narrival_rate: 10\nseed: 3\n"), 0o644))

	// AND the environment overriding rate and seed
	t.Setenv("DISPATCH_SIM_RATE", "20")
	t.Setenv("DISPATCH_SIM_SEED", "5")

	// WHEN a flag overrides the seed again
	cfg, err := resolve(t, "--scenario", path, "--seed", "9")
	require.NoError(t, err)

	// THEN each field comes from the highest layer that set it
	assert.Equal(t, sim.AlgorithmWeightedRoundRobin, cfg.Algorithm, "scenario")
	assert.Equal(t, 20, cfg.ArrivalRate, "environment")
	assert.Equal(t, int64(9), cfg.Seed, "flag")
}

func TestResolveSimConfig_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("arrival_rate: 500\n"), 0o644))

	_, err := resolve(t, "--scenario", path)
	assert.Error(t, err)
}

func TestCommands_Registered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "live")
	assert.NotNil(t, runCmd.Flags().Lookup("horizon"))
	assert.NotNil(t, liveCmd.Flags().Lookup("refresh"))
	assert.NotNil(t, liveCmd.Flags().Lookup("algorithm"))
}

func TestResolveSimConfig_RateIsClamped(t *testing.T) {
	cfg, err := resolve(t, "--rate", "0")
	require.NoError(t, err)
	assert.Equal(t, sim.MinArrivalRate, cfg.ArrivalRate)

	cfg, err = resolve(t, "--rate", "250")
	require.NoError(t, err)
	assert.Equal(t, sim.MaxArrivalRate, cfg.ArrivalRate)
}

func TestResolveSimConfig_ServersFromEnvironment(t *testing.T) {
	// GIVEN two servers in the environment
	t.Setenv("DISPATCH_SIM_SERVER", "edge a:2:3:100;edge b:1:1:200")

	// WHEN no --server flag is given
	cfg, err := resolve(t)
	require.NoError(t, err)

	// THEN the environment list replaces the defaults
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "edge a", cfg.Servers[0].Name)
	assert.Equal(t, 1, cfg.Servers[1].MaxConnections)

	// AND a --server flag still wins
	cfg, err = resolve(t, "--server", "solo:1:1:10")
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "solo", cfg.Servers[0].Name)

	// AND a malformed entry is an error
	t.Setenv("DISPATCH_SIM_SERVER", "edge a:2:3:100;broken")
	_, err = resolve(t)
	assert.Error(t, err)
}
