package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	sim "github.com/inference-sim/dispatch-sim/sim"
	"github.com/inference-sim/dispatch-sim/sim/trace"
)

// Every flag can also be set through the environment as DISPATCH_SIM_<FLAG>,
// with dashes turned into underscores. Flags win over the environment,
// the environment wins over --scenario. DISPATCH_SIM_SERVER takes several
// servers separated by semicolons.
const (
	envPrefix  = "DISPATCH_SIM"
	envListSep = ";"
)

var (
	// Simulation flags shared by run and live
	seed           int64    // Seed for the arrival process
	logLevel       string   // Log verbosity level
	algorithm      string   // Selection algorithm
	arrivalRate    int      // Requests per second
	arrivalProcess string   // Arrival process: constant, poisson or gamma
	arrivalCV      float64  // Coefficient of variation for gamma arrivals
	scenarioPath   string   // YAML scenario file
	serverSpecs    []string // name:weight:maxConnections:processingTimeMs
	traceLevel     string   // Decision trace level

	// run-only flags
	simulationHorizon int64  // Virtual time to simulate (ms)
	resultsPath       string // File to save results JSON to
	drain             bool   // Finish in-flight requests after the horizon
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dispatch-sim",
	Short: "Discrete-event simulator for load-balancer dispatch policies",
}

// runCmd runs the simulation for a fixed virtual horizon and prints the report
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a dispatch simulation",
	Run: func(cmd *cobra.Command, args []string) {
		v, err := newViper(cmd)
		if err != nil {
			logrus.Fatalf("binding flags: %v", err)
		}
		setupLogging(v)

		cfg, sc, err := resolveSimConfig(cmd, v)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		horizon := v.GetInt64("horizon")
		if !v.IsSet("horizon") && sc != nil && sc.HorizonMs != nil {
			horizon = *sc.HorizonMs
		}
		if horizon <= 0 {
			logrus.Fatalf("--horizon must be positive, got %d", horizon)
		}

		s, err := sim.NewSimulator(cfg)
		if err != nil {
			logrus.Fatalf("creating simulator: %v", err)
		}
		logrus.Infof("Starting simulation: algorithm=%s rate=%d/s process=%q servers=%d horizon=%dms seed=%d",
			s.Algorithm(), s.ArrivalRate(), cfg.Arrival.Process, len(s.Servers()), horizon, cfg.Seed)

		s.Start()
		s.AdvanceTo(horizon)
		if v.GetBool("drain") {
			s.Drain()
		}
		s.Metrics.Print(s.Summary())

		if cfg.Trace.Enabled() {
			printTraceSummary(trace.Summarize(s.Trace()))
		}
		if path := v.GetString("results-path"); path != "" {
			if err := s.Metrics.SaveResults(s.RunID(), s.Algorithm(), s.Report(), path); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	registerSimFlags(runCmd.Flags())
	runCmd.Flags().Int64Var(&simulationHorizon, "horizon", 60_000, "Virtual time to simulate (ms)")
	runCmd.Flags().StringVar(&resultsPath, "results-path", "", "Save results JSON to this file")
	runCmd.Flags().BoolVar(&drain, "drain", false, "Pause at the horizon and let in-flight requests complete before reporting")

	registerSimFlags(liveCmd.Flags())
	liveCmd.Flags().DurationVar(&refreshInterval, "refresh", defaultRefresh, "Wall-clock refresh interval; the virtual clock advances by the same amount")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(liveCmd)
}

// registerSimFlags adds the flags that shape the simulator itself.
func registerSimFlags(fs *pflag.FlagSet) {
	fs.Int64Var(&seed, "seed", 42, "Seed for the arrival process")
	fs.StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	fs.StringVar(&algorithm, "algorithm", string(sim.AlgorithmRoundRobin), "Selection algorithm (RR, WRR, DWRR, LC_RR)")
	fs.IntVar(&arrivalRate, "rate", sim.MinArrivalRate, fmt.Sprintf("Requests per second [%d, %d]", sim.MinArrivalRate, sim.MaxArrivalRate))
	fs.StringVar(&arrivalProcess, "arrival-process", "constant", "Arrival process (constant, poisson, gamma)")
	fs.Float64Var(&arrivalCV, "arrival-cv", 1.0, "Coefficient of variation for gamma arrivals")
	fs.StringVar(&scenarioPath, "scenario", "", "Path to a YAML scenario file")
	fs.StringArrayVar(&serverSpecs, "server", nil, "Server as name:weight:maxConnections:processingTimeMs (repeatable; replaces the defaults)")
	fs.StringVar(&traceLevel, "trace-level", string(trace.TraceLevelNone), "Decision trace level (none, decisions)")
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func setupLogging(v *viper.Viper) {
	level, err := logrus.ParseLevel(v.GetString("log"))
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", v.GetString("log"))
	}
	logrus.SetLevel(level)
}

// resolveSimConfig layers defaults, the scenario file, the environment and flags.
// The loaded scenario is returned so callers can read run-only settings from it.
func resolveSimConfig(cmd *cobra.Command, v *viper.Viper) (sim.SimConfig, *sim.Scenario, error) {
	cfg := sim.DefaultSimConfig()

	var sc *sim.Scenario
	if path := v.GetString("scenario"); path != "" {
		loaded, err := sim.LoadScenario(path)
		if err != nil {
			return cfg, nil, err
		}
		if err := loaded.Validate(); err != nil {
			return cfg, nil, fmt.Errorf("invalid scenario %s: %w", path, err)
		}
		loaded.Apply(&cfg)
		sc = loaded
	}

	if v.IsSet("algorithm") {
		a, err := sim.ParseAlgorithm(v.GetString("algorithm"))
		if err != nil {
			return cfg, nil, err
		}
		cfg.Algorithm = a
	}
	if v.IsSet("rate") {
		rate := v.GetInt("rate")
		cfg.ArrivalRate = sim.ClampArrivalRate(rate)
		if cfg.ArrivalRate != rate {
			logrus.Warnf("--rate %d clamped to %d", rate, cfg.ArrivalRate)
		}
	}
	if v.IsSet("arrival-process") {
		cfg.Arrival.Process = v.GetString("arrival-process")
	}
	if v.IsSet("arrival-cv") {
		cv := v.GetFloat64("arrival-cv")
		cfg.Arrival.CV = &cv
	}
	if v.IsSet("seed") {
		cfg.Seed = v.GetInt64("seed")
	}
	if v.IsSet("trace-level") {
		level := v.GetString("trace-level")
		if !trace.IsValidTraceLevel(level) {
			return cfg, nil, fmt.Errorf("unknown trace level %q", level)
		}
		cfg.Trace.Level = trace.TraceLevel(level)
	}
	var specs []string
	if cmd.Flags().Changed("server") {
		specs = serverSpecs
	} else if v.IsSet("server") {
		specs = strings.Split(v.GetString("server"), envListSep)
	}
	if len(specs) > 0 {
		seeds, err := parseServerSpecs(specs)
		if err != nil {
			return cfg, nil, err
		}
		cfg.Servers = seeds
	}
	return cfg, sc, nil
}

// parseServerSpec parses name:weight:maxConnections:processingTimeMs.
// The name may itself contain colons; the last three fields are numeric.
func parseServerSpec(spec string) (sim.ServerConfig, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 {
		return sim.ServerConfig{}, fmt.Errorf("server %q: want name:weight:maxConnections:processingTimeMs", spec)
	}
	n := len(parts)
	weight, err := strconv.Atoi(parts[n-3])
	if err != nil {
		return sim.ServerConfig{}, fmt.Errorf("server %q: weight: %w", spec, err)
	}
	maxConns, err := strconv.Atoi(parts[n-2])
	if err != nil {
		return sim.ServerConfig{}, fmt.Errorf("server %q: max connections: %w", spec, err)
	}
	procMs, err := strconv.ParseInt(parts[n-1], 10, 64)
	if err != nil {
		return sim.ServerConfig{}, fmt.Errorf("server %q: processing time: %w", spec, err)
	}
	cfg, err := sim.ServerConfig{
		Name:             strings.Join(parts[:n-3], ":"),
		Weight:           weight,
		MaxConnections:   maxConns,
		ProcessingTimeMs: procMs,
	}.Validate()
	if err != nil {
		return sim.ServerConfig{}, fmt.Errorf("server %q: %w", spec, err)
	}
	return cfg, nil
}

func parseServerSpecs(specs []string) ([]sim.ServerSeed, error) {
	seeds := make([]sim.ServerSeed, 0, len(specs))
	for _, spec := range specs {
		cfg, err := parseServerSpec(spec)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, sim.ServerSeed{ServerConfig: cfg})
	}
	return seeds, nil
}

func printTraceSummary(ts *trace.TraceSummary) {
	fmt.Println("=== Trace Summary ===")
	fmt.Printf("Total Dispatches    : %d\n", ts.TotalDispatches)
	fmt.Printf("Admitted            : %d\n", ts.AdmittedCount)
	fmt.Printf("Dropped (no server) : %d\n", ts.DroppedNoServer)
	fmt.Printf("Dropped (full)      : %d\n", ts.DroppedFull)
	fmt.Printf("Completions         : %d (orphaned: %d)\n", ts.CompletedCount, ts.OrphanedCount)
	fmt.Printf("Unique Targets      : %d\n", ts.UniqueTargets)
	for _, id := range slices.Sorted(maps.Keys(ts.TargetDistribution)) {
		fmt.Printf("  %-12s: %d\n", id, ts.TargetDistribution[id])
	}
}
