// Package workload provides the inter-arrival samplers that pace the dispatch driver.
// This package has no dependencies on sim/ so the driver can import it directly.
package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Arrival process names accepted by NewArrivalSampler.
const (
	ProcessConstant = "constant"
	ProcessPoisson  = "poisson"
	ProcessGamma    = "gamma"
)

// ValidProcesses is the set of recognized arrival process names. Empty means constant.
var ValidProcesses = map[string]bool{"": true, ProcessConstant: true, ProcessPoisson: true, ProcessGamma: true}

// ArrivalSpec selects an arrival process.
type ArrivalSpec struct {
	Process string   `yaml:"process"`
	CV      *float64 `yaml:"cv"` // gamma only; coefficient of variation, default 1
}

// ArrivalSampler generates the time until the next dispatch tick.
type ArrivalSampler interface {
	// SampleIAT returns the next inter-arrival time in milliseconds.
	// Always returns a positive value (>= 1).
	SampleIAT(rng *rand.Rand) int64
}

// ConstantSampler ticks every 1000/rate ms, matching a fixed-interval timer.
type ConstantSampler struct {
	intervalMs int64
}

func (s *ConstantSampler) SampleIAT(_ *rand.Rand) int64 {
	return s.intervalMs
}

// PoissonSampler generates exponentially-distributed inter-arrival times (CV=1).
type PoissonSampler struct {
	meanMs float64
}

func (s *PoissonSampler) SampleIAT(rng *rand.Rand) int64 {
	return atLeastOne(rng.ExpFloat64() * s.meanMs)
}

// GammaSampler generates Gamma-distributed inter-arrival times.
// CV > 1 produces bursty arrivals.
// Implemented using Marsaglia-Tsang's method for shape >= 1,
// with transformation for shape < 1.
type GammaSampler struct {
	shape float64 // 1/CV² (alpha parameter)
	scale float64 // CV²·mean in milliseconds (beta parameter)
}

func (s *GammaSampler) SampleIAT(rng *rand.Rand) int64 {
	return atLeastOne(gammaRand(rng, s.shape, s.scale))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape >= 1: direct method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// IntervalMs returns the fixed tick interval for a rate in requests/second, never below 1 ms.
func IntervalMs(ratePerSecond int) int64 {
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	return max(1, int64(1000/ratePerSecond))
}

// NewArrivalSampler creates an ArrivalSampler for a rate in requests/second.
func NewArrivalSampler(spec ArrivalSpec, ratePerSecond int) (ArrivalSampler, error) {
	interval := IntervalMs(ratePerSecond)
	switch spec.Process {
	case "", ProcessConstant:
		return &ConstantSampler{intervalMs: interval}, nil
	case ProcessPoisson:
		return &PoissonSampler{meanMs: float64(interval)}, nil
	case ProcessGamma:
		cv := 1.0
		if spec.CV != nil {
			cv = *spec.CV
		}
		if cv <= 0 {
			return nil, fmt.Errorf("gamma cv must be > 0, got %f", cv)
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{meanMs: float64(interval)}, nil
		}
		return &GammaSampler{shape: shape, scale: float64(interval) * cv * cv}, nil
	default:
		return nil, fmt.Errorf("unknown arrival process %q", spec.Process)
	}
}

func atLeastOne(sample float64) int64 {
	iat := int64(sample)
	if iat < 1 {
		return 1
	}
	return iat
}
