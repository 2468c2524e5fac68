package scheduler

import (
	"fmt"
	"math"
	"slices"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// Euler is the first order Euler sampler of Karras et al. over the sigma
// parameterization of the training schedule.
type Euler struct {
	cfg       Config
	allSigmas []float64

	steps     int
	timesteps []float64
	sigmas    []float64
}

func newEuler(cfg Config) *Euler {
	ac := cfg.AlphasCumprod()
	sigmas := make([]float64, len(ac))
	for i, a := range ac {
		sigmas[i] = math.Sqrt((1 - a) / a)
	}
	return &Euler{cfg: cfg, allSigmas: sigmas}
}

func (s *Euler) SetTimesteps(n int) {
	s.steps = n
	s.timesteps = s.cfg.spacedTimesteps(n)
	s.sigmas = make([]float64, 0, n+1)
	for _, t := range s.timesteps {
		s.sigmas = append(s.sigmas, interp(t, s.allSigmas))
	}
	s.sigmas = append(s.sigmas, 0)
}

// interp linearly interpolates ys sampled at 0, 1, 2, ... at position x.
func interp(x float64, ys []float64) float64 {
	switch {
	case x <= 0:
		return ys[0]
	case x >= float64(len(ys)-1):
		return ys[len(ys)-1]
	}
	lo := math.Floor(x)
	i := int(lo)
	return ys[i] + (x-lo)*(ys[i+1]-ys[i])
}

func (s *Euler) NumInferenceSteps() int { return s.steps }

func (s *Euler) Timesteps() []float64 { return slices.Clone(s.timesteps) }

func (s *Euler) InitNoiseSigma() float32 {
	maxSigma := slices.Max(s.sigmas)
	if s.cfg.TimestepSpacing == "linspace" || s.cfg.TimestepSpacing == "trailing" {
		return float32(maxSigma)
	}
	return float32(math.Sqrt(maxSigma*maxSigma + 1))
}

func (s *Euler) stepIndex(t float64) (int, error) {
	if i := slices.Index(s.timesteps, t); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("timestep %v is not part of the schedule", t)
}

// ScaleModelInput panics when t is not one of Timesteps.
func (s *Euler) ScaleModelInput(sample *tensor.Tensor, t float64) *tensor.Tensor {
	i, err := s.stepIndex(t)
	if err != nil {
		panic(err)
	}
	sigma := s.sigmas[i]
	return sample.Clone().Scale(float32(1 / math.Sqrt(sigma*sigma+1)))
}

func (s *Euler) Step(noise *tensor.Tensor, t float64, sample *tensor.Tensor) (*tensor.Tensor, error) {
	i, err := s.stepIndex(t)
	if err != nil {
		return nil, err
	}
	// With epsilon prediction the ODE derivative (x - x0) / sigma is the
	// noise estimate itself.
	dt := s.sigmas[i+1] - s.sigmas[i]
	return combine([]float32{1, float32(dt)}, sample, noise)
}
