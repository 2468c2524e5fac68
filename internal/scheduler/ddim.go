package scheduler

import (
	"math"
	"slices"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// DDIM is the deterministic (eta = 0) denoising diffusion implicit model
// sampler.
type DDIM struct {
	cfg               Config
	alphasCumprod     []float64
	finalAlphaCumprod float64

	steps     int
	timesteps []float64
}

func newDDIM(cfg Config) *DDIM {
	ac := cfg.AlphasCumprod()
	return &DDIM{
		cfg:               cfg,
		alphasCumprod:     ac,
		finalAlphaCumprod: cfg.finalAlphaCumprod(ac),
	}
}

func (s *DDIM) SetTimesteps(n int) {
	ts := s.cfg.spacedTimesteps(n)
	for i, t := range ts {
		ts[i] = math.Round(t)
	}
	s.steps = n
	s.timesteps = ts
}

func (s *DDIM) NumInferenceSteps() int { return s.steps }

func (s *DDIM) Timesteps() []float64 { return slices.Clone(s.timesteps) }

func (s *DDIM) InitNoiseSigma() float32 { return 1 }

func (s *DDIM) ScaleModelInput(sample *tensor.Tensor, _ float64) *tensor.Tensor { return sample }

func (s *DDIM) Step(noise *tensor.Tensor, t float64, sample *tensor.Tensor) (*tensor.Tensor, error) {
	i, err := index(t, len(s.alphasCumprod))
	if err != nil {
		return nil, err
	}
	alphaProd := s.alphasCumprod[i]

	alphaProdPrev := s.finalAlphaCumprod
	if prev := t - float64(s.cfg.NumTrainTimesteps/s.steps); prev >= 0 {
		j, err := index(prev, len(s.alphasCumprod))
		if err != nil {
			return nil, err
		}
		alphaProdPrev = s.alphasCumprod[j]
	}

	// x0 = (x_t - sqrt(1-a_t) eps) / sqrt(a_t)
	// x_prev = sqrt(a_prev) x0 + sqrt(1-a_prev) eps
	sampleCoeff := math.Sqrt(alphaProdPrev / alphaProd)
	noiseCoeff := math.Sqrt(1-alphaProdPrev) - math.Sqrt(alphaProdPrev)*math.Sqrt(1-alphaProd)/math.Sqrt(alphaProd)

	return combine([]float32{float32(sampleCoeff), float32(noiseCoeff)}, sample, noise)
}
