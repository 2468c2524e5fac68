package scheduler

import (
	"math"
	"slices"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// PNDM is the pseudo numerical method scheduler in its PLMS form: a linear
// multistep method over the last four noise estimates. The Runge-Kutta
// warmup is always skipped, as in every Stable Diffusion v1 release.
type PNDM struct {
	cfg               Config
	alphasCumprod     []float64
	finalAlphaCumprod float64

	steps     int
	timesteps []float64

	ets       []*tensor.Tensor
	counter   int
	curSample *tensor.Tensor
}

func newPNDM(cfg Config) *PNDM {
	ac := cfg.AlphasCumprod()
	return &PNDM{
		cfg:               cfg,
		alphasCumprod:     ac,
		finalAlphaCumprod: cfg.finalAlphaCumprod(ac),
	}
}

func (s *PNDM) SetTimesteps(n int) {
	base := s.cfg.spacedTimesteps(n)
	slices.Reverse(base)
	for i := range base {
		base[i] = math.Round(base[i])
	}

	// The second-to-last timestep is visited twice: the first PLMS step
	// has no history and is completed by a corrector step at the same t.
	var ts []float64
	if n > 1 {
		ts = append(ts, base[:n-1]...)
		ts = append(ts, base[n-2], base[n-1])
	} else {
		ts = base
	}
	slices.Reverse(ts)

	s.steps = n
	s.timesteps = ts
	s.ets = nil
	s.counter = 0
	s.curSample = nil
}

func (s *PNDM) NumInferenceSteps() int { return s.steps }

func (s *PNDM) Timesteps() []float64 { return slices.Clone(s.timesteps) }

func (s *PNDM) InitNoiseSigma() float32 { return 1 }

func (s *PNDM) ScaleModelInput(sample *tensor.Tensor, _ float64) *tensor.Tensor { return sample }

func (s *PNDM) Step(noise *tensor.Tensor, t float64, sample *tensor.Tensor) (*tensor.Tensor, error) {
	ratio := float64(s.cfg.NumTrainTimesteps / s.steps)
	prev := t - ratio

	if s.counter != 1 {
		if len(s.ets) > 3 {
			s.ets = s.ets[len(s.ets)-3:]
		}
		s.ets = append(s.ets, noise.Clone())
	} else {
		prev = t
		t += ratio
	}

	var (
		out *tensor.Tensor
		err error
		e   = s.ets
		n   = len(e)
	)
	switch {
	case n == 1 && s.counter == 0:
		out = noise
		s.curSample = sample
	case n == 1 && s.counter == 1:
		out, err = combine([]float32{0.5, 0.5}, noise, e[0])
		sample = s.curSample
		s.curSample = nil
	case n == 2:
		out, err = combine([]float32{1.5, -0.5}, e[1], e[0])
	case n == 3:
		out, err = combine([]float32{23.0 / 12, -16.0 / 12, 5.0 / 12}, e[2], e[1], e[0])
	default:
		out, err = combine([]float32{55.0 / 24, -59.0 / 24, 37.0 / 24, -9.0 / 24}, e[n-1], e[n-2], e[n-3], e[n-4])
	}
	if err != nil {
		return nil, err
	}

	next, err := s.prevSample(sample, t, prev, out)
	if err != nil {
		return nil, err
	}
	s.counter++
	return next, nil
}

// prevSample is formula (9) of the PNDM paper.
func (s *PNDM) prevSample(sample *tensor.Tensor, t, prev float64, noise *tensor.Tensor) (*tensor.Tensor, error) {
	i, err := index(t, len(s.alphasCumprod))
	if err != nil {
		return nil, err
	}
	alphaProd := s.alphasCumprod[i]
	alphaProdPrev := s.finalAlphaCumprod
	if prev >= 0 {
		j, err := index(prev, len(s.alphasCumprod))
		if err != nil {
			return nil, err
		}
		alphaProdPrev = s.alphasCumprod[j]
	}
	betaProd := 1 - alphaProd
	betaProdPrev := 1 - alphaProdPrev

	sampleCoeff := math.Sqrt(alphaProdPrev / alphaProd)
	denom := alphaProd*math.Sqrt(betaProdPrev) + math.Sqrt(alphaProd*betaProd*alphaProdPrev)

	return combine(
		[]float32{float32(sampleCoeff), float32(-(alphaProdPrev - alphaProd) / denom)},
		sample, noise,
	)
}
