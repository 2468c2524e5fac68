// Package scheduler implements the noise schedules that drive the denoising
// loop. A Scheduler is stateful across the steps of one generation and must
// not be shared between generations.
package scheduler

import (
	"fmt"
	"math"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

type Scheduler interface {
	// SetTimesteps configures the schedule for n inference steps and resets
	// any state left from a previous run.
	SetTimesteps(n int)
	// NumInferenceSteps is the n passed to SetTimesteps.
	NumInferenceSteps() int
	// Timesteps lists the timesteps to denoise at, in order.
	Timesteps() []float64
	// InitNoiseSigma is the standard deviation of the initial latent noise.
	InitNoiseSigma() float32
	// ScaleModelInput rescales a latent batch before it is passed to the
	// denoiser at timestep t, which must be one of Timesteps. It never
	// modifies sample.
	ScaleModelInput(sample *tensor.Tensor, t float64) *tensor.Tensor
	// Step advances sample by one timestep given the predicted noise.
	Step(noise *tensor.Tensor, t float64, sample *tensor.Tensor) (*tensor.Tensor, error)
}

// combine returns sum(coeffs[i] * ts[i]).
func combine(coeffs []float32, ts ...*tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.Zeros(ts[0].Shape...)
	for i, t := range ts {
		if err := tensor.AddScaled(out, coeffs[i], t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func index(t float64, n int) (int, error) {
	i := int(math.Round(t))
	if i < 0 || i >= n {
		return 0, fmt.Errorf("timestep %v outside the trained range [0, %d)", t, n)
	}
	return i, nil
}
