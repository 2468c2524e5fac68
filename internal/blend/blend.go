// Package blend generates an image from the linear blend of two prompt
// embeddings with a classifier-free guided denoising loop.
package blend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// Steps is the number of denoising steps every generation is configured
// with.
const Steps = 20

const (
	DefaultAlpha    = 0.5
	DefaultGuidance = 7.5
	MaxSeed         = math.MaxInt32
)

var ErrInvalidParams = errors.New("invalid parameters")

type Params struct {
	PromptA  string  `json:"prompt_a"`
	PromptB  string  `json:"prompt_b"`
	Alpha    float64 `json:"alpha"`
	Guidance float64 `json:"guidance"`
	Seed     int64   `json:"seed"`
}

// Validate checks params against the ranges the front ends offer. Generate
// itself accepts any finite values.
func (p Params) Validate() error {
	switch {
	case math.IsNaN(p.Alpha) || p.Alpha < 0 || p.Alpha > 1:
		return fmt.Errorf("%w: alpha %v outside [0, 1]", ErrInvalidParams, p.Alpha)
	case math.IsNaN(p.Guidance) || p.Guidance < 1 || p.Guidance > 15:
		return fmt.Errorf("%w: guidance %v outside [1, 15]", ErrInvalidParams, p.Guidance)
	case p.Seed < 0 || p.Seed > MaxSeed:
		return fmt.Errorf("%w: seed %d outside [0, %d]", ErrInvalidParams, p.Seed, MaxSeed)
	}
	return nil
}

type options struct {
	progress func(step, total int)
}

type Option func(*options)

// WithProgress calls fn after each denoising iteration.
func WithProgress(fn func(step, total int)) Option {
	return func(o *options) { o.progress = fn }
}

// Generate runs the blended pipeline once. The result depends only on
// params and the pipeline's backend, device and precision.
func Generate(ctx context.Context, p *model.Pipeline, params Params, opts ...Option) (*image.NRGBA, error) {
	o := options{progress: func(int, int) {}}
	for _, opt := range opts {
		opt(&o)
	}
	log := log.FromContextOrDiscard(ctx).With("seed", params.Seed, "alpha", params.Alpha, "guidance", params.Guidance)

	cond, err := Condition(ctx, p, params.PromptA, params.PromptB, params.Alpha)
	if err != nil {
		return nil, err
	}

	sched := p.NewScheduler()
	sched.SetTimesteps(Steps)
	timesteps := sched.Timesteps()
	log.Debug("sampling", "scheduler", p.SchedulerConfig().ClassName, "iterations", len(timesteps))

	latents := p.Precision().Round(tensor.Randn(params.Seed, p.LatentShape()...).Scale(sched.InitNoiseSigma()))
	for i, t := range timesteps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := tensor.Concat(latents, latents)
		if err != nil {
			return nil, err
		}
		noise, err := p.Denoiser().Denoise(ctx, sched.ScaleModelInput(batch, t), t, cond)
		if err != nil {
			return nil, fmt.Errorf("denoise at timestep %v: %w", t, err)
		}
		halves, err := noise.Split(2)
		if err != nil {
			return nil, fmt.Errorf("denoise at timestep %v: %w", t, err)
		}
		guided, err := Guide(halves[0], halves[1], params.Guidance)
		if err != nil {
			return nil, err
		}
		if latents, err = sched.Step(guided, t, latents); err != nil {
			return nil, fmt.Errorf("scheduler step at timestep %v: %w", t, err)
		}
		o.progress(i+1, len(timesteps))
	}

	pixels, err := p.Decoder().Decode(ctx, latents.Clone().Scale(1/model.LatentScale))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	img, err := ToImage(pixels)
	if err != nil {
		return nil, err
	}
	log.Info("generated image", "size", img.Bounds().Size())
	return img, nil
}

// Condition encodes both prompts and the empty prompt concurrently and
// returns the batch [uncond, blend(a, b, alpha)].
func Condition(ctx context.Context, p *model.Pipeline, a, b string, alpha float64) (*tensor.Tensor, error) {
	prompts := [3]string{a, b, ""}
	var embs [3]*tensor.Tensor

	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		g.Go(func() error {
			emb, err := p.Encoder().Encode(gctx, p.Tokenizer().Encode(prompt))
			if err != nil {
				return fmt.Errorf("encode prompt %q: %w", prompt, err)
			}
			embs[i] = emb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	blended, err := Blend(embs[0], embs[1], alpha)
	if err != nil {
		return nil, err
	}
	return tensor.Concat(embs[2], blended)
}

// Blend is (1-alpha)*a + alpha*b. It returns a copy of a or b exactly when
// alpha is 0 or 1.
func Blend(a, b *tensor.Tensor, alpha float64) (*tensor.Tensor, error) {
	return tensor.Lerp(a, b, float32(alpha))
}

// Guide combines unconditional and conditional noise estimates as
// uncond + scale*(cond-uncond). A scale of 1 returns cond unchanged.
func Guide(uncond, cond *tensor.Tensor, scale float64) (*tensor.Tensor, error) {
	if scale == 1 {
		return cond.Clone(), nil
	}
	diff, err := tensor.Sub(cond, uncond)
	if err != nil {
		return nil, err
	}
	out := uncond.Clone()
	if err := tensor.AddScaled(out, float32(scale), diff); err != nil {
		return nil, err
	}
	return out, nil
}
