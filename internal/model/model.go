// Package model defines the collaborators of a text-to-image pipeline and
// loads them into an immutable Pipeline handle.
package model

import (
	"context"

	"github.com/samber/lo"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// LatentScale is the factor Stable Diffusion v1 VAEs scale latents by.
const LatentScale = 0.18215

// VAEScale is the spatial down-sampling factor between pixels and latents.
const VAEScale = 8

type Tokenizer interface {
	// Encode returns exactly ContextLength ids.
	Encode(text string) []int32
	ContextLength() int
}

type TextEncoder interface {
	// Encode maps one id sequence to an embedding of shape [1, L, D].
	Encode(ctx context.Context, ids []int32) (*tensor.Tensor, error)
}

type Denoiser interface {
	// Denoise predicts the noise in a latent batch [B, C, H, W] at timestep
	// t, conditioned on embeddings [B, L, D].
	Denoise(ctx context.Context, latents *tensor.Tensor, t float64, conditioning *tensor.Tensor) (*tensor.Tensor, error)
}

type Decoder interface {
	// Decode maps latents [1, C, H, W] to pixels [1, 3, 8H, 8W] in [-1, 1].
	Decode(ctx context.Context, latents *tensor.Tensor) (*tensor.Tensor, error)
}

// Parts are the components a backend contributes to a Pipeline.
type Parts struct {
	Tokenizer Tokenizer
	Encoder   TextEncoder
	Denoiser  Denoiser
	Decoder   Decoder

	LatentChannels int
	SampleSize     int
}

// Pipeline is the loaded model. It is created once and only read
// afterwards, so it may be shared by concurrent generations.
type Pipeline struct {
	name      string
	backend   string
	device    Device
	precision tensor.Precision
	scheduler scheduler.Config
	parts     Parts
	closer    func() error
}

// Assemble builds a Pipeline from already constructed parts.
func Assemble(name string, device Device, precision tensor.Precision, sched scheduler.Config, parts Parts) (*Pipeline, error) {
	if _, err := scheduler.New(sched); err != nil {
		return nil, err
	}
	return &Pipeline{
		name:      name,
		device:    device,
		precision: precision,
		scheduler: sched,
		parts:     parts,
	}, nil
}

func (p *Pipeline) Name() string                { return p.name }
func (p *Pipeline) Backend() string             { return p.backend }
func (p *Pipeline) Device() Device              { return p.device }
func (p *Pipeline) Precision() tensor.Precision { return p.precision }
func (p *Pipeline) Tokenizer() Tokenizer        { return p.parts.Tokenizer }
func (p *Pipeline) Encoder() TextEncoder        { return p.parts.Encoder }
func (p *Pipeline) Denoiser() Denoiser          { return p.parts.Denoiser }
func (p *Pipeline) Decoder() Decoder            { return p.parts.Decoder }

// SafetyChecker reports whether generated images are filtered. Pipelines
// built by this package never are.
func (p *Pipeline) SafetyChecker() bool { return false }

func (p *Pipeline) SchedulerConfig() scheduler.Config { return p.scheduler }

// NewScheduler returns a fresh scheduler for one generation.
func (p *Pipeline) NewScheduler() scheduler.Scheduler {
	return lo.Must(scheduler.New(p.scheduler))
}

// LatentShape is the shape of the initial noise for a single image.
func (p *Pipeline) LatentShape() []int {
	return []int{1, p.parts.LatentChannels, p.parts.SampleSize, p.parts.SampleSize}
}

// ImageSize is the edge length in pixels of generated images.
func (p *Pipeline) ImageSize() int { return p.parts.SampleSize * VAEScale }

// Shutdown releases backend resources.
func (p *Pipeline) Shutdown() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
