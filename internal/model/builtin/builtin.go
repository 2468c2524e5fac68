// Package builtin is a weight-free stand-in for a Stable Diffusion
// runtime. Its networks are closed-form functions, so pipelines load
// instantly and produce deterministic, prompt-dependent images without a
// GPU or downloaded checkpoints.
package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

const (
	Name = "builtin"

	EmbeddingDim   = 768
	LatentChannels = 4
	SampleSize     = 64
)

func init() {
	model.RegisterBackend(Name, func(model.Options) (model.Backend, error) {
		return Backend{}, nil
	})
}

type Backend struct{}

func (Backend) Devices(context.Context) ([]model.Device, error) {
	return []model.Device{{Name: "cpu", Kind: model.CPU}}, nil
}

func (Backend) Load(_ context.Context, req model.LoadRequest) (model.Parts, error) {
	if req.Device.Kind != model.CPU {
		return model.Parts{}, fmt.Errorf("builtin backend cannot run on %s", req.Device)
	}
	return model.Parts{
		Encoder:        Encoder{},
		Denoiser:       NewDenoiser(scheduler.DefaultConfig()),
		Decoder:        Decoder{},
		LatentChannels: LatentChannels,
		SampleSize:     SampleSize,
	}, nil
}

// Encoder embeds each token with sinusoids of its id and position.
type Encoder struct{}

func (Encoder) Encode(ctx context.Context, ids []int32) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := tensor.Zeros(1, len(ids), EmbeddingDim)
	for l, id := range ids {
		row := t.Data[l*EmbeddingDim : (l+1)*EmbeddingDim]
		for d := range row {
			freq := math.Pow(10000, -float64(d-d%2)/EmbeddingDim)
			angle := float64(id)*freq + float64(l)*freq/10
			row[d] = float32(lo.Ternary(d%2 == 0, math.Sin(angle), math.Cos(angle)))
		}
	}
	return t, nil
}

func checkShape(t *tensor.Tensor, rank int, what string) error {
	if len(t.Shape) != rank {
		return fmt.Errorf("%w: %s has shape %v", tensor.ErrShape, what, t.Shape)
	}
	return nil
}
