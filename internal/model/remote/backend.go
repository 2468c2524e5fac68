package remote

import (
	"context"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

const Name = "remote"

func init() {
	model.RegisterBackend(Name, func(opts model.Options) (model.Backend, error) {
		client, err := NewClient(opts.RuntimeURL, opts.RuntimeToken, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		return &Backend{Client: client}, nil
	})
}

// Backend loads a pipeline into a runtime session.
type Backend struct {
	*Client
}

func (b *Backend) Load(ctx context.Context, req model.LoadRequest) (model.Parts, error) {
	resp, err := b.Client.Load(ctx, &LoadRequest{
		Model:         req.Name,
		Device:        req.Device.Name,
		Precision:     req.Precision,
		SafetyChecker: req.SafetyChecker,
	})
	if err != nil {
		return model.Parts{}, err
	}

	s := &session{client: b.Client, id: resp.Session, precision: req.Precision}
	return model.Parts{
		Encoder:        encoder{s},
		Denoiser:       denoiser{s},
		Decoder:        decoder{s},
		LatentChannels: resp.LatentChannels,
		SampleSize:     resp.SampleSize,
	}, nil
}

type session struct {
	client    *Client
	id        string
	precision tensor.Precision
}

type encoder struct{ *session }

func (e encoder) Encode(ctx context.Context, ids []int32) (*tensor.Tensor, error) {
	return e.client.Encode(ctx, &EncodeRequest{Session: e.id, IDs: [][]int32{ids}})
}

type denoiser struct{ *session }

func (d denoiser) Denoise(ctx context.Context, latents *tensor.Tensor, t float64, cond *tensor.Tensor) (*tensor.Tensor, error) {
	return d.client.Denoise(ctx, &DenoiseRequest{
		Session:      d.id,
		Latents:      FromTensor(latents, d.precision),
		Timestep:     t,
		Conditioning: FromTensor(cond, d.precision),
	})
}

type decoder struct{ *session }

func (d decoder) Decode(ctx context.Context, latents *tensor.Tensor) (*tensor.Tensor, error) {
	return d.client.Decode(ctx, &DecodeRequest{Session: d.id, Latents: FromTensor(latents, d.precision)})
}
