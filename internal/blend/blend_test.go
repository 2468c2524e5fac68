package blend

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model/builtin"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tokenizer"
)

var params = Params{PromptA: "a red cube", PromptB: "a blue sphere", Alpha: 0.5, Guidance: 7.5, Seed: 42}

// wrapDenoiser lets tests observe or tamper with noise predictions.
type wrapDenoiser struct {
	model.Denoiser
	calls atomic.Int32
	after func(*tensor.Tensor) error
}

func (d *wrapDenoiser) Denoise(ctx context.Context, latents *tensor.Tensor, t float64, cond *tensor.Tensor) (*tensor.Tensor, error) {
	d.calls.Add(1)
	out, err := d.Denoiser.Denoise(ctx, latents, t, cond)
	if err != nil || d.after == nil {
		return out, err
	}
	return out, d.after(out)
}

func pipeline(t *testing.T, class string, d model.Denoiser) *model.Pipeline {
	t.Helper()
	cfg, err := scheduler.ByName(class, scheduler.DefaultConfig())
	require.NoError(t, err)
	if d == nil {
		d = builtin.NewDenoiser(cfg)
	}
	p, err := model.Assemble("test", model.Device{Name: "cpu", Kind: model.CPU}, tensor.Float32, cfg, model.Parts{
		Tokenizer:      tokenizer.NewByteLevel(),
		Encoder:        builtin.Encoder{},
		Denoiser:       d,
		Decoder:        builtin.Decoder{},
		LatentChannels: builtin.LatentChannels,
		SampleSize:     builtin.SampleSize,
	})
	require.NoError(t, err)
	return p
}

func TestGenerateImage(t *testing.T) {
	p, err := model.Load(context.Background(), model.Options{Name: "builtin", Backend: builtin.Name})
	require.NoError(t, err)

	img, err := Generate(context.Background(), p, params)
	require.NoError(t, err)

	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
	for i := 3; i < len(img.Pix); i += 4 {
		require.Equal(t, uint8(0xff), img.Pix[i])
	}

	b, err := EncodePNG(img)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestGenerateIsDeterministic(t *testing.T) {
	p := pipeline(t, "pndm", nil)

	a, err := Generate(context.Background(), p, params)
	require.NoError(t, err)
	b, err := Generate(context.Background(), p, params)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix)

	other := params
	other.Seed = 43
	c, err := Generate(context.Background(), p, other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Pix, c.Pix)
}

func TestBlendEndpointsAreExact(t *testing.T) {
	p := pipeline(t, "pndm", nil)
	ctx := context.Background()

	embA, err := p.Encoder().Encode(ctx, p.Tokenizer().Encode(params.PromptA))
	require.NoError(t, err)
	embB, err := p.Encoder().Encode(ctx, p.Tokenizer().Encode(params.PromptB))
	require.NoError(t, err)

	for alpha, want := range map[float64]*tensor.Tensor{0: embA, 1: embB} {
		cond, err := Condition(ctx, p, params.PromptA, params.PromptB, alpha)
		require.NoError(t, err)
		halves, err := cond.Split(2)
		require.NoError(t, err)
		assert.True(t, want.Equal(halves[1]), "alpha %v", alpha)
	}
}

func TestGuideScaleOne(t *testing.T) {
	uncond := tensor.Randn(1, 1, 4, 2, 2)
	cond := tensor.Randn(2, 1, 4, 2, 2)

	got, err := Guide(uncond, cond, 1)
	require.NoError(t, err)
	assert.True(t, cond.Equal(got))

	got, err = Guide(uncond, cond, 3)
	require.NoError(t, err)
	for i := range got.Data {
		assert.InDelta(t, uncond.Data[i]+3*(cond.Data[i]-uncond.Data[i]), got.Data[i], 1e-5)
	}
}

func TestGuidanceOneIgnoresUnconditional(t *testing.T) {
	one := params
	one.Guidance = 1

	want, err := Generate(context.Background(), pipeline(t, "ddim", nil), one)
	require.NoError(t, err)

	// Corrupting the unconditional half must not change the image.
	cfg, err := scheduler.ByName("ddim", scheduler.DefaultConfig())
	require.NoError(t, err)
	d := &wrapDenoiser{Denoiser: builtin.NewDenoiser(cfg), after: func(eps *tensor.Tensor) error {
		for i := range eps.Len() / 2 {
			eps.Data[i] = 1e3
		}
		return nil
	}}
	got, err := Generate(context.Background(), pipeline(t, "ddim", d), one)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestStepCount(t *testing.T) {
	for class, iterations := range map[string]int{"ddim": Steps, "euler": Steps, "pndm": Steps + 1} {
		t.Run(class, func(t *testing.T) {
			cfg, err := scheduler.ByName(class, scheduler.DefaultConfig())
			require.NoError(t, err)
			d := &wrapDenoiser{Denoiser: builtin.NewDenoiser(cfg)}

			var last, total int
			_, err = Generate(context.Background(), pipeline(t, class, d), params, WithProgress(func(step, n int) {
				assert.Equal(t, last+1, step)
				last, total = step, n
			}))
			require.NoError(t, err)

			assert.Equal(t, int32(iterations), d.calls.Load())
			assert.Equal(t, iterations, last)
			assert.Equal(t, iterations, total)
		})
	}
}

func TestEmptyPrompts(t *testing.T) {
	img, err := Generate(context.Background(), pipeline(t, "euler", nil), Params{Alpha: 0.5, Guidance: 7.5})
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestGenerateErrors(t *testing.T) {
	boom := errors.New("boom")
	cfg := scheduler.DefaultConfig()
	d := &wrapDenoiser{Denoiser: builtin.NewDenoiser(cfg), after: func(*tensor.Tensor) error { return boom }}

	_, err := Generate(context.Background(), pipeline(t, "pndm", d), params)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "denoise at timestep")

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err = Generate(ctx, pipeline(t, "pndm", nil), params, WithProgress(func(step, _ int) {
		calls++
		if step == 3 {
			cancel()
		}
	}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestToImage(t *testing.T) {
	pixels, err := tensor.New([]int{1, 3, 1, 2}, []float32{-1, 1, 0, 3, float32(math.NaN()), -0.5})
	require.NoError(t, err)

	img, err := ToImage(pixels)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 128, 0, 0xff, 0xff, 255, 64, 0xff}, img.Pix)

	_, err = ToImage(tensor.Zeros(1, 4, 2, 2))
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, params.Validate())
	for _, p := range []Params{
		{Alpha: -0.1, Guidance: 7.5},
		{Alpha: 1.1, Guidance: 7.5},
		{Alpha: math.NaN(), Guidance: 7.5},
		{Alpha: 0.5, Guidance: 0.5},
		{Alpha: 0.5, Guidance: 16},
		{Alpha: 0.5, Guidance: 7.5, Seed: -1},
		{Alpha: 0.5, Guidance: 7.5, Seed: MaxSeed + 1},
	} {
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams, "%+v", p)
	}
}
