package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// wavesPerChannel is the number of plane waves summed into each latent
// channel of a target.
const wavesPerChannel = 6

// Denoiser predicts the noise that separates a latent from the target the
// conditioning describes, so every scheduler converges on that target.
type Denoiser struct {
	alphasCumprod []float64
}

func NewDenoiser(cfg scheduler.Config) *Denoiser {
	return &Denoiser{alphasCumprod: cfg.AlphasCumprod()}
}

func (d *Denoiser) Denoise(ctx context.Context, latents *tensor.Tensor, t float64, cond *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkShape(latents, 4, "latents"); err != nil {
		return nil, err
	}
	if err := checkShape(cond, 3, "conditioning"); err != nil {
		return nil, err
	}
	batch, c, h, w := latents.Shape[0], latents.Shape[1], latents.Shape[2], latents.Shape[3]
	if cond.Shape[0] != batch {
		return nil, fmt.Errorf("%w: %d latents for %d conditionings", tensor.ErrShape, batch, cond.Shape[0])
	}

	a := d.alphaAt(t)
	sqrtA, sqrt1mA := math.Sqrt(a), math.Sqrt(1-a)

	out := tensor.Zeros(latents.Shape...)
	n, m := c*h*w, cond.Shape[1]*cond.Shape[2]
	for b := range batch {
		target := Target(cond.Data[b*m:(b+1)*m], cond.Shape[2], c, h, w)
		x := latents.Data[b*n : (b+1)*n]
		eps := out.Data[b*n : (b+1)*n]
		for i := range eps {
			eps[i] = float32((float64(x[i]) - sqrtA*float64(target[i])) / sqrt1mA)
		}
	}
	return out, nil
}

// alphaAt interpolates the cumulative alpha product at a possibly
// fractional timestep.
func (d *Denoiser) alphaAt(t float64) float64 {
	last := float64(len(d.alphasCumprod) - 1)
	t = math.Max(0, math.Min(t, last))
	i := math.Floor(t)
	frac := t - i
	a := d.alphasCumprod[int(i)]
	if frac == 0 {
		return a
	}
	return a*(1-frac) + d.alphasCumprod[int(i)+1]*frac
}

// Target is the clean latent [c, h, w] an embedding sequence of width dim
// describes: per channel, a sum of plane waves whose amplitudes and
// frequencies come from the mean token embedding.
func Target(emb []float32, dim, c, h, w int) []float32 {
	mean := make([]float64, dim)
	tokens := len(emb) / dim
	for l := range tokens {
		for j, v := range emb[l*dim : (l+1)*dim] {
			mean[j] += float64(v) / float64(tokens)
		}
	}

	type wave struct{ amp, fx, fy, phase float64 }
	waves := make([]wave, c*wavesPerChannel)
	for i := range waves {
		base := (3 * i) % dim
		waves[i] = wave{
			amp:   4 * mean[base] / math.Sqrt(wavesPerChannel),
			fx:    1 + 3*math.Abs(mean[(base+1)%dim]),
			fy:    1 + 3*math.Abs(mean[(base+2)%dim]),
			phase: float64(i),
		}
	}

	out := make([]float32, c*h*w)
	for ch := range c {
		for y := range h {
			for x := range w {
				var v float64
				for _, wv := range waves[ch*wavesPerChannel : (ch+1)*wavesPerChannel] {
					v += wv.amp * math.Sin(2*math.Pi*(wv.fx*float64(x)/float64(w)+wv.fy*float64(y)/float64(h))+wv.phase)
				}
				out[(ch*h+y)*w+x] = float32(v)
			}
		}
	}
	return out
}

// latentRGB approximates the SD v1 VAE decoder with one linear map per
// latent channel.
var latentRGB = [LatentChannels][3]float64{
	{0.3512, 0.2297, 0.3227},
	{0.3250, 0.4974, 0.2350},
	{-0.2829, 0.1762, 0.2721},
	{-0.2120, -0.2616, -0.7177},
}

// Decoder projects latents to RGB and upsamples bilinearly by VAEScale.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, latents *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkShape(latents, 4, "latents"); err != nil {
		return nil, err
	}
	batch, c, h, w := latents.Shape[0], latents.Shape[1], latents.Shape[2], latents.Shape[3]
	if c != LatentChannels {
		return nil, fmt.Errorf("%w: decoder expects %d channels, got %d", tensor.ErrShape, LatentChannels, c)
	}

	small := make([]float64, 3*h*w)
	oh, ow := h*model.VAEScale, w*model.VAEScale
	out := tensor.Zeros(batch, 3, oh, ow)
	for b := range batch {
		z := latents.Data[b*c*h*w : (b+1)*c*h*w]
		for rgb := range 3 {
			for i := range h * w {
				var v float64
				for ch := range c {
					v += float64(z[ch*h*w+i]) * model.LatentScale * latentRGB[ch][rgb]
				}
				small[rgb*h*w+i] = math.Tanh(v)
			}
		}
		upsample(small, h, w, out.Data[b*3*oh*ow:(b+1)*3*oh*ow], oh, ow)
	}
	return out, nil
}

// upsample resizes each of the three planes of src bilinearly with
// half-pixel centers.
func upsample(src []float64, h, w int, dst []float32, oh, ow int) {
	coord := func(o, scale, limit int) (int, int, float64) {
		s := (float64(o)+0.5)*float64(limit)/float64(scale) - 0.5
		s = math.Max(0, math.Min(s, float64(limit-1)))
		i := int(s)
		return i, min(i+1, limit-1), s - float64(i)
	}
	for p := range 3 {
		plane := src[p*h*w : (p+1)*h*w]
		for y := range oh {
			y0, y1, fy := coord(y, oh, h)
			for x := range ow {
				x0, x1, fx := coord(x, ow, w)
				top := plane[y0*w+x0]*(1-fx) + plane[y0*w+x1]*fx
				bottom := plane[y1*w+x0]*(1-fx) + plane[y1*w+x1]*fx
				dst[(p*oh+y)*ow+x] = float32(top*(1-fy) + bottom*fy)
			}
		}
	}
}
