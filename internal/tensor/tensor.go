// Package tensor holds the dense float32 arrays passed between the
// pipeline stages: token embeddings, latents and decoded pixels.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/blas/blas32"
)

var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a row-major array. Operations that return a new *Tensor never
// alias their inputs.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Numel is the number of elements a shape describes.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func New(shape []int, data []float32) (*Tensor, error) {
	if Numel(shape) != len(data) {
		return nil, fmt.Errorf("%w: %v holds %d elements, got %d", ErrShape, shape, Numel(shape), len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

func Zeros(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, Numel(shape))}
}

// Randn fills a tensor with standard normal samples drawn from a PCG
// stream seeded by seed. The same seed always yields the same tensor.
func Randn(seed int64, shape ...int) *Tensor {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor%v", t.Shape)
}

func (t *Tensor) vec() blas32.Vector {
	return blas32.Vector{N: len(t.Data), Inc: 1, Data: t.Data}
}

func (t *Tensor) Clone() *Tensor {
	out := Zeros(t.Shape...)
	if len(t.Data) > 0 {
		blas32.Copy(t.vec(), out.vec())
	}
	return out
}

// Equal reports whether both tensors have the same shape and bit-identical
// elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if !slices.Equal(t.Shape, o.Shape) || len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Data {
		if math.Float32bits(t.Data[i]) != math.Float32bits(o.Data[i]) {
			return false
		}
	}
	return true
}

// Reshape returns a view of t with a different shape over the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

// Scale multiplies t by s in place and returns t.
func (t *Tensor) Scale(s float32) *Tensor {
	if len(t.Data) > 0 {
		blas32.Scal(s, t.vec())
	}
	return t
}

// AddScaled computes dst += alpha*src in place.
func AddScaled(dst *Tensor, alpha float32, src *Tensor) error {
	if !slices.Equal(dst.Shape, src.Shape) {
		return fmt.Errorf("%w: %v and %v", ErrShape, dst.Shape, src.Shape)
	}
	if len(dst.Data) > 0 {
		blas32.Axpy(alpha, src.vec(), dst.vec())
	}
	return nil
}

// Sub returns a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	out := a.Clone()
	if err := AddScaled(out, -1, b); err != nil {
		return nil, err
	}
	return out, nil
}

// Lerp returns (1-alpha)*a + alpha*b. The endpoints are exact: alpha 0
// yields a copy of a and alpha 1 a copy of b.
func Lerp(a, b *Tensor, alpha float32) (*Tensor, error) {
	if !slices.Equal(a.Shape, b.Shape) {
		return nil, fmt.Errorf("%w: %v and %v", ErrShape, a.Shape, b.Shape)
	}
	switch alpha {
	case 0:
		return a.Clone(), nil
	case 1:
		return b.Clone(), nil
	}

	out := Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = (1-alpha)*a.Data[i] + alpha*b.Data[i]
	}
	return out, nil
}

// Concat joins tensors along the first axis.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}

	inner := ts[0].Shape[1:]
	shape := slices.Clone(ts[0].Shape)
	shape[0] = 0
	for _, t := range ts {
		if len(t.Shape) == 0 || !slices.Equal(t.Shape[1:], inner) {
			return nil, fmt.Errorf("%w: cannot concatenate %v with %v", ErrShape, ts[0].Shape, t.Shape)
		}
		shape[0] += t.Shape[0]
	}

	out := &Tensor{Shape: shape, Data: make([]float32, 0, Numel(shape))}
	for _, t := range ts {
		out.Data = append(out.Data, t.Data...)
	}
	return out, nil
}

// Split cuts t into n equal parts along the first axis.
func (t *Tensor) Split(n int) ([]*Tensor, error) {
	if len(t.Shape) == 0 || n <= 0 || t.Shape[0]%n != 0 {
		return nil, fmt.Errorf("%w: cannot split %v into %d", ErrShape, t.Shape, n)
	}

	shape := slices.Clone(t.Shape)
	shape[0] /= n
	size := Numel(shape)

	parts := make([]*Tensor, n)
	for i := range parts {
		parts[i] = &Tensor{
			Shape: slices.Clone(shape),
			Data:  slices.Clone(t.Data[i*size : (i+1)*size]),
		}
	}
	return parts, nil
}
