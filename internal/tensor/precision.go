package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Precision is the numeric format a pipeline computes in.
type Precision string

const (
	Float32 Precision = "float32"
	Float16 Precision = "float16"
)

func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(s); p {
	case Float32, Float16:
		return p, nil
	case "":
		return Float32, nil
	}
	return "", fmt.Errorf("unknown precision %q", s)
}

// Size is the number of bytes one element occupies on the wire.
func (p Precision) Size() int {
	if p == Float16 {
		return 2
	}
	return 4
}

// Round snaps every element of t to the nearest value representable in p,
// in place.
func (p Precision) Round(t *Tensor) *Tensor {
	if p != Float16 {
		return t
	}
	for i, v := range t.Data {
		t.Data[i] = float16.Fromfloat32(v).Float32()
	}
	return t
}

// Marshal encodes the elements of t little-endian in p.
func (p Precision) Marshal(t *Tensor) []byte {
	size := p.Size()
	b := make([]byte, len(t.Data)*size)
	for i, v := range t.Data {
		if p == Float16 {
			binary.LittleEndian.PutUint16(b[i*size:], float16.Fromfloat32(v).Bits())
		} else {
			binary.LittleEndian.PutUint32(b[i*size:], math.Float32bits(v))
		}
	}
	return b
}

// Unmarshal decodes little-endian elements in p into a tensor of shape.
func (p Precision) Unmarshal(shape []int, b []byte) (*Tensor, error) {
	size := p.Size()
	if len(b) != Numel(shape)*size {
		return nil, fmt.Errorf("%w: %v needs %d bytes of %s, got %d", ErrShape, shape, Numel(shape)*size, p, len(b))
	}

	t := Zeros(shape...)
	for i := range t.Data {
		if p == Float16 {
			t.Data[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*size:])).Float32()
		} else {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size:]))
		}
	}
	return t, nil
}
