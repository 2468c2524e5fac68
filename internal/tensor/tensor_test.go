package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	x, err := New(shape, data)
	require.NoError(t, err)
	return x
}

func TestNewRejectsWrongLength(t *testing.T) {
	_, err := New([]int{2, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrShape)
}

func TestRandnIsDeterministic(t *testing.T) {
	a := Randn(42, 1, 4, 8, 8)
	b := Randn(42, 1, 4, 8, 8)
	c := Randn(43, 1, 4, 8, 8)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, []int{1, 4, 8, 8}, a.Shape)
}

func TestLerpEndpointsAreExact(t *testing.T) {
	a := Randn(1, 2, 3, 5)
	b := Randn(2, 2, 3, 5)

	start, err := Lerp(a, b, 0)
	require.NoError(t, err)
	assert.True(t, start.Equal(a))

	end, err := Lerp(a, b, 1)
	require.NoError(t, err)
	assert.True(t, end.Equal(b))

	start.Data[0] = 99
	assert.NotEqual(t, float32(99), a.Data[0], "lerp must not alias its inputs")
}

func TestLerpMidpoint(t *testing.T) {
	a := mustNew(t, []int{3}, []float32{0, 2, -4})
	b := mustNew(t, []int{3}, []float32{2, 4, 4})

	mid, err := Lerp(a, b, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 0}, mid.Data)
}

func TestLerpShapeMismatch(t *testing.T) {
	_, err := Lerp(Zeros(2, 3), Zeros(3, 2), 0.5)
	assert.ErrorIs(t, err, ErrShape)
}

func TestConcatAndSplit(t *testing.T) {
	a := mustNew(t, []int{1, 2}, []float32{1, 2})
	b := mustNew(t, []int{1, 2}, []float32{3, 4})

	ab, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, ab.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, ab.Data)

	parts, err := ab.Split(2)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.True(t, parts[0].Equal(a))
	assert.True(t, parts[1].Equal(b))

	_, err = Concat(a, Zeros(1, 3))
	assert.ErrorIs(t, err, ErrShape)

	_, err = ab.Split(3)
	assert.ErrorIs(t, err, ErrShape)
}

func TestArithmetic(t *testing.T) {
	a := mustNew(t, []int{2}, []float32{1, 2})
	b := mustNew(t, []int{2}, []float32{4, 8})

	diff, err := Sub(b, a)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 6}, diff.Data)

	require.NoError(t, AddScaled(a, 2, diff))
	assert.Equal(t, []float32{7, 14}, a.Data)

	assert.Equal(t, []float32{3.5, 7}, a.Scale(0.5).Data)
}

func TestReshapeSharesData(t *testing.T) {
	a := Zeros(2, 6)
	r, err := a.Reshape(3, 4)
	require.NoError(t, err)
	r.Data[0] = 1
	assert.Equal(t, float32(1), a.Data[0])

	_, err = a.Reshape(5)
	assert.ErrorIs(t, err, ErrShape)
}

func TestPrecisionRound(t *testing.T) {
	x := mustNew(t, []int{2}, []float32{1.0001, 65504})
	Float32.Round(x)
	assert.Equal(t, float32(1.0001), x.Data[0])

	Float16.Round(x)
	assert.Equal(t, float32(1), x.Data[0])
	assert.Equal(t, float32(65504), x.Data[1])
}

func TestPrecisionCodec(t *testing.T) {
	for _, p := range []Precision{Float32, Float16} {
		t.Run(string(p), func(t *testing.T) {
			x := p.Round(Randn(7, 2, 3))
			b := p.Marshal(x)
			assert.Len(t, b, 6*p.Size())

			y, err := p.Unmarshal(x.Shape, b)
			require.NoError(t, err)
			assert.True(t, x.Equal(y))

			_, err = p.Unmarshal([]int{4}, b)
			assert.ErrorIs(t, err, ErrShape)
		})
	}
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision("")
	require.NoError(t, err)
	assert.Equal(t, Float32, p)

	p, err = ParsePrecision("float16")
	require.NoError(t, err)
	assert.Equal(t, Float16, p)

	_, err = ParsePrecision("int8")
	assert.Error(t, err)
}
