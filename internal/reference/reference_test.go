package reference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMult(t *testing.T) {
	in1 := []int32{1, 2, 3, 4}
	in2 := []int32{5, 6, 7, 8}
	out := make([]int32, 4)
	MMult(in1, in2, out, 2)
	assert.Equal(t, []int32{19, 22, 43, 50}, out)
}

func TestMMultWraps(t *testing.T) {
	in1 := []int32{math.MaxInt32}
	in2 := []int32{2}
	out := make([]int32, 1)
	MMult(in1, in2, out, 1)
	assert.Equal(t, int32(-2), out[0])
}

func TestMatmulMatchesMMult(t *testing.T) {
	g := NewGenerator(7, 10)
	a := make([]int32, 16*16)
	b := make([]int32, 16*16)
	g.Fill(16, a, b)

	want := make([]int32, len(a))
	got := make([]int32, len(a))
	MMult(a, b, want, 16)
	Matmul(got, a, b, 16)
	assert.Equal(t, want, got)
}

func TestIncrement(t *testing.T) {
	dst := make([]int32, 3)
	Increment(dst, []int32{0, -2, math.MaxInt32}, 2)
	assert.Equal(t, []int32{2, 0, math.MinInt32 + 1}, dst)
}

func TestGenerator(t *testing.T) {
	t.Run("same seed and size give the same data", func(t *testing.T) {
		a, b := make([]int32, 64), make([]int32, 64)
		NewGenerator(1, 10).Fill(8, a)
		NewGenerator(1, 10).Fill(8, b)
		assert.Equal(t, a, b)
	})

	t.Run("different sizes give different data", func(t *testing.T) {
		a, b := make([]int32, 64), make([]int32, 64)
		NewGenerator(1, 10).Fill(8, a)
		NewGenerator(1, 10).Fill(9, b)
		assert.NotEqual(t, a, b)
	})

	t.Run("largest bound", func(t *testing.T) {
		a := make([]int32, 256)
		require.NotPanics(t, func() { NewGenerator(1, math.MaxInt32).Fill(4, a) })
		for _, v := range a {
			assert.GreaterOrEqual(t, v, int32(0))
		}
	})

	t.Run("values stay in range", func(t *testing.T) {
		a := make([]int32, 1000)
		NewGenerator(3, 10).Fill(1, a)
		for _, v := range a {
			assert.GreaterOrEqual(t, v, int32(0))
			assert.LessOrEqual(t, v, int32(10))
		}
	})
}
