// Package reference holds the host-side routines device results are checked
// against, and deterministic input generation.
package reference

import (
	"math/rand/v2"
)

// MMult accumulates in1 × in2 into out for dim×dim row-major matrices.
// out must be zeroed by the caller. Arithmetic wraps like the device's.
func MMult(in1, in2, out []int32, dim int) {
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				out[i*dim+j] += in1[i*dim+k] * in2[k*dim+j]
			}
		}
	}
}

// Matmul accumulates a × b into c for m×m row-major matrices.
func Matmul(c, a, b []int32, m int) {
	for k := 0; k < m; k++ {
		for j := 0; j < m; j++ {
			for i := 0; i < m; i++ {
				c[k*m+j] += a[k*m+i] * b[i*m+j]
			}
		}
	}
}

// Increment writes src[i]+by into dst.
func Increment(dst, src []int32, by int32) {
	for i := range src {
		dst[i] = src[i] + by
	}
}

// Generator produces deterministic input data: the same seed and size always
// yield the same values.
type Generator struct {
	seed uint64
	max  int32
}

// NewGenerator creates a generator drawing values from [0, max].
func NewGenerator(seed uint64, max int32) *Generator {
	return &Generator{seed: seed, max: max}
}

// Fill writes values for one problem size into each of dsts.
func (g *Generator) Fill(size int, dsts ...[]int32) {
	rng := rand.New(rand.NewPCG(g.seed, uint64(size)))
	for _, dst := range dsts {
		for i := range dst {
			if g.max <= 0 {
				dst[i] = rng.Int32()
			} else {
				dst[i] = int32(rng.Int64N(int64(g.max) + 1))
			}
		}
	}
}
