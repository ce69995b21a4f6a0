// Package verify compares device output against a host reference.
package verify

import (
	"fmt"
	"io"
	"strings"
)

// Mismatch is the first element where actual diverges from expected.
type Mismatch[T comparable] struct {
	Index    int
	Expected T
	Actual   T
}

func (m *Mismatch[T]) String() string {
	return fmt.Sprintf("i = %d expected = %v device = %v", m.Index, m.Expected, m.Actual)
}

// Compare scans the first length elements in index order and returns the
// first mismatch, or nil when they match. Equality is exact.
func Compare[T comparable](expected, actual []T, length int) *Mismatch[T] {
	if length > len(expected) || length > len(actual) {
		panic(fmt.Sprintf("verify: length %d exceeds operands (%d expected, %d actual)",
			length, len(expected), len(actual)))
	}
	for i := 0; i < length; i++ {
		if expected[i] != actual[i] {
			return &Mismatch[T]{Index: i, Expected: expected[i], Actual: actual[i]}
		}
	}
	return nil
}

// Window returns the bounds [lo, hi) of the radius-neighbourhood of index
// clipped to 0..length.
func Window(index, radius, length int) (lo, hi int) {
	lo = max(index-radius, 0)
	hi = min(index+radius+1, length)
	return lo, hi
}

// Neighborhood formats the elements around a mismatch, one line per index,
// marking the mismatching one.
func Neighborhood[T comparable](expected, actual []T, length, index, radius int) string {
	lo, hi := Window(index, radius, length)
	var sb strings.Builder
	for i := lo; i < hi; i++ {
		marker := " "
		if i == index {
			marker = ">"
		}
		fmt.Fprintf(&sb, "%s %8d  expected %v  device %v\n", marker, i, expected[i], actual[i])
	}
	return sb.String()
}

// PrintGrid writes the top-left corner of a row-major matrix, at most 10×10
// elements, followed by ellipsis markers.
func PrintGrid(w io.Writer, data []int32, columns, rows int) {
	r := min(rows, 10)
	c := min(columns, 10)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if idx := i*columns + j; idx < len(data) {
				fmt.Fprintf(w, "%4d ", data[idx])
			}
		}
		fmt.Fprint(w, "…\n")
	}
	for j := 0; j < c; j++ {
		fmt.Fprintf(w, "   %s ", "…")
	}
	fmt.Fprint(w, "⋱\n\n")
}
