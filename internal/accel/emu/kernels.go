package emu

import (
	"errors"
	"fmt"
	"io"
)

type argKind int

const (
	argBuffer argKind = iota
	argScalar
	argStream
)

func (k argKind) String() string {
	switch k {
	case argBuffer:
		return "buffer"
	case argScalar:
		return "scalar"
	case argStream:
		return "stream"
	default:
		return "unknown"
	}
}

type builtin struct {
	args []argKind
	run  func(inv *invocation) error
}

// builtins are the kernel functions an emulator image can reference.
var builtins = map[string]builtin{
	// mmult(in1, in2, out, a_row, a_col, b_col)
	"mmult": {
		args: []argKind{argBuffer, argBuffer, argBuffer, argScalar, argScalar, argScalar},
		run:  runMmult,
	},
	// matmul(a, b, c, columns)
	"matmul": {
		args: []argKind{argBuffer, argBuffer, argBuffer, argScalar},
		run:  runMatmul,
	},
	// matmul_partition(a, b, c, columns)
	"matmul_partition": {
		args: []argKind{argBuffer, argBuffer, argBuffer, argScalar},
		run:  runMatmulPartition,
	},
	// increment(in stream, out stream)
	"increment": {
		args: []argKind{argStream, argStream},
		run:  runIncrement,
	},
}

// invocation is a snapshot of a kernel's arguments taken at enqueue time.
type invocation struct {
	kernel  string
	buffers map[int]*buffer
	scalars map[int]int32
	readers map[int]*io.PipeReader
	writers map[int]*io.PipeWriter
}

func (inv *invocation) buffer(i int) []int32 {
	return inv.buffers[i].device
}

func (inv *invocation) scalar(i int) int {
	return int(inv.scalars[i])
}

func checkExtent(kernel string, name string, buf []int32, n int) error {
	if n < 0 || n > len(buf) {
		return fmt.Errorf("%s: out-of-bounds access on %s (%d elements, buffer holds %d)", kernel, name, n, len(buf))
	}
	return nil
}

func runMmult(inv *invocation) error {
	in1, in2, out := inv.buffer(0), inv.buffer(1), inv.buffer(2)
	aRow, aCol, bCol := inv.scalar(3), inv.scalar(4), inv.scalar(5)
	if err := checkExtent(inv.kernel, "in1", in1, aRow*aCol); err != nil {
		return err
	}
	if err := checkExtent(inv.kernel, "in2", in2, aCol*bCol); err != nil {
		return err
	}
	if err := checkExtent(inv.kernel, "out", out, aRow*bCol); err != nil {
		return err
	}
	for i := 0; i < aRow; i++ {
		for j := 0; j < bCol; j++ {
			var sum int32
			for k := 0; k < aCol; k++ {
				sum += in1[i*aCol+k] * in2[k*bCol+j]
			}
			out[i*bCol+j] = sum
		}
	}
	return nil
}

func squareOperands(inv *invocation) (a, b, c []int32, m int, err error) {
	a, b, c = inv.buffer(0), inv.buffer(1), inv.buffer(2)
	m = inv.scalar(3)
	for name, buf := range map[string][]int32{"a": a, "b": b, "c": c} {
		if err = checkExtent(inv.kernel, name, buf, m*m); err != nil {
			return
		}
	}
	return
}

func runMatmul(inv *invocation) error {
	a, b, c, m, err := squareOperands(inv)
	if err != nil {
		return err
	}
	for k := 0; k < m; k++ {
		for j := 0; j < m; j++ {
			var sum int32
			for i := 0; i < m; i++ {
				sum += a[k*m+i] * b[i*m+j]
			}
			c[k*m+j] = sum
		}
	}
	return nil
}

// runMatmulPartition computes the same product with a row buffer, the way a
// kernel with a partitioned local array accumulates.
func runMatmulPartition(inv *invocation) error {
	a, b, c, m, err := squareOperands(inv)
	if err != nil {
		return err
	}
	row := make([]int32, m)
	for k := 0; k < m; k++ {
		clear(row)
		for i := 0; i < m; i++ {
			aki := a[k*m+i]
			for j := 0; j < m; j++ {
				row[j] += aki * b[i*m+j]
			}
		}
		copy(c[k*m:(k+1)*m], row)
	}
	return nil
}

const streamBlock = 4096

var errKernelExited = errors.New("consumer kernel exited")

func runIncrement(inv *invocation) error {
	in, out := inv.readers[0], inv.writers[1]
	if in == nil || out == nil {
		return fmt.Errorf("%s: stream arguments not connected", inv.kernel)
	}
	// A kernel that stops early must not leave its producer blocked.
	defer in.CloseWithError(errKernelExited)
	buf := make([]byte, streamBlock)
	for {
		n, err := io.ReadFull(in, buf)
		if n%4 != 0 {
			err = fmt.Errorf("%s: partial element in stream (%d bytes)", inv.kernel, n)
			out.CloseWithError(err)
			return err
		}
		if n > 0 {
			words := int32View(buf[:n])
			for i := range words {
				words[i]++
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.CloseWithError(werr)
				return fmt.Errorf("%s: %w", inv.kernel, werr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out.Close()
		}
		if err != nil {
			out.CloseWithError(err)
			return fmt.Errorf("%s: %w", inv.kernel, err)
		}
	}
}
