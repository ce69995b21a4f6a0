package workload

import (
	"fmt"

	"github.com/fxnlabs/offload-harness/internal/buffer"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/reference"
)

// MMult multiplies two size×size matrices per cycle. Regions are allocated
// once for maxDim and each cycle uses the first size×size elements.
type MMult struct {
	env    Env
	maxDim int
	kernel *kernel.Handle
	orch   *buffer.Orchestrator
	regs   regions

	in1, in2, out, ref *buffer.Region
}

// NewMMult resolves the mmult kernel and allocates regions for maxDim.
func NewMMult(env Env, maxDim int) (*MMult, error) {
	if maxDim <= 0 {
		return nil, fmt.Errorf("mmult: invalid max dimension %d", maxDim)
	}
	h, err := kernel.ResolveSignature(env.Bound.Program, kernel.MMult, "")
	if err != nil {
		return nil, err
	}
	w := &MMult{
		env:    env,
		maxDim: maxDim,
		kernel: h,
		orch:   buffer.NewOrchestrator(env.Bound.Context, env.Bound.Queue, env.Timer, MMultName, env.logger()),
	}
	n := maxDim * maxDim
	for _, r := range []struct {
		dst  **buffer.Region
		name string
		dir  buffer.Direction
	}{
		{&w.in1, "in1", buffer.ToDevice},
		{&w.in2, "in2", buffer.ToDevice},
		{&w.out, "out", buffer.FromDevice},
		{&w.ref, "reference", buffer.FromDevice},
	} {
		if *r.dst, err = w.regs.alloc(r.name, r.dir, n); err != nil {
			w.regs.release()
			return nil, err
		}
	}
	return w, nil
}

func (w *MMult) Name() string { return MMultName }

func (w *MMult) MaxSize() int { return w.maxDim }

func (w *MMult) Prepare(size int) error {
	n := size * size
	w.out.Zero()
	w.ref.Zero()
	w.env.Generator.Fill(size, w.in1.Int32s()[:n], w.in2.Int32s()[:n])
	return nil
}

func (w *MMult) Reference(size int) error {
	n := size * size
	reference.MMult(w.in1.Int32s()[:n], w.in2.Int32s()[:n], w.ref.Int32s()[:n], size)
	return nil
}

// Dispatch binds in1, in2, out, a_row, a_col, b_col and runs one cycle over
// the active prefix.
func (w *MMult) Dispatch(size int) error {
	n := size * size
	dim := int32(size)
	_, err := w.orch.RunCycle(buffer.Cycle{
		Kernel:  w.kernel,
		Inputs:  []buffer.Operand{{Region: w.in1, Len: n}, {Region: w.in2, Len: n}},
		Outputs: []buffer.Operand{{Region: w.out, Len: n}},
		Scalars: []int32{dim, dim, dim},
	})
	return err
}

func (w *MMult) Verify(size int) error {
	n := size * size
	return mismatch(&w.env, MMultName, size, w.ref.Int32s()[:n], w.out.Int32s()[:n], size)
}

// Close releases the host regions.
func (w *MMult) Close() error {
	return w.regs.release()
}
