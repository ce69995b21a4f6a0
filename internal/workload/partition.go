package workload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fxnlabs/offload-harness/internal/buffer"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/reference"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"go.uber.org/zap"
)

// Partition runs the matmul and matmul_partition kernels of one program
// against the same a, b and c regions and reports each kernel's device
// execution time.
type Partition struct {
	env     Env
	maxDim  int
	kernels []*kernel.Handle
	orch    *buffer.Orchestrator
	regs    regions

	a, b, c, gold *buffer.Region
	exec          map[string][]time.Duration
	failed        error
}

// NewPartition resolves both kernels and allocates regions for maxDim.
func NewPartition(env Env, maxDim int) (*Partition, error) {
	if maxDim <= 0 {
		return nil, fmt.Errorf("partition: invalid dimension %d", maxDim)
	}
	w := &Partition{
		env:    env,
		maxDim: maxDim,
		orch:   buffer.NewOrchestrator(env.Bound.Context, env.Bound.Queue, env.Timer, PartitionName, env.logger()),
		exec:   make(map[string][]time.Duration),
	}
	for _, sig := range []kernel.Signature{kernel.Matmul, kernel.MatmulPartition} {
		h, err := kernel.ResolveSignature(env.Bound.Program, sig, "")
		if err != nil {
			return nil, err
		}
		w.kernels = append(w.kernels, h)
	}
	n := maxDim * maxDim
	var err error
	if w.a, err = w.regs.alloc("a", buffer.ToDevice, n); err == nil {
		if w.b, err = w.regs.alloc("b", buffer.ToDevice, n); err == nil {
			if w.c, err = w.regs.alloc("c", buffer.FromDevice, n); err == nil {
				w.gold, err = w.regs.alloc("gold", buffer.FromDevice, n)
			}
		}
	}
	if err != nil {
		w.regs.release()
		return nil, err
	}
	return w, nil
}

func (w *Partition) Name() string { return PartitionName }

func (w *Partition) MaxSize() int { return w.maxDim }

func (w *Partition) Prepare(size int) error {
	n := size * size
	w.c.Zero()
	w.gold.Zero()
	w.failed = nil
	w.env.Generator.Fill(size, w.a.Int32s()[:n], w.b.Int32s()[:n])
	return nil
}

func (w *Partition) Reference(size int) error {
	n := size * size
	reference.Matmul(w.gold.Int32s()[:n], w.a.Int32s()[:n], w.b.Int32s()[:n], size)
	return nil
}

// Dispatch runs both kernels one after the other, verifying c after each.
// c is cleared between them so the second kernel cannot pass on the first
// kernel's output. The first mismatch is kept for Verify.
func (w *Partition) Dispatch(size int) error {
	n := size * size
	for _, h := range w.kernels {
		w.c.Zero()
		res, err := w.orch.RunCycle(buffer.Cycle{
			Kernel:  h,
			Inputs:  []buffer.Operand{{Region: w.a, Len: n}, {Region: w.b, Len: n}},
			Outputs: []buffer.Operand{{Region: w.c, Len: n}},
			Scalars: []int32{int32(size)},
		})
		if err != nil {
			return err
		}
		w.exec[h.Entry()] = append(w.exec[h.Entry()], res.Execution)
		w.env.logger().Info("Kernel executed",
			zap.String("kernel", h.Entry()),
			zap.Int("size", size),
			zap.Int64("wall_clock_ns", res.Execution.Nanoseconds()))
		if err := mismatch(&w.env, h.Entry(), size, w.gold.Int32s()[:n], w.c.Int32s()[:n], size); err != nil {
			w.failed = err
			return nil
		}
	}
	return nil
}

func (w *Partition) Verify(size int) error {
	return w.failed
}

// Report returns the device execution time of every kernel run.
func (w *Partition) Report() []timing.Entry {
	var out []timing.Entry
	for _, h := range w.kernels {
		for i, d := range w.exec[h.Entry()] {
			out = append(out, timing.Entry{
				Description: h.Entry() + " #" + strconv.Itoa(i),
				Value:       strconv.FormatInt(d.Nanoseconds(), 10),
				Unit:        "ns",
			})
		}
	}
	return out
}

// Close releases the host regions.
func (w *Partition) Close() error {
	return w.regs.release()
}
