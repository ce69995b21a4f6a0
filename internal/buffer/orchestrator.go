// Package buffer owns host memory regions and runs non-streaming dispatch
// cycles: migrate inputs, run one kernel task, migrate outputs, drain.
package buffer

import (
	"fmt"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the position of a cycle in its state machine.
type State int

const (
	Allocated State = iota
	ArgsBound
	MigratingIn
	Dispatched
	MigratingOut
	Complete
)

func (s State) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case ArgsBound:
		return "args_bound"
	case MigratingIn:
		return "migrating_in"
	case Dispatched:
		return "dispatched"
	case MigratingOut:
		return "migrating_out"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Operand is a region and the active prefix a cycle transfers.
type Operand struct {
	Region *Region
	Len    int
}

// Cycle describes one dispatch. Kernel arguments are bound in the order
// inputs, outputs, scalars, which must match the kernel's signature.
type Cycle struct {
	Kernel  *kernel.Handle
	Inputs  []Operand
	Outputs []Operand
	Scalars []int32
}

// Result reports a completed cycle.
type Result struct {
	State     State
	Kernel    string
	BytesIn   int
	BytesOut  int
	Elapsed   time.Duration
	Execution time.Duration // device-side kernel time, zero without profiling
}

// Orchestrator runs cycles against one bound context and queue.
type Orchestrator struct {
	ctx      accel.Context
	queue    accel.Queue
	timer    *timing.Recorder
	logger   *zap.Logger
	workload string
}

// NewOrchestrator creates an orchestrator. timer may be nil.
func NewOrchestrator(ctx accel.Context, queue accel.Queue, timer *timing.Recorder, workload string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		ctx:      ctx,
		queue:    queue,
		timer:    timer,
		logger:   logger.Named("orchestrator"),
		workload: workload,
	}
}

type cycleRun struct {
	state State
	bufs  []accel.Buffer
}

func (o *Orchestrator) fail(run *cycleRun, op string, err error) error {
	o.logger.Error("cycle failed",
		zap.String("phase", run.state.String()),
		zap.String("op", op),
		zap.Error(err))
	return &accel.TransferError{Op: op, Phase: run.state.String(), Err: err}
}

// RunCycle drives c through Allocated → ArgsBound → MigratingIn →
// Dispatched → MigratingOut → Complete. Input migration is enqueued before
// the kernel task, the task before output migration, and the queue is
// drained before RunCycle returns. Device buffers are released on return
// whatever the outcome; the regions stay with the caller.
func (o *Orchestrator) RunCycle(c Cycle) (res *Result, err error) {
	start := time.Now()
	run := &cycleRun{state: Allocated}
	defer func() {
		var rerr error
		for _, b := range run.bufs {
			rerr = multierr.Append(rerr, b.Release())
		}
		if rerr != nil {
			o.logger.Warn("failed to release device buffers", zap.Error(rerr))
			if err == nil {
				res, err = nil, &accel.TransferError{Op: "release", Phase: run.state.String(), Err: rerr}
			}
		}
	}()

	if c.Kernel == nil {
		return nil, fmt.Errorf("cycle has no kernel")
	}

	create := func(op Operand, flags accel.MemFlags) (accel.Buffer, error) {
		buf, err := o.ctx.NewBuffer(flags, op.Region.Bytes(op.Len))
		if err != nil {
			return nil, err
		}
		run.bufs = append(run.bufs, buf)
		op.Region.CheckBuffer(buf, op.Len)
		return buf, nil
	}

	args := make([]any, 0, len(c.Inputs)+len(c.Outputs)+len(c.Scalars))
	var in, out []accel.Buffer
	bytesIn, bytesOut := 0, 0
	for _, op := range c.Inputs {
		buf, err := create(op, op.Region.Direction().MemFlags())
		if err != nil {
			return nil, o.fail(run, "create_buffer", err)
		}
		args = append(args, buf)
		in = append(in, buf)
		bytesIn += buf.Size()
		if op.Region.Direction() == Bidirectional {
			out = append(out, buf)
			bytesOut += buf.Size()
		}
	}
	for _, op := range c.Outputs {
		buf, err := create(op, op.Region.Direction().MemFlags())
		if err != nil {
			return nil, o.fail(run, "create_buffer", err)
		}
		args = append(args, buf)
		out = append(out, buf)
		bytesOut += buf.Size()
	}
	for _, s := range c.Scalars {
		args = append(args, s)
	}

	if err := c.Kernel.SetArgs(args...); err != nil {
		return nil, o.fail(run, "set_args", err)
	}
	run.state = ArgsBound

	o.timer.Add("Memory object migration enqueue")
	if len(in) > 0 {
		run.state = MigratingIn
		if _, err := o.queue.EnqueueMigrate(in, accel.MigrateToDevice); err != nil {
			o.timer.Finish()
			return nil, o.fail(run, "enqueue_migrate_in", err)
		}
		metrics.MigratedBytes.WithLabelValues(accel.MigrateToDevice.String()).Add(float64(bytesIn))
	}
	o.observe("migrate_in_enqueue", o.timer.Finish())

	o.timer.Add("Wait for kernels to complete")
	ev, err := o.queue.EnqueueTask(c.Kernel.Kernel())
	if err != nil {
		o.timer.Finish()
		return nil, o.fail(run, "enqueue_task", err)
	}
	run.state = Dispatched

	if len(out) > 0 {
		if _, err := o.queue.EnqueueMigrate(out, accel.MigrateToHost); err != nil {
			o.timer.Finish()
			return nil, o.fail(run, "enqueue_migrate_out", err)
		}
		metrics.MigratedBytes.WithLabelValues(accel.MigrateToHost.String()).Add(float64(bytesOut))
	}
	run.state = MigratingOut
	if err := o.queue.Finish(); err != nil {
		o.timer.Finish()
		return nil, o.fail(run, "finish", err)
	}
	o.observe("execute_and_migrate_out", o.timer.Finish())
	run.state = Complete

	res = &Result{
		State:    Complete,
		Kernel:   c.Kernel.Entry(),
		BytesIn:  bytesIn,
		BytesOut: bytesOut,
		Elapsed:  time.Since(start),
	}
	if ks, ke, perr := ev.Profile(); perr == nil {
		res.Execution = ke.Sub(ks)
	}
	o.logger.Debug("cycle complete",
		zap.String("kernel", res.Kernel),
		zap.Int("bytes_in", bytesIn),
		zap.Int("bytes_out", bytesOut),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (o *Orchestrator) observe(phase string, d time.Duration) {
	metrics.CyclePhaseDuration.WithLabelValues(o.workload, phase).Observe(float64(d) / float64(time.Millisecond))
}
