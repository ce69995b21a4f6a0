package buffer

import (
	"errors"
	"testing"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/accel/acceltest"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	platform *acceltest.Platform
	ctx      *acceltest.Context
	queue    *acceltest.Queue
	kernel   *kernel.Handle
	timer    *timing.Recorder
	orch     *Orchestrator

	in1, in2, out *Region
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := &acceltest.Device{Name: "dev0"}
	p := acceltest.NewPlatform(dev)
	c, err := dev.NewContext()
	require.NoError(t, err)
	q, err := c.NewQueue(accel.QueueProfiling)
	require.NoError(t, err)
	prog, err := c.Program(accel.NewImage("x", []byte("x")))
	require.NoError(t, err)
	h, err := kernel.ResolveSignature(prog, kernel.MMult, "")
	require.NoError(t, err)

	f := &fixture{
		platform: p,
		ctx:      c.(*acceltest.Context),
		queue:    q.(*acceltest.Queue),
		kernel:   h,
		timer:    timing.NewRecorder(),
	}
	f.orch = NewOrchestrator(c, q, f.timer, "mmult", zaptest.NewLogger(t))
	for _, r := range []struct {
		dst  **Region
		name string
		dir  Direction
	}{{&f.in1, "in1", ToDevice}, {&f.in2, "in2", ToDevice}, {&f.out, "out", FromDevice}} {
		*r.dst, err = NewRegion(r.name, r.dir, 64)
		require.NoError(t, err)
		t.Cleanup(func() { (*r.dst).Release() })
	}
	return f
}

func (f *fixture) cycle(n int) Cycle {
	return Cycle{
		Kernel:  f.kernel,
		Inputs:  []Operand{{Region: f.in1, Len: n}, {Region: f.in2, Len: n}},
		Outputs: []Operand{{Region: f.out, Len: n}},
		Scalars: []int32{2, 2, 2},
	}
}

func TestRunCycle(t *testing.T) {
	t.Run("ordering", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.orch.RunCycle(f.cycle(4))
		require.NoError(t, err)
		assert.Equal(t, Complete, res.State)

		ops := f.platform.Recorder.Ops()
		// first two entries are context and program creation
		assert.Equal(t, []string{"migrate:to_device:2", "task:mmult", "migrate:to_host:1", "finish"}, ops[2:])

		in := f.platform.Recorder.Index("migrate:to_device:2")
		task := f.platform.Recorder.Index("task:mmult")
		out := f.platform.Recorder.Index("migrate:to_host:1")
		assert.Less(t, in, task)
		assert.Less(t, task, out)
	})

	t.Run("transfers only the active prefix", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.orch.RunCycle(f.cycle(9))
		require.NoError(t, err)
		assert.Equal(t, 2*9*accel.Int32Size, res.BytesIn)
		assert.Equal(t, 9*accel.Int32Size, res.BytesOut)
		for _, b := range f.ctx.Buffers {
			assert.Len(t, b.Host, 9*accel.Int32Size)
		}
	})

	t.Run("arguments bound in signature order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.RunCycle(f.cycle(4))
		require.NoError(t, err)
		k := f.kernel.Kernel().(*acceltest.Kernel)
		assert.Same(t, f.ctx.Buffers[0], k.Args[0])
		assert.Same(t, f.ctx.Buffers[1], k.Args[1])
		assert.Same(t, f.ctx.Buffers[2], k.Args[2])
		assert.Equal(t, int32(2), k.Args[3])
		assert.Equal(t, accel.MemWriteOnly, f.ctx.Buffers[2].Flags())
	})

	t.Run("buffers released after success", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.RunCycle(f.cycle(4))
		require.NoError(t, err)
		require.Len(t, f.ctx.Buffers, 3)
		for _, b := range f.ctx.Buffers {
			assert.True(t, b.Released)
		}
	})

	t.Run("timing phases", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.RunCycle(f.cycle(4))
		require.NoError(t, err)
		assert.Len(t, f.timer.Durations("Memory object migration enqueue"), 1)
		assert.Len(t, f.timer.Durations("Wait for kernels to complete"), 1)
	})

	failures := []struct {
		name  string
		setup func(f *fixture)
		op    string
		phase string
		after string // op that must not have been recorded
	}{
		{
			name:  "input migration",
			setup: func(f *fixture) { f.queue.FailMigrate = map[accel.MigrationDirection]error{accel.MigrateToDevice: errors.New("dma")} },
			op:    "enqueue_migrate_in",
			phase: "migrating_in",
			after: "task:mmult",
		},
		{
			name:  "dispatch",
			setup: func(f *fixture) { f.queue.FailTask = errors.New("no compute unit") },
			op:    "enqueue_task",
			phase: "migrating_in",
			after: "migrate:to_host:1",
		},
		{
			name:  "output migration",
			setup: func(f *fixture) { f.queue.FailMigrate = map[accel.MigrationDirection]error{accel.MigrateToHost: errors.New("dma")} },
			op:    "enqueue_migrate_out",
			phase: "dispatched",
			after: "finish",
		},
		{
			name:  "drain",
			setup: func(f *fixture) { f.queue.FailFinish = errors.New("kernel fault") },
			op:    "finish",
			phase: "migrating_out",
		},
	}
	for _, tc := range failures {
		t.Run("failure in "+tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)
			res, err := f.orch.RunCycle(f.cycle(4))
			assert.Nil(t, res)
			var terr *accel.TransferError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.op, terr.Op)
			assert.Equal(t, tc.phase, terr.Phase)
			if tc.after != "" {
				assert.Equal(t, -1, f.platform.Recorder.Index(tc.after))
			}
			for _, b := range f.ctx.Buffers {
				assert.True(t, b.Released)
			}
		})
	}

	t.Run("argument mismatch", func(t *testing.T) {
		f := newFixture(t)
		c := f.cycle(4)
		c.Scalars = c.Scalars[:1]
		_, err := f.orch.RunCycle(c)
		var terr *accel.TransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "set_args", terr.Op)
		assert.Equal(t, -1, f.platform.Recorder.Index("migrate:to_device:2"))
	})
}

func TestRunCycleBidirectional(t *testing.T) {
	f := newFixture(t)
	inout, err := NewRegion("c", Bidirectional, 16)
	require.NoError(t, err)
	defer inout.Release()

	h, err := kernel.Resolve(&acceltest.Program{}, "accumulate")
	require.NoError(t, err)
	_, err = f.orch.RunCycle(Cycle{
		Kernel: h,
		Inputs: []Operand{{Region: f.in1, Len: 16}, {Region: inout, Len: 16}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, -1, f.platform.Recorder.Index("migrate:to_host:1"))
	assert.Equal(t, accel.MemReadWrite, f.ctx.Buffers[1].Flags())
}
