package workload

import (
	"bytes"
	"testing"

	"github.com/fxnlabs/offload-harness/fixtures"
	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/accel/emu"
	"github.com/fxnlabs/offload-harness/internal/reference"
	"github.com/fxnlabs/offload-harness/internal/selector"
	"github.com/fxnlabs/offload-harness/internal/stream"
	"github.com/fxnlabs/offload-harness/internal/sweep"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func bind(t *testing.T, image []byte, name string) (*selector.BoundDevice, *emu.Platform) {
	t.Helper()
	p := emu.NewPlatform("emulator", []emu.DeviceConfig{{Name: "emu0", Shell: "emu_u200"}}, zaptest.NewLogger(t))
	devs, err := p.Devices()
	require.NoError(t, err)
	bound, err := selector.Bind(devs, accel.NewImage(name+".yaml", image), QueueProperties(name), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { bound.Release() })
	return bound, p
}

func env(t *testing.T, bound *selector.BoundDevice, diag *bytes.Buffer) Env {
	e := Env{
		Bound:     bound,
		Timer:     timing.NewRecorder(),
		Generator: reference.NewGenerator(1, 10),
		Logger:    zaptest.NewLogger(t),
	}
	if diag != nil {
		e.Diag = diag
	}
	return e
}

func TestMMult(t *testing.T) {
	bound, _ := bind(t, fixtures.MMultImage, MMultName)
	var diag bytes.Buffer
	e := env(t, bound, &diag)
	w, err := NewMMult(e, 40)
	require.NoError(t, err)
	defer w.Close()

	c := sweep.NewController(w, e.Timer, sweep.Options{}, zaptest.NewLogger(t))
	sum, err := c.Run([]int{10, 40, 1, 17})
	require.NoError(t, err)
	assert.True(t, sum.OK(), "failures: %+v", sum.Iterations)
	assert.Empty(t, diag.String())

	t.Run("stale output from a larger size does not leak", func(t *testing.T) {
		require.NoError(t, w.Prepare(3))
		assert.Equal(t, make([]int32, 40*40), w.out.Int32s())
		assert.Equal(t, make([]int32, 40*40), w.ref.Int32s())
	})

	t.Run("corrupted output is reported", func(t *testing.T) {
		require.NoError(t, w.Prepare(4))
		require.NoError(t, w.Reference(4))
		require.NoError(t, w.Dispatch(4))
		w.out.Int32s()[5]++
		err := w.Verify(4)
		var m *accel.MismatchError
		require.ErrorAs(t, err, &m)
		assert.Equal(t, 5, m.Index)
		assert.Equal(t, m.Expected+1, m.Actual)
		assert.Contains(t, diag.String(), "Mismatch 5")
	})

	t.Run("size beyond the regions", func(t *testing.T) {
		_, err := c.Run([]int{41})
		assert.Error(t, err)
	})
}

func TestMMultMissingKernel(t *testing.T) {
	bound, _ := bind(t, fixtures.PartitionImage, PartitionName)
	_, err := NewMMult(env(t, bound, nil), 8)
	assert.Error(t, err)
}

func TestPartition(t *testing.T) {
	bound, _ := bind(t, fixtures.PartitionImage, PartitionName)
	var diag bytes.Buffer
	e := env(t, bound, &diag)
	w, err := NewPartition(e, 16)
	require.NoError(t, err)
	defer w.Close()

	c := sweep.NewController(w, e.Timer, sweep.Options{}, zaptest.NewLogger(t))
	sum, err := c.Run([]int{16, 5})
	require.NoError(t, err)
	assert.True(t, sum.OK(), "failures: %+v", sum.Iterations)

	entries := w.Report()
	require.Len(t, entries, 4)
	assert.Equal(t, "matmul #0", entries[0].Description)
	assert.Equal(t, "ns", entries[0].Unit)
	assert.Equal(t, "matmul_partition #1", entries[3].Description)
}

func TestStream(t *testing.T) {
	bound, p := bind(t, fixtures.StreamImage, StreamName)
	b, err := stream.Init(p, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("chain adds two", func(t *testing.T) {
		var diag bytes.Buffer
		e := env(t, bound, &diag)
		w, err := NewStream(e, b, 5000, 2)
		require.NoError(t, err)
		defer w.Close()

		c := sweep.NewController(w, e.Timer, sweep.Options{}, zaptest.NewLogger(t))
		sum, err := c.Run([]int{5000, 1, 1024})
		require.NoError(t, err)
		assert.True(t, sum.OK(), "failures: %+v", sum.Iterations)
		assert.NotEmpty(t, e.Timer.Durations("Stream transfers"))
	})

	t.Run("wrong increment mismatches", func(t *testing.T) {
		var diag bytes.Buffer
		e := env(t, bound, &diag)
		w, err := NewStream(e, b, 64, 1)
		require.NoError(t, err)
		defer w.Close()

		c := sweep.NewController(w, e.Timer, sweep.Options{}, zaptest.NewLogger(t))
		sum, err := c.Run([]int{64})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Mismatched)
		assert.Contains(t, diag.String(), "Mismatch 0")
	})

	t.Run("needs a stream binding", func(t *testing.T) {
		_, err := NewStream(env(t, bound, nil), nil, 64, 2)
		assert.Error(t, err)
	})
}

func TestQueueProperties(t *testing.T) {
	assert.True(t, QueueProperties(StreamName).Has(accel.QueueOutOfOrder))
	assert.False(t, QueueProperties(MMultName).Has(accel.QueueOutOfOrder))
	assert.True(t, QueueProperties(PartitionName).Has(accel.QueueProfiling))
}
