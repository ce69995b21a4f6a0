package selector

import (
	"errors"
	"testing"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/accel/acceltest"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errProgram = errors.New("invalid binary")

func devices(p *acceltest.Platform) []accel.Device {
	d, _ := p.Devices()
	return d
}

func TestBind(t *testing.T) {
	image := accel.NewImage("test.xclbin", []byte("image"))

	t.Run("only the third candidate programs", func(t *testing.T) {
		p := acceltest.NewPlatform(
			&acceltest.Device{Name: "dev0", FailProgram: errProgram},
			&acceltest.Device{Name: "dev1", FailProgram: errProgram},
			&acceltest.Device{Name: "dev2"},
			&acceltest.Device{Name: "dev3"},
		)
		before := testutil.ToFloat64(metrics.DeviceBindAttempts.WithLabelValues("dev2", "ok"))

		bound, err := Bind(devices(p), image, accel.QueueProfiling, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, 2, bound.Index)
		assert.Equal(t, "dev2", bound.Name())

		assert.Equal(t, []string{
			"context:dev0", "program:dev0",
			"context:dev1", "program:dev1",
			"context:dev2", "program:dev2",
		}, p.Recorder.Ops())
		assert.Equal(t, -1, p.Recorder.Index("context:dev3"))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DeviceBindAttempts.WithLabelValues("dev2", "ok")))

		// failed candidates were torn down
		for _, d := range p.Candidates[:2] {
			require.Len(t, d.Contexts, 1)
			assert.True(t, d.Contexts[0].Released)
			assert.True(t, d.Contexts[0].Queues[0].Released)
		}
		assert.False(t, p.Candidates[2].Contexts[0].Released)
		assert.Equal(t, accel.QueueProfiling, p.Candidates[2].Contexts[0].Queues[0].Props)

		require.NoError(t, bound.Release())
		assert.True(t, p.Candidates[2].Contexts[0].Released)
	})

	t.Run("first success wins", func(t *testing.T) {
		p := acceltest.NewPlatform(&acceltest.Device{Name: "a"}, &acceltest.Device{Name: "b"})
		bound, err := Bind(devices(p), image, accel.QueueProfiling, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, bound.Index)
		assert.Empty(t, p.Candidates[1].Contexts)
	})

	t.Run("no working candidate", func(t *testing.T) {
		p := acceltest.NewPlatform(
			&acceltest.Device{Name: "dev0", FailProgram: errProgram},
			&acceltest.Device{Name: "dev1", FailQueue: errors.New("out of resources")},
			&acceltest.Device{Name: "dev2", FailContext: errors.New("device busy")},
		)
		bound, err := Bind(devices(p), image, accel.QueueProfiling, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, bound)
		assert.ErrorIs(t, err, accel.ErrNoUsableDevice)
		assert.Contains(t, err.Error(), "device[1] dev1")

		for _, d := range p.Candidates {
			for _, c := range d.Contexts {
				assert.True(t, c.Released, "context on %s left bound", d.Name)
				for _, q := range c.Queues {
					assert.True(t, q.Released)
				}
			}
		}
	})

	t.Run("empty candidate list", func(t *testing.T) {
		_, err := Bind(nil, image, accel.QueueProfiling, nil)
		assert.ErrorIs(t, err, accel.ErrNoUsableDevice)
	})
}

func TestBoundDeviceRelease(t *testing.T) {
	var b *BoundDevice
	assert.NoError(t, b.Release())
}
