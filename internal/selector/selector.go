// Package selector binds the harness to the first device that accepts the
// program image.
package selector

import (
	"fmt"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BoundDevice is a programmed device with its context, queue and program.
type BoundDevice struct {
	Device  accel.Device
	Index   int
	Context accel.Context
	Queue   accel.Queue
	Program accel.Program
}

// Name returns the device name
func (b *BoundDevice) Name() string {
	return b.Device.Info().Name
}

// Release releases the program, queue and context in reverse creation order.
func (b *BoundDevice) Release() error {
	if b == nil {
		return nil
	}
	var err error
	if b.Program != nil {
		err = multierr.Append(err, b.Program.Release())
	}
	if b.Queue != nil {
		err = multierr.Append(err, b.Queue.Release())
	}
	if b.Context != nil {
		err = multierr.Append(err, b.Context.Release())
	}
	return err
}

// Bind tries each candidate in order and returns the first one on which a
// context, a queue with props and the programmed image could all be created.
// A failing candidate is logged and skipped, and whatever was built on it is
// released. No candidate after the first success is touched. When every
// candidate fails the error wraps accel.ErrNoUsableDevice.
func Bind(candidates []accel.Device, image accel.Image, props accel.QueueProperties, logger *zap.Logger) (*BoundDevice, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("selector")
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no device candidates: %w", accel.ErrNoUsableDevice)
	}

	var errs error
	for i, dev := range candidates {
		info := dev.Info()
		logger.Info("Trying to program device",
			zap.Int("index", i),
			zap.String("device", info.Name),
			zap.String("image", image.Path))

		bound, err := tryBind(i, dev, image, props)
		if err != nil {
			metrics.DeviceBindAttempts.WithLabelValues(info.Name, "failed").Inc()
			logger.Warn("Failed to program device",
				zap.Int("index", i),
				zap.String("device", info.Name),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("device[%d] %s: %w", i, info.Name, err))
			continue
		}

		metrics.DeviceBindAttempts.WithLabelValues(info.Name, "ok").Inc()
		logger.Info("Device programmed",
			zap.Int("index", i),
			zap.String("device", info.Name),
			zap.String("shell", info.Shell))
		return bound, nil
	}

	logger.Error("Failed to program any device", zap.Int("candidates", len(candidates)), zap.Error(errs))
	return nil, fmt.Errorf("%w: %v", accel.ErrNoUsableDevice, errs)
}

func tryBind(index int, dev accel.Device, image accel.Image, props accel.QueueProperties) (_ *BoundDevice, err error) {
	b := &BoundDevice{Device: dev, Index: index}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Release())
		}
	}()

	if b.Context, err = dev.NewContext(); err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	if b.Queue, err = b.Context.NewQueue(props); err != nil {
		return nil, fmt.Errorf("create command queue: %w", err)
	}
	if b.Program, err = b.Context.Program(image); err != nil {
		return nil, fmt.Errorf("program image: %w", err)
	}
	return b, nil
}
