// Package stream coordinates streaming dispatch cycles: one unidirectional
// channel per kernel argument, one transfer task per channel, all running
// concurrently with the kernels.
//
// Transfers have no timeout. A kernel that stops consuming or producing
// blocks its channel task, and the cycle, indefinitely.
package stream

import (
	"fmt"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/buffer"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChannelSpec binds one kernel argument to a host region.
//
// Flags are from the device's perspective: accel.StreamReadOnly channels
// are read by the kernel and written by the host; accel.StreamWriteOnly
// channels are written by the kernel and read by the host.
type ChannelSpec struct {
	Name   string
	Kernel *kernel.Handle
	Arg    int
	Flags  accel.StreamFlags
	Region *buffer.Region
	Len    int // active elements
}

// Channel is an open stream for one cycle.
type Channel struct {
	spec     ChannelSpec
	stream   accel.Stream
	released bool
}

// Result reports a completed streaming cycle.
type Result struct {
	BytesWritten int
	BytesRead    int
	Transfer     time.Duration
	Elapsed      time.Duration
}

// Coordinator runs streaming cycles on one device and queue.
type Coordinator struct {
	binding  *Binding
	device   accel.Device
	queue    accel.Queue
	timer    *timing.Recorder
	logger   *zap.Logger
	workload string
}

// NewCoordinator creates a coordinator. timer may be nil.
func NewCoordinator(binding *Binding, device accel.Device, queue accel.Queue, timer *timing.Recorder, workload string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		binding:  binding,
		device:   device,
		queue:    queue,
		timer:    timer,
		logger:   logger.Named("coordinator"),
		workload: workload,
	}
}

func validate(specs []ChannelSpec) error {
	var writes, reads int
	seen := make(map[*buffer.Region]string)
	for _, s := range specs {
		if s.Kernel == nil || s.Region == nil {
			return fmt.Errorf("channel %s: missing kernel or region", s.Name)
		}
		if s.Len <= 0 || s.Len > s.Region.Len() {
			return fmt.Errorf("channel %s: active length %d outside 1..%d", s.Name, s.Len, s.Region.Len())
		}
		if other, dup := seen[s.Region]; dup {
			return fmt.Errorf("channels %s and %s share region %s", other, s.Name, s.Region.Name())
		}
		seen[s.Region] = s.Name
		switch s.Flags {
		case accel.StreamReadOnly:
			writes++
		case accel.StreamWriteOnly:
			reads++
		}
	}
	if writes == 0 || reads == 0 {
		return fmt.Errorf("a streaming cycle needs at least one host write and one host read channel (got %d and %d)", writes, reads)
	}
	return nil
}

func (c *Coordinator) open(specs []ChannelSpec) ([]*Channel, error) {
	channels := make([]*Channel, 0, len(specs))
	for _, s := range specs {
		st, err := c.binding.create(c.device, s.Flags, s.Kernel.Kernel(), s.Arg)
		if err != nil {
			rerr := c.release(channels)
			return nil, multierr.Append(&accel.StreamError{Op: "create", Channel: s.Name, Err: err}, rerr)
		}
		channels = append(channels, &Channel{spec: s, stream: st})
	}
	return channels, nil
}

// release is idempotent per channel.
func (c *Coordinator) release(channels []*Channel) error {
	var err error
	for _, ch := range channels {
		if ch.released {
			continue
		}
		ch.released = true
		if rerr := c.binding.release(ch.stream); rerr != nil {
			err = multierr.Append(err, &accel.StreamError{Op: "release", Channel: ch.spec.Name, Err: rerr})
		}
	}
	return err
}

// drain waits for tasks enqueued before a failure.
func (c *Coordinator) drain() error {
	if err := c.queue.Finish(); err != nil {
		return &accel.StreamError{Op: "finish", Err: err}
	}
	return nil
}

func (c *Coordinator) transfer(ch *Channel) error {
	data := ch.spec.Region.Bytes(ch.spec.Len)
	req := accel.XferRequest{Flags: accel.XferEOT, Tag: ch.spec.Name}
	if ch.spec.Flags == accel.StreamReadOnly {
		n, err := c.binding.write(ch.stream, data, req)
		metrics.StreamedBytes.WithLabelValues("to_device").Add(float64(n))
		if err != nil {
			return &accel.StreamError{Op: "write", Channel: ch.spec.Name, Err: err}
		}
		if n != len(data) {
			return &accel.StreamError{Op: "write", Channel: ch.spec.Name,
				Err: fmt.Errorf("short transfer: %d of %d bytes", n, len(data))}
		}
		return nil
	}
	n, err := c.binding.read(ch.stream, data, req)
	metrics.StreamedBytes.WithLabelValues("to_host").Add(float64(n))
	if err != nil {
		return &accel.StreamError{Op: "read", Channel: ch.spec.Name, Err: err}
	}
	if n != len(data) {
		return &accel.StreamError{Op: "read", Channel: ch.spec.Name,
			Err: fmt.Errorf("short transfer: %d of %d bytes", n, len(data))}
	}
	return nil
}

// RunStreamingCycle opens the channels, enqueues every kernel task, runs
// one transfer task per channel and waits for all of them, then drains the
// queue. Results in the read regions are valid only after it returns nil.
// Channels are released on return whatever the outcome.
func (c *Coordinator) RunStreamingCycle(kernels []*kernel.Handle, specs []ChannelSpec) (res *Result, err error) {
	if err := validate(specs); err != nil {
		return nil, err
	}
	start := time.Now()

	channels, err := c.open(specs)
	if err != nil {
		c.logger.Error("failed to open channels", zap.Error(err))
		return nil, err
	}
	defer func() {
		if rerr := c.release(channels); rerr != nil {
			c.logger.Warn("failed to release channels", zap.Error(rerr))
			if err == nil {
				res, err = nil, rerr
			}
		}
	}()

	for _, k := range kernels {
		if _, err := c.queue.EnqueueTask(k.Kernel()); err != nil {
			serr := &accel.StreamError{Op: "enqueue_task", Err: fmt.Errorf("%s: %w", k.Entry(), err)}
			return nil, multierr.Combine(serr, c.release(channels), c.drain())
		}
	}

	c.timer.Add("Stream transfers")
	var g errgroup.Group
	for _, ch := range channels {
		g.Go(func() error {
			return c.transfer(ch)
		})
	}
	terr := g.Wait()
	transfer := c.timer.Finish()
	if terr != nil {
		// Closing the channels unblocks kernels still waiting on them.
		err := multierr.Combine(terr, c.release(channels), c.drain())
		c.logger.Error("stream transfer failed", zap.Error(err))
		return nil, err
	}

	c.timer.Add("Wait for kernels to complete")
	ferr := c.queue.Finish()
	c.timer.Finish()
	if ferr != nil {
		return nil, &accel.StreamError{Op: "finish", Err: ferr}
	}

	res = &Result{Transfer: transfer, Elapsed: time.Since(start)}
	for _, ch := range channels {
		n := ch.spec.Len * accel.Int32Size
		if ch.spec.Flags == accel.StreamReadOnly {
			res.BytesWritten += n
		} else {
			res.BytesRead += n
		}
	}
	metrics.CyclePhaseDuration.WithLabelValues(c.workload, "stream_transfer").
		Observe(float64(transfer) / float64(time.Millisecond))
	c.logger.Debug("streaming cycle complete",
		zap.Int("bytes_written", res.BytesWritten),
		zap.Int("bytes_read", res.BytesRead),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}
