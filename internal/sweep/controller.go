// Package sweep drives a workload over an ordered sequence of problem sizes.
package sweep

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"go.uber.org/zap"
)

// Phase names recorded per iteration.
const (
	PhaseReference = "Software Run"
	PhaseDevice    = "Device Run"
)

// Workload is one kind of dispatch cycle the controller can repeat.
type Workload interface {
	Name() string
	// MaxSize is the largest size the workload's regions can hold.
	MaxSize() int
	// Prepare zeroes outputs and the reference, and generates inputs for size.
	Prepare(size int) error
	// Reference computes the host-side result for size.
	Reference(size int) error
	// Dispatch runs one device cycle for size.
	Dispatch(size int) error
	// Verify compares device output with the reference. A mismatch is
	// returned as *accel.MismatchError.
	Verify(size int) error
}

// Reporter is implemented by workloads that add their own report entries.
type Reporter interface {
	Report() []timing.Entry
}

// Iteration is the outcome of one size.
type Iteration struct {
	Size      int
	Attempts  int
	Reference time.Duration
	Device    time.Duration
	Err       error
}

// Passed reports whether the iteration matched.
func (it Iteration) Passed() bool {
	return it.Err == nil
}

// Summary is the outcome of a sweep.
type Summary struct {
	Workload   string
	Iterations []Iteration
	Failed     int
	Mismatched int
}

// OK reports whether every iteration passed.
func (s *Summary) OK() bool {
	return s.Failed == 0
}

// Options configures a Controller.
type Options struct {
	// Retries is the number of extra whole-cycle attempts after a transfer
	// failure. Mismatches are never retried.
	Retries int
}

// Controller repeats a workload's cycle for every size of a sweep.
type Controller struct {
	workload Workload
	timer    *timing.Recorder
	logger   *zap.Logger
	opts     Options
}

// NewController creates a controller recording into timer.
func NewController(w Workload, timer *timing.Recorder, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timer == nil {
		timer = timing.NewRecorder()
	}
	return &Controller{
		workload: w,
		timer:    timer,
		logger:   logger.Named("sweep").With(zap.String("workload", w.Name())),
		opts:     opts,
	}
}

// Timer returns the controller's timing record.
func (c *Controller) Timer() *timing.Recorder {
	return c.timer
}

// Validate checks sizes are positive and fit the workload.
func (c *Controller) Validate(sizes []int) error {
	if len(sizes) == 0 {
		return errors.New("sweep has no sizes")
	}
	for _, s := range sizes {
		if s <= 0 {
			return fmt.Errorf("invalid sweep size %d: sizes must be positive", s)
		}
		if s > c.workload.MaxSize() {
			return fmt.Errorf("invalid sweep size %d: workload %s holds at most %d", s, c.workload.Name(), c.workload.MaxSize())
		}
	}
	return nil
}

// Run executes one cycle per size in the given order. A failing iteration is
// recorded and the sweep moves on; the returned error is only set when the
// sweep could not start.
func (c *Controller) Run(sizes []int) (*Summary, error) {
	if err := c.Validate(sizes); err != nil {
		return nil, err
	}
	sum := &Summary{Workload: c.workload.Name()}
	for _, size := range sizes {
		it := c.iterate(size)
		sum.Iterations = append(sum.Iterations, it)
		outcome := "passed"
		if it.Err != nil {
			sum.Failed++
			outcome = "failed"
			if accel.IsMismatch(it.Err) {
				sum.Mismatched++
				outcome = "mismatch"
			}
		}
		metrics.CyclesTotal.WithLabelValues(c.workload.Name(), outcome).Inc()
		verdict := "PASSED"
		if !it.Passed() {
			verdict = "FAILED"
		}
		c.logger.Info(fmt.Sprintf("Iteration = %d TEST %s", size, verdict),
			zap.Int("size", size),
			zap.Int("attempts", it.Attempts),
			zap.Duration("device", it.Device))
	}
	return sum, nil
}

func (c *Controller) iterate(size int) Iteration {
	it := Iteration{Size: size}
	metrics.CycleSize.WithLabelValues(c.workload.Name()).Set(float64(size))
	for {
		it.Attempts++
		err := c.attempt(size, &it)
		it.Err = err
		if err == nil || accel.IsMismatch(err) || it.Attempts > c.opts.Retries {
			break
		}
		c.logger.Warn("Cycle failed, retrying",
			zap.Int("size", size),
			zap.Int("attempt", it.Attempts),
			zap.Error(err))
	}
	if it.Err != nil {
		var m *accel.MismatchError
		if errors.As(it.Err, &m) {
			metrics.VerificationMismatches.WithLabelValues(c.workload.Name()).Inc()
			c.logger.Error("Error: Result mismatch",
				zap.Int("size", size),
				zap.Int("i", m.Index),
				zap.Int64("expected", m.Expected),
				zap.Int64("device", m.Actual))
		} else {
			c.logger.Error("Cycle failed", zap.Int("size", size), zap.Error(it.Err))
		}
	}
	return it
}

func (c *Controller) attempt(size int, it *Iteration) error {
	if err := c.workload.Prepare(size); err != nil {
		return fmt.Errorf("prepare size %d: %w", size, err)
	}
	d, err := c.timer.Measure(PhaseReference, func() error { return c.workload.Reference(size) })
	it.Reference = d
	if err != nil {
		return fmt.Errorf("reference size %d: %w", size, err)
	}
	d, err = c.timer.Measure(PhaseDevice, func() error { return c.workload.Dispatch(size) })
	it.Device = d
	if err != nil {
		return err
	}
	return c.workload.Verify(size)
}

// Report builds the report entries: one "Buffer size" row per iteration,
// then every recorded interval, then per-phase summaries and any entries
// the workload adds.
func (c *Controller) Report(sum *Summary) []timing.Entry {
	var entries []timing.Entry
	if sum != nil {
		for _, it := range sum.Iterations {
			entries = append(entries, timing.Entry{Description: "Buffer size", Value: strconv.Itoa(it.Size)})
		}
	}
	entries = append(entries, timing.FromIntervals(c.timer.Intervals())...)
	entries = append(entries, timing.Summarize(PhaseReference, c.timer.Durations(PhaseReference))...)
	entries = append(entries, timing.Summarize(PhaseDevice, c.timer.Durations(PhaseDevice))...)
	if r, ok := c.workload.(Reporter); ok {
		entries = append(entries, r.Report()...)
	}
	return entries
}
