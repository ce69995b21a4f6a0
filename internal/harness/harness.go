// Package harness wires the harness components into an fx application.
package harness

import (
	"context"
	"fmt"
	"io"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/accel/emu"
	"github.com/fxnlabs/offload-harness/internal/config"
	"github.com/fxnlabs/offload-harness/internal/logger"
	"github.com/fxnlabs/offload-harness/internal/metrics"
	"github.com/fxnlabs/offload-harness/internal/reference"
	"github.com/fxnlabs/offload-harness/internal/selector"
	"github.com/fxnlabs/offload-harness/internal/stream"
	"github.com/fxnlabs/offload-harness/internal/sweep"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"github.com/fxnlabs/offload-harness/internal/workload"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// PhaseInit is the timing interval around device selection.
const PhaseInit = "Device initialization"

// Diagnostics is where mismatch context is printed.
type Diagnostics struct {
	io.Writer
}

// Module provides every component of a run for cfg and image.
func Module(cfg *config.Config, image accel.Image, diag Diagnostics) fx.Option {
	return fx.Options(
		fx.Supply(cfg, image, diag),
		fx.Provide(
			NewLogger,
			NewPlatform,
			timing.NewRecorder,
			BindDevice,
			NewStreamBinding,
			NewWorkload,
			NewController,
			NewSink,
			NewRunner,
			NewMetricsServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Invoke(func(*metrics.Server) {}),
	)
}

// NewLogger builds the root logger from cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
}

// NewPlatform creates the emulated platform with the configured devices.
func NewPlatform(cfg *config.Config, log *zap.Logger) accel.Platform {
	devices := make([]emu.DeviceConfig, len(cfg.Platform.Devices))
	for i, d := range cfg.Platform.Devices {
		devices[i] = emu.DeviceConfig{Name: d.Name, Shell: d.Shell, GlobalMemory: d.GlobalMemory}
	}
	return emu.NewPlatform(cfg.Platform.Name, devices, log)
}

// BindDevice programs the first usable device. The bound device is released
// when the application stops.
func BindDevice(lc fx.Lifecycle, cfg *config.Config, platform accel.Platform, image accel.Image, timer *timing.Recorder, log *zap.Logger) (*selector.BoundDevice, error) {
	timer.Add(PhaseInit)
	defer timer.Finish()
	candidates, err := platform.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", accel.ErrNoUsableDevice, err)
	}
	bound, err := selector.Bind(candidates, image, workload.QueueProperties(cfg.Workload), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return bound.Release()
		},
	})
	return bound, nil
}

// NewStreamBinding initializes streaming once for the bound device's
// platform. Workloads without streams get a nil binding.
func NewStreamBinding(cfg *config.Config, bound *selector.BoundDevice, log *zap.Logger) (*stream.Binding, error) {
	if cfg.Workload != workload.StreamName {
		return nil, nil
	}
	return stream.Init(bound.Device.Platform(), log)
}

type closer interface {
	Close() error
}

// NewWorkload creates the configured workload. Its regions are released
// when the application stops.
func NewWorkload(lc fx.Lifecycle, cfg *config.Config, bound *selector.BoundDevice, binding *stream.Binding, timer *timing.Recorder, diag Diagnostics, log *zap.Logger) (sweep.Workload, error) {
	env := workload.Env{
		Bound:     bound,
		Timer:     timer,
		Generator: reference.NewGenerator(cfg.Sweep.Seed, cfg.Sweep.InputMax),
		Logger:    log.Named(cfg.Workload),
		Diag:      diag.Writer,
	}
	var (
		w   sweep.Workload
		err error
	)
	switch cfg.Workload {
	case workload.MMultName:
		w, err = workload.NewMMult(env, cfg.MMult.MaxDim)
	case workload.PartitionName:
		w, err = workload.NewPartition(env, cfg.Partition.Dim)
	case workload.StreamName:
		w, err = workload.NewStream(env, binding, cfg.Stream.Size, cfg.Stream.Increment)
	default:
		err = fmt.Errorf("unknown workload %q", cfg.Workload)
	}
	if err != nil {
		return nil, err
	}
	if c, ok := w.(closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return c.Close()
			},
		})
	}
	return w, nil
}

// NewController creates the sweep controller.
func NewController(cfg *config.Config, w sweep.Workload, timer *timing.Recorder, log *zap.Logger) *sweep.Controller {
	return sweep.NewController(w, timer, sweep.Options{Retries: cfg.Sweep.Retries}, log)
}

// NewSink returns the report sinks: the log always, the CSV file when a
// report path is configured.
func NewSink(cfg *config.Config, log *zap.Logger) timing.Sink {
	sinks := timing.MultiSink{&timing.LogSink{Logger: log.Named("report")}}
	if cfg.Report.Path != "" {
		sinks = append(sinks, &timing.CSVSink{Path: cfg.Report.Path})
	}
	return sinks
}

// NewMetricsServer serves /metrics for the lifetime of the application when
// a listen address is configured. Otherwise it returns nil.
func NewMetricsServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *metrics.Server {
	if cfg.Metrics.ListenAddress == "" {
		return nil
	}
	srv := metrics.NewServer(cfg.Metrics.ListenAddress, log)
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
	return srv
}

// Runner executes the sweep and writes the report.
type Runner struct {
	controller *sweep.Controller
	sink       timing.Sink
	sizes      []int
	logger     *zap.Logger
}

// NewRunner creates a runner for the configured sweep sizes.
func NewRunner(cfg *config.Config, c *sweep.Controller, sink timing.Sink, log *zap.Logger) *Runner {
	return &Runner{
		controller: c,
		sink:       sink,
		sizes:      cfg.SweepSizes(),
		logger:     log.Named("runner"),
	}
}

// Run sweeps every size and flushes the report. The summary says whether
// every iteration matched.
func (r *Runner) Run() (*sweep.Summary, error) {
	sum, err := r.controller.Run(r.sizes)
	if err != nil {
		return nil, err
	}
	if err := r.sink.Write(r.controller.Report(sum)); err != nil {
		r.logger.Error("failed to write report", zap.Error(err))
		return sum, fmt.Errorf("failed to write report: %w", err)
	}
	r.logger.Info("Sweep finished",
		zap.String("workload", sum.Workload),
		zap.Int("iterations", len(sum.Iterations)),
		zap.Int("failed", sum.Failed))
	return sum, nil
}
