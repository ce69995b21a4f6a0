package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceBindAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_device_bind_attempts_total",
		Help: "Device programming attempts by result",
	}, []string{"device", "result"})

	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_cycles_total",
		Help: "Completed dispatch cycles by workload and outcome",
	}, []string{"workload", "outcome"})

	CyclePhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harness_cycle_phase_duration_ms",
		Help:    "Duration of cycle phases in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 20), // 10µs to ~5s
	}, []string{"workload", "phase"})

	CycleSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harness_cycle_size",
		Help: "Problem size of the last cycle",
	}, []string{"workload"})

	VerificationMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_verification_mismatches_total",
		Help: "Cycles whose device output diverged from the reference",
	}, []string{"workload"})

	// Transfer metrics
	MigratedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_migrated_bytes_total",
		Help: "Bytes enqueued for buffer migration by direction",
	}, []string{"direction"})

	StreamedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_streamed_bytes_total",
		Help: "Bytes moved over stream channels by direction",
	}, []string{"direction"})
)
