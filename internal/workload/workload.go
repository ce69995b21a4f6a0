// Package workload implements the dispatch cycles the harness can sweep:
// a square matrix multiply over buffer sizes, two matrix kernels sharing
// one set of buffers, and a chain of streaming adders.
package workload

import (
	"fmt"
	"io"
	"os"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/buffer"
	"github.com/fxnlabs/offload-harness/internal/reference"
	"github.com/fxnlabs/offload-harness/internal/selector"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"github.com/fxnlabs/offload-harness/internal/verify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Workload names accepted by New.
const (
	MMultName     = "mmult"
	PartitionName = "partition"
	StreamName    = "stream"
)

// Names lists the available workloads.
var Names = []string{MMultName, PartitionName, StreamName}

// QueueProperties returns the queue mode a workload needs. Chained
// streaming kernels must run concurrently, so the stream workload asks for
// an out-of-order queue.
func QueueProperties(name string) accel.QueueProperties {
	if name == StreamName {
		return accel.QueueProfiling | accel.QueueOutOfOrder
	}
	return accel.QueueProfiling
}

// Env is what every workload runs against.
type Env struct {
	Bound     *selector.BoundDevice
	Timer     *timing.Recorder
	Generator *reference.Generator
	Logger    *zap.Logger
	// Diag receives mismatch context. Defaults to os.Stderr.
	Diag io.Writer
}

func (e *Env) diag() io.Writer {
	if e.Diag == nil {
		return os.Stderr
	}
	return e.Diag
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// regions owns a set of host regions and releases them together.
type regions []*buffer.Region

func (rs *regions) alloc(name string, dir buffer.Direction, count int) (*buffer.Region, error) {
	r, err := buffer.NewRegion(name, dir, count)
	if err != nil {
		return nil, err
	}
	*rs = append(*rs, r)
	return r, nil
}

func (rs regions) release() error {
	var err error
	for _, r := range rs {
		err = multierr.Append(err, r.Release())
	}
	return err
}

// mismatch reports the first divergence between expected and actual and
// converts it to an error. columns > 0 also prints the device output grid.
func mismatch(env *Env, workload string, size int, expected, actual []int32, columns int) error {
	m := verify.Compare(expected, actual, len(expected))
	if m == nil {
		return nil
	}
	w := env.diag()
	fmt.Fprintf(w, "Mismatch %d: gold: %d device: %d\n", m.Index, m.Expected, m.Actual)
	fmt.Fprint(w, verify.Neighborhood(expected, actual, len(expected), m.Index, 4))
	if columns > 0 {
		verify.PrintGrid(w, actual, columns, len(actual)/columns)
	}
	return &accel.MismatchError{
		Workload: workload,
		Size:     size,
		Index:    m.Index,
		Expected: int64(m.Expected),
		Actual:   int64(m.Actual),
	}
}
