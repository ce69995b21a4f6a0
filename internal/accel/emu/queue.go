package emu

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"go.uber.org/zap"
)

type event struct {
	done      chan struct{}
	err       error
	start     time.Time
	end       time.Time
	profiling bool
}

func (e *event) Wait() error {
	<-e.done
	return e.err
}

func (e *event) Profile() (time.Time, time.Time, error) {
	if !e.profiling {
		return time.Time{}, time.Time{}, fmt.Errorf("profiling not enabled on queue")
	}
	select {
	case <-e.done:
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("profiling info not available: command still running")
	}
	return e.start, e.end, nil
}

// queue runs every command on its own goroutine. In-order queues chain each
// command behind the previous one; out-of-order queues start commands as soon
// as they are enqueued, which streaming kernels need.
type queue struct {
	ctx    *Context
	props  accel.QueueProperties
	logger *zap.Logger

	mu       sync.Mutex
	last     *event
	inflight []*event
	released bool
}

func newQueue(ctx *Context, props accel.QueueProperties) *queue {
	return &queue{ctx: ctx, props: props, logger: ctx.logger}
}

func (q *queue) submit(name string, run func() error) (accel.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return nil, fmt.Errorf("queue already released")
	}

	ev := &event{done: make(chan struct{}), profiling: q.props.Has(accel.QueueProfiling)}
	var prev *event
	if !q.props.Has(accel.QueueOutOfOrder) {
		prev = q.last
	}
	q.last = ev
	q.inflight = append(q.inflight, ev)

	go func() {
		defer close(ev.done)
		if prev != nil {
			<-prev.done
		}
		ev.start = time.Now()
		ev.err = run()
		ev.end = time.Now()
		if ev.err != nil {
			q.logger.Debug("command failed", zap.String("command", name), zap.Error(ev.err))
		}
	}()
	return ev, nil
}

func (q *queue) EnqueueMigrate(bufs []accel.Buffer, dir accel.MigrationDirection) (accel.Event, error) {
	if len(bufs) == 0 {
		return nil, fmt.Errorf("migration of empty buffer list")
	}
	targets := make([]*buffer, len(bufs))
	for i, b := range bufs {
		eb, ok := b.(*buffer)
		if !ok {
			return nil, fmt.Errorf("buffer %d was not created by this runtime", i)
		}
		targets[i] = eb
	}
	return q.submit("migrate_"+dir.String(), func() error {
		for _, b := range targets {
			if err := b.migrate(dir); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *queue) EnqueueTask(k accel.Kernel) (accel.Event, error) {
	ek, ok := k.(*Kernel)
	if !ok {
		return nil, fmt.Errorf("kernel was not created by this runtime")
	}
	inv, err := ek.snapshot()
	if err != nil {
		return nil, err
	}
	return q.submit(ek.Name(), func() error {
		return ek.fn.run(inv)
	})
}

func (q *queue) Finish() error {
	q.mu.Lock()
	pending := q.inflight
	q.inflight = nil
	q.mu.Unlock()

	var first error
	for _, ev := range pending {
		if err := ev.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (q *queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return fmt.Errorf("queue already released")
	}
	q.released = true
	return nil
}
