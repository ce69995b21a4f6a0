package sweep

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeWorkload records every call and fails the sizes it is told to.
type fakeWorkload struct {
	calls       []string
	mismatch    map[int]bool
	dispatchErr map[int][]error // consumed one per attempt
	extra       []timing.Entry
}

func (w *fakeWorkload) Name() string { return "fake" }

func (w *fakeWorkload) MaxSize() int { return 100 }

func (w *fakeWorkload) Prepare(size int) error {
	w.calls = append(w.calls, fmt.Sprintf("prepare:%d", size))
	return nil
}

func (w *fakeWorkload) Reference(size int) error {
	w.calls = append(w.calls, fmt.Sprintf("reference:%d", size))
	return nil
}

func (w *fakeWorkload) Dispatch(size int) error {
	w.calls = append(w.calls, fmt.Sprintf("dispatch:%d", size))
	if errs := w.dispatchErr[size]; len(errs) > 0 {
		w.dispatchErr[size] = errs[1:]
		return errs[0]
	}
	return nil
}

func (w *fakeWorkload) Verify(size int) error {
	w.calls = append(w.calls, fmt.Sprintf("verify:%d", size))
	if w.mismatch[size] {
		return &accel.MismatchError{Workload: "fake", Size: size, Index: 1, Expected: 2, Actual: 5}
	}
	return nil
}

func (w *fakeWorkload) Report() []timing.Entry { return w.extra }

func TestRun(t *testing.T) {
	t.Run("mismatch does not stop the sweep", func(t *testing.T) {
		w := &fakeWorkload{mismatch: map[int]bool{3: true}}
		c := NewController(w, nil, Options{}, zaptest.NewLogger(t))

		sum, err := c.Run([]int{2, 3})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"prepare:2", "reference:2", "dispatch:2", "verify:2",
			"prepare:3", "reference:3", "dispatch:3", "verify:3",
		}, w.calls)
		assert.False(t, sum.OK())
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 1, sum.Mismatched)
		assert.True(t, sum.Iterations[0].Passed())
		assert.True(t, accel.IsMismatch(sum.Iterations[1].Err))
	})

	t.Run("sizes run in the given order", func(t *testing.T) {
		w := &fakeWorkload{}
		c := NewController(w, nil, Options{}, nil)
		sum, err := c.Run([]int{9, 4, 7})
		require.NoError(t, err)
		assert.True(t, sum.OK())
		var sizes []int
		for _, it := range sum.Iterations {
			sizes = append(sizes, it.Size)
		}
		assert.Equal(t, []int{9, 4, 7}, sizes)
	})

	t.Run("transfer failure is recorded and the sweep moves on", func(t *testing.T) {
		terr := &accel.TransferError{Op: "enqueue_task", Phase: "migrating_in", Err: errors.New("boom")}
		w := &fakeWorkload{dispatchErr: map[int][]error{2: {terr}}}
		c := NewController(w, nil, Options{}, zaptest.NewLogger(t))
		sum, err := c.Run([]int{2, 3})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Failed)
		assert.Equal(t, 0, sum.Mismatched)
		assert.ErrorIs(t, sum.Iterations[0].Err, terr)
		assert.NotContains(t, w.calls, "verify:2")
		assert.Contains(t, w.calls, "verify:3")
	})

	t.Run("retries whole cycles after transfer failures", func(t *testing.T) {
		boom := errors.New("boom")
		w := &fakeWorkload{dispatchErr: map[int][]error{5: {boom, boom}}}
		c := NewController(w, nil, Options{Retries: 2}, zaptest.NewLogger(t))
		sum, err := c.Run([]int{5})
		require.NoError(t, err)
		assert.True(t, sum.OK())
		assert.Equal(t, 3, sum.Iterations[0].Attempts)
		assert.Equal(t, 3, countOf(w.calls, "prepare:5"))
	})

	t.Run("mismatches are not retried", func(t *testing.T) {
		w := &fakeWorkload{mismatch: map[int]bool{5: true}}
		c := NewController(w, nil, Options{Retries: 3}, nil)
		sum, err := c.Run([]int{5})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Iterations[0].Attempts)
	})

	t.Run("invalid sizes", func(t *testing.T) {
		c := NewController(&fakeWorkload{}, nil, Options{}, nil)
		for _, sizes := range [][]int{nil, {3, 0}, {-1}, {101}} {
			_, err := c.Run(sizes)
			assert.Error(t, err, "sizes %v", sizes)
		}
	})
}

func TestReport(t *testing.T) {
	w := &fakeWorkload{extra: []timing.Entry{{Description: "matmul #0", Value: "10", Unit: "ns"}}}
	c := NewController(w, nil, Options{}, nil)
	sum, err := c.Run([]int{10, 41})
	require.NoError(t, err)

	entries := c.Report(sum)
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, timing.Entry{Description: "Buffer size", Value: "10"}, entries[0])
	assert.Equal(t, timing.Entry{Description: "Buffer size", Value: "41"}, entries[1])
	assert.Equal(t, PhaseReference, entries[2].Description)
	assert.Equal(t, w.extra[0], entries[len(entries)-1])
	assert.Len(t, c.Timer().Durations(PhaseDevice), 2)

	var descriptions []string
	for _, e := range entries {
		descriptions = append(descriptions, e.Description)
	}
	assert.Contains(t, descriptions, PhaseReference+" mean")
	assert.Contains(t, descriptions, PhaseDevice+" max")
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}
