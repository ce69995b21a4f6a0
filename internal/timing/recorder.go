package timing

import (
	"sync"
	"time"
)

// Interval is one named wall-clock interval.
type Interval struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Duration returns the interval length, zero while it is still open.
func (i Interval) Duration() time.Duration {
	if i.End.IsZero() {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Recorder is an append-only timing record. Add opens an interval and
// Finish closes the most recent open one, so phases nest the way they are
// entered.
type Recorder struct {
	mu        sync.Mutex
	intervals []Interval
	open      []int
	now       func() time.Time
}

// NewRecorder creates an empty record using the wall clock.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Add opens a named interval.
func (r *Recorder) Add(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals = append(r.intervals, Interval{Name: name, Start: r.now()})
	r.open = append(r.open, len(r.intervals)-1)
}

// Finish closes the most recently opened interval and returns its duration.
func (r *Recorder) Finish() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.open) == 0 {
		return 0
	}
	idx := r.open[len(r.open)-1]
	r.open = r.open[:len(r.open)-1]
	r.intervals[idx].End = r.now()
	return r.intervals[idx].Duration()
}

// Measure records fn as one interval.
func (r *Recorder) Measure(name string, fn func() error) (time.Duration, error) {
	r.Add(name)
	err := fn()
	return r.Finish(), err
}

// Intervals returns a copy of the recorded intervals in the order they were opened.
func (r *Recorder) Intervals() []Interval {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Interval, len(r.intervals))
	copy(out, r.intervals)
	return out
}

// Durations returns the closed intervals with the given name.
func (r *Recorder) Durations(name string) []time.Duration {
	var out []time.Duration
	for _, i := range r.Intervals() {
		if i.Name == name && !i.End.IsZero() {
			out = append(out, i.Duration())
		}
	}
	return out
}
