package timing

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Entry is one (description, value, unit) report triple.
type Entry struct {
	Description string
	Value       string
	Unit        string
}

// Sink receives the report at the end of a run.
type Sink interface {
	Write(entries []Entry) error
}

// FromIntervals converts closed intervals to millisecond entries.
func FromIntervals(intervals []Interval) []Entry {
	out := make([]Entry, 0, len(intervals))
	for _, i := range intervals {
		if i.End.IsZero() {
			continue
		}
		out = append(out, DurationEntry(i.Name, i.Duration()))
	}
	return out
}

// DurationEntry formats d in milliseconds.
func DurationEntry(description string, d time.Duration) Entry {
	return Entry{
		Description: description,
		Value:       strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64),
		Unit:        "ms",
	}
}

// Summarize returns mean, standard deviation, min and max of durations.
func Summarize(description string, durations []time.Duration) []Entry {
	if len(durations) == 0 {
		return nil
	}
	ms := make([]float64, len(durations))
	for i, d := range durations {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	mean, std := stat.MeanStdDev(ms, nil)
	if len(ms) == 1 {
		std = 0
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	return []Entry{
		{Description: description + " mean", Value: format(mean), Unit: "ms"},
		{Description: description + " stddev", Value: format(std), Unit: "ms"},
		{Description: description + " min", Value: format(floats.Min(ms)), Unit: "ms"},
		{Description: description + " max", Value: format(floats.Max(ms)), Unit: "ms"},
	}
}

// CSVSink writes the report as Description,Value,Unit rows.
type CSVSink struct {
	Path string
}

func (s *CSVSink) Write(entries []Entry) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"Description", "Value", "Unit"}); err != nil {
		f.Close()
		return err
	}
	for _, e := range entries {
		if err := w.Write([]string{e.Description, e.Value, e.Unit}); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LogSink logs every entry at info level.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Write(entries []Entry) error {
	for _, e := range entries {
		s.Logger.Info(e.Description, zap.String("value", e.Value), zap.String("unit", e.Unit))
	}
	return nil
}

// MultiSink writes to every sink, combining their errors.
type MultiSink []Sink

func (m MultiSink) Write(entries []Entry) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(entries))
	}
	return err
}
