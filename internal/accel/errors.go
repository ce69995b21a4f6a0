package accel

import (
	"errors"
	"fmt"
)

// ErrNoUsableDevice is returned when every candidate failed to program.
var ErrNoUsableDevice = errors.New("failed to program any device found")

// ErrStreamAlreadyInitialized is returned by platforms whose streaming
// primitives were already resolved in this process.
var ErrStreamAlreadyInitialized = errors.New("streaming extension already initialized")

// UsageError is a malformed invocation.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return "usage: " + e.Message
}

// TransferError is a failed migration or dispatch inside a buffer cycle.
type TransferError struct {
	Op    string // runtime call that failed
	Phase string // cycle state the orchestrator was in
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer error in %s (phase %s): %v", e.Op, e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// StreamError is a failed streaming transfer or stream setup.
type StreamError struct {
	Op      string
	Channel string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("stream error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("stream error in %s on channel %s: %v", e.Op, e.Channel, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// MismatchError reports that device output diverged from the reference.
type MismatchError struct {
	Workload string
	Size     int
	Index    int
	Expected int64
	Actual   int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s result mismatch at size %d: i = %d expected = %d device = %d",
		e.Workload, e.Size, e.Index, e.Expected, e.Actual)
}

// IsMismatch reports whether err is a verification mismatch.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}
