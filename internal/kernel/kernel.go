// Package kernel resolves kernel entry points from a programmed image and
// assigns their positional arguments.
//
// The argument order of a kernel is part of its external contract. This
// package can check the number and kind of arguments against a Signature,
// but it cannot tell two buffers apart: callers pass arguments in the order
// the signature documents.
package kernel

import (
	"fmt"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"go.uber.org/multierr"
)

// ArgKind is the kind of a kernel argument slot.
type ArgKind int

const (
	BufferArg ArgKind = iota
	ScalarArg
	StreamArg
)

func (k ArgKind) String() string {
	switch k {
	case BufferArg:
		return "buffer"
	case ScalarArg:
		return "scalar"
	case StreamArg:
		return "stream"
	default:
		return "unknown"
	}
}

// Param is one documented argument slot.
type Param struct {
	Name string
	Kind ArgKind
}

// Signature documents the argument contract of a kernel entry point.
type Signature struct {
	Entry string
	Args  []Param
}

// Kernel signatures of the images this harness drives.
var (
	// MMult computes out = in1 × in2 for an a_row×a_col by a_col×b_col product.
	MMult = Signature{
		Entry: "mmult",
		Args: []Param{
			{"in1", BufferArg}, {"in2", BufferArg}, {"out", BufferArg},
			{"a_row", ScalarArg}, {"a_col", ScalarArg}, {"b_col", ScalarArg},
		},
	}

	// Matmul computes c = a × b for square matrices of the given column count.
	Matmul = Signature{
		Entry: "matmul",
		Args:  []Param{{"a", BufferArg}, {"b", BufferArg}, {"c", BufferArg}, {"columns", ScalarArg}},
	}

	// MatmulPartition has the contract of Matmul with partitioned local arrays.
	MatmulPartition = Signature{
		Entry: "matmul_partition",
		Args:  []Param{{"a", BufferArg}, {"b", BufferArg}, {"c", BufferArg}, {"columns", ScalarArg}},
	}

	// Adder reads elements from its input stream and writes them, incremented,
	// to its output stream.
	Adder = Signature{
		Args: []Param{{"in", StreamArg}, {"out", StreamArg}},
	}
)

// EntryNotFoundError is returned when a program has no such entry point.
type EntryNotFoundError struct {
	Entry string
	Err   error
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("kernel entry %q not found: %v", e.Entry, e.Err)
}

func (e *EntryNotFoundError) Unwrap() error {
	return e.Err
}

// Handle is a kernel bound to one programmed device. It owns no buffers.
type Handle struct {
	kernel accel.Kernel
	entry  string
	sig    *Signature
}

// Resolve looks up entry in program without a signature check.
func Resolve(program accel.Program, entry string) (*Handle, error) {
	k, err := program.Kernel(entry)
	if err != nil {
		return nil, &EntryNotFoundError{Entry: entry, Err: err}
	}
	return &Handle{kernel: k, entry: entry}, nil
}

// ResolveSignature looks up sig.Entry, or entry when given, and checks the
// device reports the same argument count.
func ResolveSignature(program accel.Program, sig Signature, entry string) (*Handle, error) {
	if entry == "" {
		entry = sig.Entry
	}
	h, err := Resolve(program, entry)
	if err != nil {
		return nil, err
	}
	if n := h.kernel.NumArgs(); n < len(sig.Args) {
		err := fmt.Errorf("kernel %s has %d argument slots, signature needs %d", entry, n, len(sig.Args))
		return nil, multierr.Append(err, h.kernel.Release())
	}
	h.sig = &sig
	return h, nil
}

// Entry returns the name the handle was resolved with.
func (h *Handle) Entry() string { return h.entry }

// Kernel returns the runtime kernel.
func (h *Handle) Kernel() accel.Kernel { return h.kernel }

// Signature returns the checked signature, if any.
func (h *Handle) Signature() *Signature { return h.sig }

// SetArgs assigns args to the buffer and scalar slots in signature order,
// skipping stream slots. Without a signature the slots are consecutive from
// 0. Each argument is either an accel.Buffer or an int32.
func (h *Handle) SetArgs(args ...any) error {
	slots := make([]int, len(args))
	for i := range slots {
		slots[i] = i
	}
	if h.sig != nil {
		slots = slots[:0]
		var want []Param
		for i, p := range h.sig.Args {
			if p.Kind != StreamArg {
				want = append(want, p)
				slots = append(slots, i)
			}
		}
		if len(args) != len(want) {
			return fmt.Errorf("kernel %s: got %d arguments, signature has %d", h.entry, len(args), len(want))
		}
		for i, a := range args {
			if kind := kindOf(a); kind != want[i].Kind {
				return fmt.Errorf("kernel %s: argument %d (%s) expects %s, got %s",
					h.entry, slots[i], want[i].Name, want[i].Kind, kind)
			}
		}
	}

	for i, a := range args {
		if err := h.kernel.SetArg(slots[i], a); err != nil {
			return fmt.Errorf("kernel %s: set argument %d: %w", h.entry, slots[i], err)
		}
	}
	return nil
}

// ArgIndex returns the slot of a named signature parameter.
func (h *Handle) ArgIndex(name string) (int, error) {
	if h.sig == nil {
		return 0, fmt.Errorf("kernel %s has no signature", h.entry)
	}
	for i, p := range h.sig.Args {
		if p.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("kernel %s has no argument %q", h.entry, name)
}

func kindOf(a any) ArgKind {
	switch a.(type) {
	case accel.Buffer:
		return BufferArg
	case int32:
		return ScalarArg
	default:
		return -1
	}
}
