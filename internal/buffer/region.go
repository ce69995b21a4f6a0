package buffer

import (
	"fmt"
	"unsafe"

	"github.com/fxnlabs/offload-harness/internal/accel"
)

// Direction is the transfer direction of a memory region.
type Direction int

const (
	// ToDevice regions are read by the kernel.
	ToDevice Direction = iota
	// FromDevice regions are written by the kernel.
	FromDevice
	// Bidirectional regions are migrated in before and out after dispatch.
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to_device"
	case FromDevice:
		return "from_device"
	case Bidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// MemFlags maps the direction to the runtime buffer flags.
func (d Direction) MemFlags() accel.MemFlags {
	switch d {
	case ToDevice:
		return accel.MemReadOnly
	case FromDevice:
		return accel.MemWriteOnly
	default:
		return accel.MemReadWrite
	}
}

// Region is a host-owned, page-aligned array of int32 elements with a
// declared transfer direction. A region is allocated once at its maximum
// element count; a cycle uses an active prefix of it.
type Region struct {
	name     string
	dir      Direction
	count    int
	elemSize int
	mem      []byte
	free     func() error
}

// NewRegion allocates a region of count int32 elements.
func NewRegion(name string, dir Direction, count int) (*Region, error) {
	if count <= 0 {
		return nil, fmt.Errorf("region %s: invalid element count %d", name, count)
	}
	size := count * accel.Int32Size
	mem, free, err := allocate(size)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", name, err)
	}
	return &Region{
		name:     name,
		dir:      dir,
		count:    count,
		elemSize: accel.Int32Size,
		mem:      mem,
		free:     free,
	}, nil
}

func (r *Region) Name() string { return r.name }

func (r *Region) Direction() Direction { return r.dir }

// Len returns the element capacity.
func (r *Region) Len() int { return r.count }

func (r *Region) live() {
	if r.mem == nil {
		panic(fmt.Sprintf("region %s used after release", r.name))
	}
}

// Int32s returns the full-capacity element view.
func (r *Region) Int32s() []int32 {
	r.live()
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.mem[0])), r.count)
}

// Bytes returns the byte view of the first n elements.
func (r *Region) Bytes(n int) []byte {
	r.live()
	if n <= 0 || n > r.count {
		panic(fmt.Sprintf("region %s: active length %d outside 1..%d", r.name, n, r.count))
	}
	return r.mem[:n*r.elemSize]
}

// Zero clears the whole region.
func (r *Region) Zero() {
	r.live()
	clear(r.mem)
}

// CheckBuffer panics unless buf covers exactly n elements of this region.
// A size disagreement between host and device is a programming error.
func (r *Region) CheckBuffer(buf accel.Buffer, n int) {
	if want := n * r.elemSize; buf.Size() != want {
		panic(fmt.Sprintf("region %s: device buffer is %d bytes, host prefix of %d elements is %d bytes",
			r.name, buf.Size(), n, want))
	}
}

// Release returns the memory to the operating system. The region must not
// be used afterwards.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}
	err := r.free()
	r.mem = nil
	return err
}
