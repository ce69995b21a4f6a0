package accel

import (
	"time"
)

// Int32Size is the size in bytes of the element type used by every kernel
// in this harness, on both the host and the device side.
const Int32Size = 4

// DeviceInfo contains information about an accelerator device
type DeviceInfo struct {
	Name         string `json:"name"`
	Shell        string `json:"shell"`        // platform shell the device was flashed with
	Vendor       string `json:"vendor"`
	GlobalMemory int64  `json:"globalMemory"` // in bytes
}

// QueueProperties selects command queue behaviour.
type QueueProperties uint

const (
	// QueueProfiling records start/end timestamps on every event.
	QueueProfiling QueueProperties = 1 << iota
	// QueueOutOfOrder lets the device run enqueued commands concurrently.
	QueueOutOfOrder
)

// Has reports whether p includes all properties in q.
func (p QueueProperties) Has(q QueueProperties) bool {
	return p&q == q
}

// MemFlags describes how a kernel accesses a buffer.
type MemFlags uint

const (
	// MemReadOnly buffers are read by the kernel (host→device).
	MemReadOnly MemFlags = 1 << iota
	// MemWriteOnly buffers are written by the kernel (device→host).
	MemWriteOnly
	// MemReadWrite buffers are migrated in both directions.
	MemReadWrite = MemReadOnly | MemWriteOnly
)

// MigrationDirection is the target address space of a migration.
type MigrationDirection int

const (
	MigrateToDevice MigrationDirection = iota
	MigrateToHost
)

func (d MigrationDirection) String() string {
	if d == MigrateToHost {
		return "to_host"
	}
	return "to_device"
}

// Platform is the vendor runtime entry point. It enumerates devices and
// hands out the streaming extension.
type Platform interface {
	Name() string

	// Devices returns the device candidates in enumeration order.
	Devices() ([]Device, error)

	// StreamExtension resolves the streaming primitives of the platform.
	// Resolving them more than once per process is not supported by the
	// vendor runtime.
	StreamExtension() (StreamExtension, error)
}

// Device is a candidate accelerator. It owns nothing until a context is
// created on it.
type Device interface {
	Info() DeviceInfo
	Platform() Platform
	NewContext() (Context, error)
}

// Context is the runtime state of one device. Buffers, queues and programs
// are created inside a context and must be released before it.
type Context interface {
	// NewQueue creates a command queue on the context's device.
	NewQueue(props QueueProperties) (Queue, error)

	// Program programs the device with a binary image. A failure here
	// usually means the image was built for another shell.
	Program(image Image) (Program, error)

	// NewBuffer wraps host memory as a device-visible buffer. The runtime
	// keeps a reference to host; the caller must keep it alive and must not
	// resize it until the buffer is released.
	NewBuffer(flags MemFlags, host []byte) (Buffer, error)

	Release() error
}

// Program is a device programmed with an image.
type Program interface {
	// Kernel resolves a named kernel entry point. The name may carry a
	// compute unit selector, e.g. "myadder1:{myadder1_1}".
	Kernel(entry string) (Kernel, error)
	Release() error
}

// Kernel is a device entry point with positional argument slots.
type Kernel interface {
	Name() string
	NumArgs() int
	// SetArg assigns a Buffer or an int32 scalar to the slot at index.
	SetArg(index int, value any) error
	Release() error
}

// Buffer is a device-visible view of host memory.
type Buffer interface {
	Size() int
	Flags() MemFlags
	Release() error
}

// Event tracks one enqueued command.
type Event interface {
	// Wait blocks until the command has completed.
	Wait() error
	// Profile returns device timestamps. Only valid after completion and
	// only on profiling queues.
	Profile() (start, end time.Time, err error)
}

// Queue is a device command queue.
type Queue interface {
	EnqueueMigrate(bufs []Buffer, dir MigrationDirection) (Event, error)
	EnqueueTask(k Kernel) (Event, error)
	// Finish blocks until every command enqueued so far has completed and
	// returns the first command failure, if any.
	Finish() error
	Release() error
}

// StreamFlags is the direction of a stream from the device's perspective.
type StreamFlags int

const (
	// StreamReadOnly streams are read by the kernel: the host writes.
	StreamReadOnly StreamFlags = iota
	// StreamWriteOnly streams are written by the kernel: the host reads.
	StreamWriteOnly
)

func (f StreamFlags) String() string {
	if f == StreamWriteOnly {
		return "write_only"
	}
	return "read_only"
}

// XferFlags modify a stream transfer request.
type XferFlags uint

// XferEOT marks the request as the end of the transfer.
const XferEOT XferFlags = 1

// XferRequest describes one blocking stream transfer.
type XferRequest struct {
	Flags XferFlags
	Tag   string
}

// Stream is an opaque handle to a host↔kernel stream.
type Stream interface {
	Name() string
}

// StreamExtension is the table of streaming primitives of a platform.
type StreamExtension interface {
	CreateStream(dev Device, flags StreamFlags, k Kernel, arg int) (Stream, error)
	ReleaseStream(s Stream) error
	// ReadStream blocks until len(dst) bytes were read or the kernel ended
	// the transfer.
	ReadStream(s Stream, dst []byte, req XferRequest) (int, error)
	// WriteStream blocks until the kernel consumed src.
	WriteStream(s Stream, src []byte, req XferRequest) (int, error)
}
