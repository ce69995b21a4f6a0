// Package acceltest provides recording fakes of the accel runtime contract.
// Every queue and stream call is appended to a shared Recorder so tests can
// assert on ordering.
package acceltest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
)

// Recorder is an append-only, goroutine-safe call log.
type Recorder struct {
	mu  sync.Mutex
	ops []string
}

// Record appends an entry
func (r *Recorder) Record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, fmt.Sprintf(format, args...))
}

// Ops returns a copy of the log
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	copy(out, r.ops)
	return out
}

// Index returns the position of the first entry equal to op, or -1.
func (r *Recorder) Index(op string) int {
	for i, o := range r.Ops() {
		if o == op {
			return i
		}
	}
	return -1
}

// Platform is a fake accel.Platform
type Platform struct {
	Recorder   *Recorder
	Candidates []*Device
	Streams    *StreamExtension

	resolved bool
}

// NewPlatform creates a platform with the given devices sharing one recorder.
func NewPlatform(devices ...*Device) *Platform {
	rec := &Recorder{}
	p := &Platform{Recorder: rec, Candidates: devices, Streams: &StreamExtension{Recorder: rec}}
	for _, d := range devices {
		d.platform = p
		d.Recorder = rec
	}
	return p
}

func (p *Platform) Name() string { return "fake" }

func (p *Platform) Devices() ([]accel.Device, error) {
	out := make([]accel.Device, len(p.Candidates))
	for i, d := range p.Candidates {
		out[i] = d
	}
	return out, nil
}

func (p *Platform) StreamExtension() (accel.StreamExtension, error) {
	if p.resolved {
		return nil, accel.ErrStreamAlreadyInitialized
	}
	p.resolved = true
	return p.Streams, nil
}

// Device is a fake accel.Device. The Fail fields make the corresponding
// construction step fail.
type Device struct {
	Name        string
	FailContext error
	FailQueue   error
	FailProgram error
	// Run, when set, executes a kernel task synchronously inside EnqueueTask.
	Run func(k *Kernel) error

	Recorder *Recorder
	Contexts []*Context
	platform *Platform
}

func (d *Device) Info() accel.DeviceInfo {
	return accel.DeviceInfo{Name: d.Name, Shell: "fake", Vendor: "acceltest"}
}

func (d *Device) Platform() accel.Platform { return d.platform }

func (d *Device) NewContext() (accel.Context, error) {
	d.Recorder.Record("context:%s", d.Name)
	if d.FailContext != nil {
		return nil, d.FailContext
	}
	c := &Context{device: d}
	d.Contexts = append(d.Contexts, c)
	return c, nil
}

// Context is a fake accel.Context
type Context struct {
	device   *Device
	Queues   []*Queue
	Buffers  []*Buffer
	Released bool
}

func (c *Context) NewQueue(props accel.QueueProperties) (accel.Queue, error) {
	if c.device.FailQueue != nil {
		return nil, c.device.FailQueue
	}
	q := &Queue{Props: props, device: c.device}
	c.Queues = append(c.Queues, q)
	return q, nil
}

func (c *Context) Program(image accel.Image) (accel.Program, error) {
	c.device.Recorder.Record("program:%s", c.device.Name)
	if c.device.FailProgram != nil {
		return nil, c.device.FailProgram
	}
	return &Program{device: c.device}, nil
}

func (c *Context) NewBuffer(flags accel.MemFlags, host []byte) (accel.Buffer, error) {
	b := &Buffer{Host: host, flags: flags}
	c.Buffers = append(c.Buffers, b)
	return b, nil
}

func (c *Context) Release() error {
	if c.Released {
		return errors.New("context already released")
	}
	c.Released = true
	return nil
}

// Program is a fake accel.Program. Kernels listed in Missing cannot be resolved.
type Program struct {
	Missing  map[string]bool
	Released bool
	device   *Device
}

func (p *Program) Kernel(entry string) (accel.Kernel, error) {
	if p.Missing[entry] {
		return nil, fmt.Errorf("invalid kernel name %q", entry)
	}
	return &Kernel{name: entry, Args: make(map[int]any), nargs: 8}, nil
}

func (p *Program) Release() error {
	p.Released = true
	return nil
}

// Kernel is a fake accel.Kernel
type Kernel struct {
	name     string
	nargs    int
	Args     map[int]any
	Released bool
}

// NewKernel creates a standalone kernel with n argument slots.
func NewKernel(name string, n int) *Kernel {
	return &Kernel{name: name, nargs: n, Args: make(map[int]any)}
}

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) NumArgs() int { return k.nargs }

func (k *Kernel) SetArg(index int, value any) error {
	if index < 0 || index >= k.nargs {
		return fmt.Errorf("invalid argument index %d", index)
	}
	k.Args[index] = value
	return nil
}

func (k *Kernel) Release() error {
	k.Released = true
	return nil
}

// Buffer is a fake accel.Buffer
type Buffer struct {
	Host     []byte
	Released bool
	flags    accel.MemFlags
}

func (b *Buffer) Size() int { return len(b.Host) }

func (b *Buffer) Flags() accel.MemFlags { return b.flags }

func (b *Buffer) Release() error {
	b.Released = true
	return nil
}

type event struct {
	err error
}

func (e event) Wait() error { return e.err }

func (e event) Profile() (time.Time, time.Time, error) {
	now := time.Now()
	return now, now, nil
}

// Queue is a fake accel.Queue that records every call.
type Queue struct {
	Props       accel.QueueProperties
	FailMigrate map[accel.MigrationDirection]error
	FailTask    error
	FailFinish  error
	Released    bool
	device      *Device
}

func (q *Queue) EnqueueMigrate(bufs []accel.Buffer, dir accel.MigrationDirection) (accel.Event, error) {
	q.device.Recorder.Record("migrate:%s:%d", dir, len(bufs))
	if err := q.FailMigrate[dir]; err != nil {
		return nil, err
	}
	return event{}, nil
}

func (q *Queue) EnqueueTask(k accel.Kernel) (accel.Event, error) {
	q.device.Recorder.Record("task:%s", k.Name())
	if q.FailTask != nil {
		return nil, q.FailTask
	}
	if q.device.Run != nil {
		if fk, ok := k.(*Kernel); ok {
			return event{err: q.device.Run(fk)}, nil
		}
	}
	return event{}, nil
}

func (q *Queue) Finish() error {
	q.device.Recorder.Record("finish")
	return q.FailFinish
}

func (q *Queue) Release() error {
	q.Released = true
	return nil
}

// Stream is a fake accel.Stream
type Stream struct {
	name     string
	Flags    accel.StreamFlags
	Released bool
}

func (s *Stream) Name() string { return s.name }

// StreamExtension is a fake accel.StreamExtension. Delay slows down transfers
// per direction; Fill produces the data returned by reads. ShortWrite makes
// writes report one element less than they were given.
type StreamExtension struct {
	Recorder    *Recorder
	Delay       map[accel.StreamFlags]time.Duration
	Fill        func(dst []byte)
	FailRead    error
	FailWrite   error
	FailRelease error
	ShortWrite  bool

	mu      sync.Mutex
	Created []*Stream
	Written [][]byte
}

func (x *StreamExtension) CreateStream(dev accel.Device, flags accel.StreamFlags, k accel.Kernel, arg int) (accel.Stream, error) {
	s := &Stream{name: fmt.Sprintf("%s.%d", k.Name(), arg), Flags: flags}
	x.mu.Lock()
	x.Created = append(x.Created, s)
	x.mu.Unlock()
	x.Recorder.Record("stream_create:%s", s.name)
	return s, nil
}

func (x *StreamExtension) ReleaseStream(s accel.Stream) error {
	fs := s.(*Stream)
	fs.Released = true
	x.Recorder.Record("stream_release:%s", fs.name)
	return x.FailRelease
}

func (x *StreamExtension) ReadStream(s accel.Stream, dst []byte, req accel.XferRequest) (int, error) {
	time.Sleep(x.Delay[accel.StreamWriteOnly])
	if x.FailRead != nil {
		return 0, x.FailRead
	}
	if x.Fill != nil {
		x.Fill(dst)
	}
	x.Recorder.Record("read_done:%s", s.Name())
	return len(dst), nil
}

func (x *StreamExtension) WriteStream(s accel.Stream, src []byte, req accel.XferRequest) (int, error) {
	time.Sleep(x.Delay[accel.StreamReadOnly])
	if x.FailWrite != nil {
		return 0, x.FailWrite
	}
	x.mu.Lock()
	x.Written = append(x.Written, append([]byte(nil), src...))
	x.mu.Unlock()
	x.Recorder.Record("write_done:%s", s.Name())
	if x.ShortWrite {
		return len(src) - accel.Int32Size, nil
	}
	return len(src), nil
}

var (
	_ accel.Platform        = (*Platform)(nil)
	_ accel.Device          = (*Device)(nil)
	_ accel.Context         = (*Context)(nil)
	_ accel.Queue           = (*Queue)(nil)
	_ accel.StreamExtension = (*StreamExtension)(nil)
)
