package emu

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fxnlabs/offload-harness/internal/accel"
)

type computeUnit struct {
	name     string
	function string
}

// Program implements accel.Program
type Program struct {
	ctx      *Context
	manifest *Manifest
	kernels  map[string][]computeUnit
	links    map[endpoint]int // endpoint → connection index

	mu      sync.Mutex
	pending map[int]*pipe // kernel-to-kernel pipes waiting for their other end
}

type pipe struct {
	r          *io.PipeReader
	w          *io.PipeWriter
	readTaken  bool
	writeTaken bool
}

func newProgram(ctx *Context, m *Manifest) (*Program, error) {
	p := &Program{
		ctx:      ctx,
		manifest: m,
		kernels:  make(map[string][]computeUnit),
		links:    make(map[endpoint]int),
		pending:  make(map[int]*pipe),
	}
	for _, k := range m.Kernels {
		for _, cu := range k.ComputeUnits {
			p.kernels[k.Name] = append(p.kernels[k.Name], computeUnit{name: cu, function: k.Function})
		}
	}
	for i, c := range m.Connections {
		from, _ := parseEndpoint(c.From)
		to, _ := parseEndpoint(c.To)
		p.links[from] = i
		p.links[to] = i
	}
	return p, nil
}

// Kernel resolves an entry point, optionally selecting a compute unit with
// the "name:{cu}" form.
func (p *Program) Kernel(entry string) (accel.Kernel, error) {
	name, cuName := entry, ""
	if i := strings.IndexByte(entry, ':'); i >= 0 {
		name = entry[:i]
		sel := entry[i+1:]
		if !strings.HasPrefix(sel, "{") || !strings.HasSuffix(sel, "}") {
			return nil, fmt.Errorf("invalid kernel name %q", entry)
		}
		cuName = strings.TrimSuffix(strings.TrimPrefix(sel, "{"), "}")
	}

	cus, ok := p.kernels[name]
	if !ok {
		return nil, fmt.Errorf("invalid kernel name %q: not in image", entry)
	}
	cu := cus[0]
	if cuName != "" {
		found := false
		for _, c := range cus {
			if c.name == cuName {
				cu, found = c, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("invalid kernel name %q: no compute unit %s", entry, cuName)
		}
	}

	fn := builtins[cu.function]
	return &Kernel{
		program: p,
		name:    name,
		cu:      cu.name,
		fn:      fn,
		args:    make([]any, len(fn.args)),
	}, nil
}

// Release releases the program
func (p *Program) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pp := range p.pending {
		pp.r.CloseWithError(io.ErrClosedPipe)
		pp.w.CloseWithError(io.ErrClosedPipe)
		delete(p.pending, i)
	}
	return nil
}

// linkEnd returns this compute unit's end of a kernel-to-kernel pipe,
// creating the pipe if the peer has not been enqueued yet.
func (p *Program) linkEnd(ep endpoint, kind accel.StreamFlags) (*io.PipeReader, *io.PipeWriter, bool) {
	idx, ok := p.links[ep]
	if !ok {
		return nil, nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pending[idx]
	if !ok {
		r, w := io.Pipe()
		pp = &pipe{r: r, w: w}
		p.pending[idx] = pp
	}
	var (
		r *io.PipeReader
		w *io.PipeWriter
	)
	if kind == accel.StreamWriteOnly {
		pp.writeTaken = true
		w = pp.w
	} else {
		pp.readTaken = true
		r = pp.r
	}
	if pp.readTaken && pp.writeTaken {
		delete(p.pending, idx)
	}
	return r, w, true
}

// Kernel implements accel.Kernel
type Kernel struct {
	program *Program
	name    string
	cu      string
	fn      builtin

	mu   sync.Mutex
	args []any
}

// Name returns the kernel name with its compute unit
func (k *Kernel) Name() string {
	return k.name + ":{" + k.cu + "}"
}

// NumArgs returns the number of argument slots
func (k *Kernel) NumArgs() int {
	return len(k.fn.args)
}

// SetArg assigns an argument slot
func (k *Kernel) SetArg(index int, value any) error {
	if index < 0 || index >= len(k.fn.args) {
		return fmt.Errorf("%s: invalid argument index %d", k.Name(), index)
	}
	want := k.fn.args[index]
	switch v := value.(type) {
	case *buffer:
		if want != argBuffer {
			return fmt.Errorf("%s: argument %d expects %s, got buffer", k.Name(), index, want)
		}
	case int32:
		if want != argScalar {
			return fmt.Errorf("%s: argument %d expects %s, got scalar", k.Name(), index, want)
		}
	case *hostStream:
		if want != argStream {
			return fmt.Errorf("%s: argument %d expects %s, got stream", k.Name(), index, want)
		}
	default:
		return fmt.Errorf("%s: argument %d has unsupported type %T", k.Name(), index, v)
	}
	k.mu.Lock()
	k.args[index] = value
	k.mu.Unlock()
	return nil
}

// Release releases the kernel
func (k *Kernel) Release() error {
	return nil
}

// snapshot captures the argument values for one invocation.
func (k *Kernel) snapshot() (*invocation, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	inv := &invocation{
		kernel:  k.Name(),
		buffers: make(map[int]*buffer),
		scalars: make(map[int]int32),
		readers: make(map[int]*io.PipeReader),
		writers: make(map[int]*io.PipeWriter),
	}
	for i, kind := range k.fn.args {
		if kind == argStream {
			if s, ok := k.args[i].(*hostStream); ok {
				if s.flags == accel.StreamWriteOnly {
					inv.writers[i] = s.w
				} else {
					inv.readers[i] = s.r
				}
				continue
			}
			ep := endpoint{cu: k.cu, arg: i}
			if _, linked := k.program.links[ep]; !linked {
				return nil, fmt.Errorf("%s: argument %d not set", k.Name(), i)
			}
			continue
		}
		switch v := k.args[i].(type) {
		case *buffer:
			inv.buffers[i] = v
		case int32:
			inv.scalars[i] = v
		default:
			return nil, fmt.Errorf("%s: argument %d not set", k.Name(), i)
		}
	}
	// Kernel-to-kernel ends are taken last so a failed snapshot leaves no
	// half-claimed pipe behind.
	for i, kind := range k.fn.args {
		if kind != argStream {
			continue
		}
		if _, set := k.args[i].(*hostStream); set {
			continue
		}
		ep := endpoint{cu: k.cu, arg: i}
		dir := accel.StreamReadOnly
		if k.isProducer(ep) {
			dir = accel.StreamWriteOnly
		}
		r, w, _ := k.program.linkEnd(ep, dir)
		if w != nil {
			inv.writers[i] = w
		} else {
			inv.readers[i] = r
		}
	}
	return inv, nil
}

func (k *Kernel) isProducer(ep endpoint) bool {
	idx := k.program.links[ep]
	from, _ := parseEndpoint(k.program.manifest.Connections[idx].From)
	return from == ep
}
