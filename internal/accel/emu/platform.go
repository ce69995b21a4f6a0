// Package emu is an in-process emulated accelerator runtime. Devices are
// flashed with a shell; an image only programs devices whose shell matches
// the image target. Buffers keep a separate device-side copy, so data is
// only visible to kernels after it was migrated.
package emu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"go.uber.org/zap"
)

// DeviceConfig describes one emulated device.
type DeviceConfig struct {
	Name         string
	Shell        string
	GlobalMemory int64
}

// Platform implements accel.Platform
type Platform struct {
	name            string
	devices         []accel.Device
	logger          *zap.Logger
	streamsResolved atomic.Bool
}

// NewPlatform creates an emulated platform exposing the given devices in order.
func NewPlatform(name string, devices []DeviceConfig, logger *zap.Logger) *Platform {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Platform{
		name:   name,
		logger: logger.Named("emu"),
	}
	for i, cfg := range devices {
		if cfg.GlobalMemory == 0 {
			cfg.GlobalMemory = 64 << 30
		}
		p.devices = append(p.devices, &Device{platform: p, index: i, cfg: cfg})
	}
	return p
}

// Name returns the platform name
func (p *Platform) Name() string {
	return p.name
}

// Devices returns the emulated devices
func (p *Platform) Devices() ([]accel.Device, error) {
	if len(p.devices) == 0 {
		return nil, fmt.Errorf("platform %s: no devices found", p.name)
	}
	out := make([]accel.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

// StreamExtension resolves the streaming primitives. The second call fails.
func (p *Platform) StreamExtension() (accel.StreamExtension, error) {
	if !p.streamsResolved.CompareAndSwap(false, true) {
		return nil, accel.ErrStreamAlreadyInitialized
	}
	p.logger.Debug("streaming extension resolved", zap.String("platform", p.name))
	return &streamExtension{logger: p.logger}, nil
}

// Device implements accel.Device
type Device struct {
	platform *Platform
	index    int
	cfg      DeviceConfig
}

// Info returns information about the emulated device
func (d *Device) Info() accel.DeviceInfo {
	return accel.DeviceInfo{
		Name:         d.cfg.Name,
		Shell:        d.cfg.Shell,
		Vendor:       fmt.Sprintf("emulated (%s)", runtime.GOARCH),
		GlobalMemory: d.cfg.GlobalMemory,
	}
}

// Platform returns the owning platform
func (d *Device) Platform() accel.Platform {
	return d.platform
}

// NewContext creates a context on the device
func (d *Device) NewContext() (accel.Context, error) {
	return &Context{device: d, logger: d.platform.logger.With(zap.String("device", d.cfg.Name))}, nil
}

// Context implements accel.Context
type Context struct {
	device   *Device
	logger   *zap.Logger
	mu       sync.Mutex
	released bool
}

func (c *Context) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("context on %s already released", c.device.cfg.Name)
	}
	return nil
}

// NewQueue creates a command queue
func (c *Context) NewQueue(props accel.QueueProperties) (accel.Queue, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	return newQueue(c, props), nil
}

// Program programs the device with an emulator image
func (c *Context) Program(image accel.Image) (accel.Program, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	m, err := ParseManifest(image.Bytes())
	if err != nil {
		return nil, err
	}
	if m.Target != c.device.cfg.Shell {
		return nil, fmt.Errorf("invalid binary: image built for shell %q, device %s runs %q",
			m.Target, c.device.cfg.Name, c.device.cfg.Shell)
	}
	c.logger.Debug("device programmed", zap.String("target", m.Target), zap.Int("kernels", len(m.Kernels)))
	return newProgram(c, m)
}

// NewBuffer wraps host memory in a device buffer
func (c *Context) NewBuffer(flags accel.MemFlags, host []byte) (accel.Buffer, error) {
	if err := c.alive(); err != nil {
		return nil, err
	}
	if len(host) == 0 {
		return nil, fmt.Errorf("invalid buffer size 0")
	}
	if len(host)%accel.Int32Size != 0 {
		return nil, fmt.Errorf("invalid buffer size %d: not a multiple of %d", len(host), accel.Int32Size)
	}
	if int64(len(host)) > c.device.cfg.GlobalMemory {
		return nil, fmt.Errorf("buffer of %d bytes exceeds device memory", len(host))
	}
	return &buffer{
		host:   host,
		device: make([]int32, len(host)/accel.Int32Size),
		flags:  flags,
	}, nil
}

// Release releases the context
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("context on %s already released", c.device.cfg.Name)
	}
	c.released = true
	return nil
}
