package stream

import (
	"fmt"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"go.uber.org/zap"
)

// Binding holds the streaming primitives resolved from one platform. It is
// created once per process by Init and passed to every coordinator.
type Binding struct {
	ext      accel.StreamExtension
	platform string
	logger   *zap.Logger
}

// Init resolves the streaming primitives of platform. Call it exactly once
// per process; platforms reject a second resolution.
func Init(platform accel.Platform, logger *zap.Logger) (*Binding, error) {
	ext, err := platform.StreamExtension()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize streaming on platform %s: %w", platform.Name(), err)
	}
	b := &Binding{ext: ext, platform: platform.Name(), logger: logger.Named("stream")}
	b.logger.Info("Streaming initialized", zap.String("platform", b.platform))
	return b, nil
}

// Platform returns the name of the bound platform.
func (b *Binding) Platform() string { return b.platform }

func (b *Binding) create(dev accel.Device, flags accel.StreamFlags, k accel.Kernel, arg int) (accel.Stream, error) {
	return b.ext.CreateStream(dev, flags, k, arg)
}

func (b *Binding) release(s accel.Stream) error {
	return b.ext.ReleaseStream(s)
}

func (b *Binding) read(s accel.Stream, dst []byte, req accel.XferRequest) (int, error) {
	return b.ext.ReadStream(s, dst, req)
}

func (b *Binding) write(s accel.Stream, src []byte, req accel.XferRequest) (int, error) {
	return b.ext.WriteStream(s, src, req)
}
