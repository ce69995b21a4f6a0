package emu

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"go.uber.org/zap"
)

var errStreamReleased = errors.New("stream released")

type hostStream struct {
	name  string
	flags accel.StreamFlags
	r     *io.PipeReader
	w     *io.PipeWriter
}

func (s *hostStream) Name() string {
	return s.name
}

type streamExtension struct {
	logger *zap.Logger
}

func (x *streamExtension) CreateStream(dev accel.Device, flags accel.StreamFlags, k accel.Kernel, arg int) (accel.Stream, error) {
	ek, ok := k.(*Kernel)
	if !ok {
		return nil, fmt.Errorf("kernel was not created by this runtime")
	}
	if ek.program.ctx.device != dev {
		return nil, fmt.Errorf("kernel %s does not belong to device %s", ek.Name(), dev.Info().Name)
	}
	r, w := io.Pipe()
	s := &hostStream{
		name:  fmt.Sprintf("%s.%d", ek.cu, arg),
		flags: flags,
		r:     r,
		w:     w,
	}
	if err := ek.SetArg(arg, s); err != nil {
		return nil, err
	}
	x.logger.Debug("stream created", zap.String("stream", s.name), zap.Stringer("flags", flags))
	return s, nil
}

func (x *streamExtension) ReleaseStream(s accel.Stream) error {
	hs, ok := s.(*hostStream)
	if !ok {
		return fmt.Errorf("stream was not created by this runtime")
	}
	hs.r.CloseWithError(errStreamReleased)
	hs.w.CloseWithError(errStreamReleased)
	return nil
}

func (x *streamExtension) ReadStream(s accel.Stream, dst []byte, req accel.XferRequest) (int, error) {
	hs, ok := s.(*hostStream)
	if !ok {
		return 0, fmt.Errorf("stream was not created by this runtime")
	}
	if hs.flags != accel.StreamWriteOnly {
		return 0, fmt.Errorf("read from %s stream %s", hs.flags, hs.name)
	}
	n, err := io.ReadFull(hs.r, dst)
	if err != nil {
		return n, fmt.Errorf("read %q: %w", req.Tag, err)
	}
	return n, nil
}

func (x *streamExtension) WriteStream(s accel.Stream, src []byte, req accel.XferRequest) (int, error) {
	hs, ok := s.(*hostStream)
	if !ok {
		return 0, fmt.Errorf("stream was not created by this runtime")
	}
	if hs.flags != accel.StreamReadOnly {
		return 0, fmt.Errorf("write to %s stream %s", hs.flags, hs.name)
	}
	n, err := hs.w.Write(src)
	if err != nil {
		return n, fmt.Errorf("write %q: %w", req.Tag, err)
	}
	if req.Flags&accel.XferEOT != 0 {
		hs.w.Close()
	}
	return n, nil
}
