package workload

import (
	"fmt"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/buffer"
	"github.com/fxnlabs/offload-harness/internal/kernel"
	"github.com/fxnlabs/offload-harness/internal/reference"
	"github.com/fxnlabs/offload-harness/internal/stream"
	"go.uber.org/zap"
)

// Compute units of the two chained adders. The first adder's output feeds
// the second adder inside the device.
const (
	ProducerEntry = "myadder1:{myadder1_1}"
	ConsumerEntry = "myadder2:{myadder2_1}"
)

// Stream pushes a vector through two chained streaming adders: the host
// writes into the first adder's input and reads the second adder's output.
type Stream struct {
	env       Env
	maxSize   int
	increment int32
	producer  *kernel.Handle
	consumer  *kernel.Handle
	coord     *stream.Coordinator
	regs      regions

	in, out, ref *buffer.Region
}

// NewStream resolves both adders and allocates regions of maxSize elements.
// increment is the total amount the chain adds to every element.
func NewStream(env Env, binding *stream.Binding, maxSize int, increment int32) (*Stream, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("stream: invalid size %d", maxSize)
	}
	if binding == nil {
		return nil, fmt.Errorf("stream: streaming is not initialized")
	}
	w := &Stream{
		env:       env,
		maxSize:   maxSize,
		increment: increment,
		coord: stream.NewCoordinator(binding, env.Bound.Device, env.Bound.Queue,
			env.Timer, StreamName, env.logger()),
	}
	var err error
	if w.producer, err = kernel.ResolveSignature(env.Bound.Program, kernel.Adder, ProducerEntry); err != nil {
		return nil, err
	}
	if w.consumer, err = kernel.ResolveSignature(env.Bound.Program, kernel.Adder, ConsumerEntry); err != nil {
		return nil, err
	}
	if w.in, err = w.regs.alloc("a", buffer.ToDevice, maxSize); err == nil {
		if w.out, err = w.regs.alloc("hw_results", buffer.FromDevice, maxSize); err == nil {
			w.ref, err = w.regs.alloc("sw_results", buffer.FromDevice, maxSize)
		}
	}
	if err != nil {
		w.regs.release()
		return nil, err
	}
	return w, nil
}

func (w *Stream) Name() string { return StreamName }

func (w *Stream) MaxSize() int { return w.maxSize }

func (w *Stream) Prepare(size int) error {
	w.out.Zero()
	w.ref.Zero()
	w.env.Generator.Fill(size, w.in.Int32s()[:size])
	w.env.logger().Info("Vector increment",
		zap.String("elements", fmt.Sprintf("0x%x", size)),
		zap.Int32("by", w.increment))
	return nil
}

func (w *Stream) Reference(size int) error {
	reference.Increment(w.ref.Int32s()[:size], w.in.Int32s()[:size], w.increment)
	return nil
}

// Dispatch runs one streaming cycle: a host write channel on the producer's
// input argument and a host read channel on the consumer's output argument.
func (w *Stream) Dispatch(size int) error {
	in, err := w.producer.ArgIndex("in")
	if err != nil {
		return err
	}
	out, err := w.consumer.ArgIndex("out")
	if err != nil {
		return err
	}
	_, err = w.coord.RunStreamingCycle(
		[]*kernel.Handle{w.producer, w.consumer},
		[]stream.ChannelSpec{
			{Name: "write_a", Kernel: w.producer, Arg: in, Flags: accel.StreamReadOnly, Region: w.in, Len: size},
			{Name: "read", Kernel: w.consumer, Arg: out, Flags: accel.StreamWriteOnly, Region: w.out, Len: size},
		})
	return err
}

func (w *Stream) Verify(size int) error {
	return mismatch(&w.env, StreamName, size, w.ref.Int32s()[:size], w.out.Int32s()[:size], 0)
}

// Close releases the host regions.
func (w *Stream) Close() error {
	return w.regs.release()
}
