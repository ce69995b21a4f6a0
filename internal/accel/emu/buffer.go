package emu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/fxnlabs/offload-harness/internal/accel"
)

type buffer struct {
	mu       sync.Mutex
	host     []byte
	device   []int32
	flags    accel.MemFlags
	released bool
}

func (b *buffer) Size() int {
	return len(b.host)
}

func (b *buffer) Flags() accel.MemFlags {
	return b.flags
}

func (b *buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return fmt.Errorf("buffer already released")
	}
	b.released = true
	return nil
}

func (b *buffer) migrate(dir accel.MigrationDirection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return fmt.Errorf("migration of released buffer")
	}
	dev := byteView(b.device)
	if dir == accel.MigrateToHost {
		copy(b.host, dev)
	} else {
		copy(dev, b.host)
	}
	return nil
}

func byteView(w []int32) []byte {
	if len(w) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), len(w)*accel.Int32Size)
}

func int32View(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/accel.Int32Size)
}
