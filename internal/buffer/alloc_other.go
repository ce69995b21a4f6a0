//go:build !linux

package buffer

import (
	"unsafe"
)

func allocate(size int) ([]byte, func() error, error) {
	words := make([]int32, (size+3)/4)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return mem, func() error { return nil }, nil
}
