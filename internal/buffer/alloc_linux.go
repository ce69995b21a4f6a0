//go:build linux

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocate maps anonymous pages so region memory is page-aligned, which
// lets the runtime use it in place.
func allocate(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
