package accel

import (
	"fmt"
	"os"
)

// Image is a program image loaded once per run. Its bytes are shared
// read-only by every candidate device the selector tries.
type Image struct {
	Path string
	data []byte
}

// NewImage wraps data as an image. data must not be modified afterwards.
func NewImage(path string, data []byte) Image {
	return Image{Path: path, data: data}
}

// LoadImage reads a program image file in full.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read program image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("program image %s is empty", path)
	}
	return NewImage(path, data), nil
}

// Bytes returns the image contents. Callers must treat them as read-only.
func (i Image) Bytes() []byte {
	return i.data
}

// Len returns the image size in bytes.
func (i Image) Len() int {
	return len(i.data)
}
