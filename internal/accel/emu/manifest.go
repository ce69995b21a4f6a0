package emu

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the container format of emulator program images. Real
// vendor images are opaque to the harness; the emulator is the one place
// that interprets them.
type Manifest struct {
	Target      string           `yaml:"target"`
	Kernels     []KernelManifest `yaml:"kernels"`
	Connections []Connection     `yaml:"connections"`
}

// KernelManifest declares one kernel and its compute units.
type KernelManifest struct {
	Name         string   `yaml:"name"`
	Function     string   `yaml:"function"` // builtin implementation, defaults to Name
	ComputeUnits []string `yaml:"computeUnits"`
}

// Connection is a kernel-to-kernel stream between two compute unit
// arguments, written "cu.arg".
type Connection struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type endpoint struct {
	cu  string
	arg int
}

func parseEndpoint(s string) (endpoint, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return endpoint{}, fmt.Errorf("invalid stream endpoint %q", s)
	}
	arg, err := strconv.Atoi(s[i+1:])
	if err != nil || arg < 0 {
		return endpoint{}, fmt.Errorf("invalid stream endpoint %q", s)
	}
	return endpoint{cu: s[:i], arg: arg}, nil
}

// ParseManifest decodes and validates an image.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid binary: %w", err)
	}
	if m.Target == "" {
		return nil, fmt.Errorf("invalid binary: missing target shell")
	}
	if len(m.Kernels) == 0 {
		return nil, fmt.Errorf("invalid binary: no kernels")
	}

	cus := make(map[string]string)
	for i := range m.Kernels {
		k := &m.Kernels[i]
		if k.Name == "" {
			return nil, fmt.Errorf("invalid binary: kernel %d has no name", i)
		}
		if k.Function == "" {
			k.Function = k.Name
		}
		if _, ok := builtins[k.Function]; !ok {
			return nil, fmt.Errorf("invalid binary: unknown kernel function %q", k.Function)
		}
		if len(k.ComputeUnits) == 0 {
			k.ComputeUnits = []string{k.Name + "_1"}
		}
		for _, cu := range k.ComputeUnits {
			if _, dup := cus[cu]; dup {
				return nil, fmt.Errorf("invalid binary: duplicate compute unit %q", cu)
			}
			cus[cu] = k.Function
		}
	}

	for _, c := range m.Connections {
		for _, s := range []string{c.From, c.To} {
			ep, err := parseEndpoint(s)
			if err != nil {
				return nil, fmt.Errorf("invalid binary: %w", err)
			}
			fn, ok := cus[ep.cu]
			if !ok {
				return nil, fmt.Errorf("invalid binary: connection to unknown compute unit %q", ep.cu)
			}
			if args := builtins[fn].args; ep.arg >= len(args) || args[ep.arg] != argStream {
				return nil, fmt.Errorf("invalid binary: %s is not a stream argument", s)
			}
		}
	}
	return &m, nil
}
