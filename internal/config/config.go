package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

type DeviceConfig struct {
	Name         string `yaml:"name"`
	Shell        string `yaml:"shell"`
	GlobalMemory int64  `yaml:"globalMemory"`
}

type Config struct {
	Workload string `yaml:"workload"`
	Logger   struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Platform struct {
		Name    string         `yaml:"name"`
		Devices []DeviceConfig `yaml:"devices"`
	} `yaml:"platform"`
	Sweep struct {
		Start    int    `yaml:"start"`
		End      int    `yaml:"end"`
		Step     int    `yaml:"step"`
		Sizes    []int  `yaml:"sizes"`
		Retries  int    `yaml:"retries"`
		Seed     uint64 `yaml:"seed"`
		InputMax int32  `yaml:"inputMax"`
	} `yaml:"sweep"`
	MMult struct {
		MaxDim int `yaml:"maxDim"`
	} `yaml:"mmult"`
	Partition struct {
		Dim int `yaml:"dim"`
	} `yaml:"partition"`
	Stream struct {
		Size      int   `yaml:"size"`
		Increment int32 `yaml:"increment"`
	} `yaml:"stream"`
	Report struct {
		Path string `yaml:"path"`
	} `yaml:"report"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is given: one
// emulated device, the mmult sweep over 10..639 in steps of 31.
func Default() *Config {
	c := &Config{Workload: "mmult"}
	c.Logger.Verbosity = "info"
	c.Logger.Encoding = "console"
	c.Platform.Name = "emulator"
	c.Platform.Devices = []DeviceConfig{{Name: "emu0", Shell: "emu_u200"}}
	c.Sweep.Start = 10
	c.Sweep.End = 639
	c.Sweep.Step = 31
	c.Sweep.Seed = 1
	c.Sweep.InputMax = 10
	c.MMult.MaxDim = 639
	c.Partition.Dim = 16
	c.Stream.Size = 2 * 1024 * 1024
	c.Stream.Increment = 2
	c.Report.Path = "key_exe_times.csv"
	return c
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{"mmult", "partition", "stream"}, c.Workload) {
		errs = append(errs, fmt.Errorf("unknown workload %q", c.Workload))
	}
	if c.Logger.Encoding != "console" && c.Logger.Encoding != "json" {
		errs = append(errs, fmt.Errorf("logger.encoding must be console or json, got %q", c.Logger.Encoding))
	}
	if len(c.Platform.Devices) == 0 {
		errs = append(errs, errors.New("platform.devices is empty"))
	}
	for i, d := range c.Platform.Devices {
		if d.Name == "" || d.Shell == "" {
			errs = append(errs, fmt.Errorf("platform.devices[%d] needs a name and a shell", i))
		}
	}
	if c.Sweep.Retries < 0 {
		errs = append(errs, errors.New("sweep.retries must not be negative"))
	}
	if len(c.Sweep.Sizes) == 0 && (c.Sweep.Step <= 0 || c.Sweep.Start <= 0 || c.Sweep.End < c.Sweep.Start) {
		errs = append(errs, fmt.Errorf("invalid sweep range %d..%d step %d", c.Sweep.Start, c.Sweep.End, c.Sweep.Step))
	}
	for _, s := range c.Sweep.Sizes {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("invalid sweep size %d", s))
		}
	}
	if c.MMult.MaxDim <= 0 || c.Partition.Dim <= 0 || c.Stream.Size <= 0 {
		errs = append(errs, errors.New("mmult.maxDim, partition.dim and stream.size must be positive"))
	}
	return errors.Join(errs...)
}

// SweepSizes returns the problem sizes of the configured workload. mmult
// uses sweep.sizes or the start..end range; partition and stream run their
// single configured size unless sweep.sizes is set.
func (c *Config) SweepSizes() []int {
	if len(c.Sweep.Sizes) > 0 {
		return slices.Clone(c.Sweep.Sizes)
	}
	switch c.Workload {
	case "partition":
		return []int{c.Partition.Dim}
	case "stream":
		return []int{c.Stream.Size}
	}
	var sizes []int
	for k := c.Sweep.Start; k <= c.Sweep.End; k += c.Sweep.Step {
		sizes = append(sizes, k)
	}
	return sizes
}
