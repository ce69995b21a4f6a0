package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("../../fixtures/tests/config/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "partition", config.Workload)
		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "json", config.Logger.Encoding)
		require.Len(t, config.Platform.Devices, 2)
		assert.Equal(t, "emu0", config.Platform.Devices[0].Name)
		assert.Equal(t, "emu_u250", config.Platform.Devices[1].Shell)
		assert.Equal(t, []int{2, 3}, config.Sweep.Sizes)
		assert.Equal(t, 1, config.Sweep.Retries)
		assert.Equal(t, uint64(42), config.Sweep.Seed)
		assert.Equal(t, 8, config.Partition.Dim)
		assert.Equal(t, "/tmp/report.csv", config.Report.Path)
		assert.Equal(t, "127.0.0.1:9100", config.Metrics.ListenAddress)
		// untouched keys keep their defaults
		assert.Equal(t, 639, config.MMult.MaxDim)
		assert.Equal(t, int32(2), config.Stream.Increment)
		assert.NoError(t, config.Validate())
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir, err := os.Getwd()
		require.NoError(t, err)

		configPath := filepath.Join(dir, "..", "..", "fixtures", "tests", "invalid_config", "config.yaml")
		_, err = LoadConfig(configPath)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown workload", func(c *Config) { c.Workload = "fft" }, `unknown workload "fft"`},
		{"no devices", func(c *Config) { c.Platform.Devices = nil }, "platform.devices is empty"},
		{"device without shell", func(c *Config) { c.Platform.Devices[0].Shell = "" }, "needs a name and a shell"},
		{"bad range", func(c *Config) { c.Sweep.Step = 0 }, "invalid sweep range"},
		{"non-positive size", func(c *Config) { c.Sweep.Sizes = []int{4, 0} }, "invalid sweep size 0"},
		{"negative retries", func(c *Config) { c.Sweep.Retries = -1 }, "sweep.retries"},
		{"bad encoding", func(c *Config) { c.Logger.Encoding = "xml" }, "logger.encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSweepSizes(t *testing.T) {
	t.Run("default mmult range", func(t *testing.T) {
		sizes := Default().SweepSizes()
		require.Len(t, sizes, 21)
		assert.Equal(t, 10, sizes[0])
		assert.Equal(t, 630, sizes[len(sizes)-1])
	})

	t.Run("explicit sizes keep their order", func(t *testing.T) {
		c := Default()
		c.Sweep.Sizes = []int{7, 3, 5}
		assert.Equal(t, []int{7, 3, 5}, c.SweepSizes())
	})

	t.Run("single size workloads", func(t *testing.T) {
		c := Default()
		c.Workload = "partition"
		assert.Equal(t, []int{16}, c.SweepSizes())
		c.Workload = "stream"
		assert.Equal(t, []int{2 * 1024 * 1024}, c.SweepSizes())
	})
}
