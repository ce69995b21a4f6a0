package logger

import (
	"go.uber.org/zap"
)

// New builds a logger writing to stderr. encoding is "json" or "console";
// empty means json.
func New(verbosity string, encoding string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	if encoding != "" {
		config.Encoding = encoding
	}
	if config.Encoding == "console" {
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}
