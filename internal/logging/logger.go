// Package logging builds the zap loggers used across both binaries.
// Every component receives its logger by injection; nothing in this
// repository reaches for a package-level global except the top-level
// CLI wiring in cmd/.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewServer builds the server's logger. debug enables development
// formatting (colored levels, caller info) at debug level; otherwise
// the server logs JSON at info level and above.
func NewServer(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// NewClient builds the client's logger. verbose enables development
// formatting at debug level; otherwise the client stays quiet, logging
// only errors, since it is meant to run unattended next to Home
// Assistant.
func NewClient(verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
