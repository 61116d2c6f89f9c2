// Package logging builds the zap loggers used across siphon.
// Components receive a *zap.Logger and derive named children; there are
// no package-level logger globals.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger. When verbose is true the level drops
// to debug and caller information is included.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		config.Development = true
	}
	return config.Build()
}

// Nop returns a logger that discards everything. Used by tests and as
// the default when a component is constructed without a logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns log unchanged, or a nop logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
