package logger

import (
	"io"

	"github.com/JackOfMostTrades/sep-sign/internal/pkg/config"
)

// Logger defines the logging interface
type Logger interface {
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Panic(args ...interface{})
}

// Discard returns a Logger that only records critical messages, and drops those too.
func Discard() Logger {
	return newConsoleLogger(io.Discard, config.LogLevelCritical)
}
