package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates the process logger: JSON to stdout, plus JSON to
// LogFile when one is configured. The returned cleanup closes the file.
func SetupLogger(c *Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	stdoutHandler := slog.NewJSONHandler(os.Stdout, opts)

	if c.LogFile == "" {
		return slog.New(stdoutHandler), func() error { return nil }
	}

	file, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("Failed to open log file, using stdout only", "error", err, "file", c.LogFile)
		return slog.New(stdoutHandler), func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(stdoutHandler, slog.NewJSONHandler(file, opts)))
	return logger, file.Close
}

// SetupLoggerWithWriters creates a fan-out logger with custom writers (for testing
// and for the terminal client, which keeps stdout for the conversation).
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})
	if file == nil {
		return slog.New(consoleHandler)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
}
