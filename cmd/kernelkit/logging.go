package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/c360/kernelkit/config"
)

func setupLogger(opts config.Options, format string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     opts.SlogLevel(),
		AddSource: opts.LogLevel == "debug",
	}

	// Log to stderr: stdout belongs to the protocol streams when a
	// front-end launches the kernel as a subprocess.
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
