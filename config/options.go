package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/c360/kernelkit/errors"
)

// Options holds embedder-facing kernel policy, loaded from an optional
// TOML file next to the kernel installation. Everything here has a
// sensible default; a missing file is not an error.
type Options struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// MetricsAddr enables the Prometheus /metrics endpoint when set,
	// e.g. "127.0.0.1:9700". Empty disables the endpoint.
	MetricsAddr string `toml:"metrics_addr"`

	Stream StreamOptions `toml:"stream"`
}

// StreamOptions is the default output-buffering policy applied before any
// %output directive reconfigures it.
type StreamOptions struct {
	// MaxBuffer is the flush threshold in characters; 0 selects the
	// immediate policy.
	MaxBuffer int `toml:"max_buffer"`

	// MaxTimeMS bounds how long output may sit unflushed, measured from
	// the first unflushed character.
	MaxTimeMS int `toml:"max_time_ms"`
}

// MaxTime returns the buffered-flush deadline as a duration.
func (s StreamOptions) MaxTime() time.Duration {
	return time.Duration(s.MaxTimeMS) * time.Millisecond
}

// DefaultOptions returns the options used when no file is present.
func DefaultOptions() Options {
	return Options{
		LogLevel: "info",
	}
}

// LoadOptions reads a TOML options file, falling back to defaults when
// the path is empty or the file does not exist.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, nil
	}

	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return Options{}, errors.WrapInvalid(err, "config", "LoadOptions", "TOML parse")
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks option values for consistency.
func (o Options) Validate() error {
	switch o.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", o.LogLevel),
			"Options", "Validate", "log level check")
	}
	if o.Stream.MaxBuffer < 0 || o.Stream.MaxTimeMS < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("negative stream thresholds"),
			"Options", "Validate", "stream policy check")
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (o Options) SlogLevel() slog.Level {
	switch o.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
