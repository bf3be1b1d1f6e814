package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConnectionPath string
	OptionsPath    string
	LogLevel       string
	LogFormat      string
	ShowVersion    bool
	ShowHelp       bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConnectionPath, "connection",
		getEnv("KERNELKIT_CONNECTION", ""),
		"Path to the connection file (env: KERNELKIT_CONNECTION)")

	flag.StringVar(&cfg.ConnectionPath, "f",
		getEnv("KERNELKIT_CONNECTION", ""),
		"Path to the connection file (env: KERNELKIT_CONNECTION)")

	flag.StringVar(&cfg.OptionsPath, "options",
		getEnv("KERNELKIT_OPTIONS", ""),
		"Path to the TOML options file (env: KERNELKIT_OPTIONS)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("KERNELKIT_LOG_LEVEL", ""),
		"Log level override: debug, info, warn, error (env: KERNELKIT_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("KERNELKIT_LOG_FORMAT", "json"),
		"Log format: json, text (env: KERNELKIT_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Front-ends pass the connection file as the sole positional argument.
	if cfg.ConnectionPath == "" && flag.NArg() == 1 {
		cfg.ConnectionPath = flag.Arg(0)
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConnectionPath == "" {
		return fmt.Errorf("connection file required (use --connection or a positional argument)")
	}
	if _, err := os.Stat(cfg.ConnectionPath); err != nil {
		return fmt.Errorf("connection file not found: %s", cfg.ConnectionPath)
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Interactive Execution Kernel

Usage: %s [options] [connection-file]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a front-end connection file
  %s --connection=/run/user/1000/kernel-abc.json

  # Front-end style invocation
  %s /run/user/1000/kernel-abc.json

  # Run with buffered output defaults from an options file
  %s --options=/etc/kernelkit/options.toml /tmp/conn.json

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
