// Package main implements the kernelkit entry point. It binds the five
// protocol channels from a connection file, wires the execution
// dispatcher to an evaluation engine, and serves until a shutdown
// request or signal arrives.
//
// The bundled engine is a placeholder echo engine; embedders build their
// own binary around kernel.New with a real eval.Evaluator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/c360/kernelkit/config"
	"github.com/c360/kernelkit/eval"
	"github.com/c360/kernelkit/kernel"
	"github.com/c360/kernelkit/message"
	"github.com/c360/kernelkit/metric"
	"github.com/c360/kernelkit/session"
	"github.com/c360/kernelkit/stream"
	"github.com/c360/kernelkit/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "kernelkit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Kernel failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	opts, err := config.LoadOptions(cliCfg.OptionsPath)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	if cliCfg.LogLevel != "" {
		opts.LogLevel = cliCfg.LogLevel
	}

	logger := setupLogger(opts, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting kernelkit",
		"version", Version,
		"build_time", BuildTime,
		"connection_file", cliCfg.ConnectionPath)

	conn, err := config.LoadConnection(cliCfg.ConnectionPath)
	if err != nil {
		return fmt.Errorf("load connection file: %w", err)
	}

	codec, err := message.NewCodec([]byte(conn.Key), conn.SignatureScheme)
	if err != nil {
		return fmt.Errorf("create envelope codec: %w", err)
	}

	registry := metric.NewRegistry()
	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr, registry)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tr := transport.New(transport.Deps{
		Conn:            conn,
		Codec:           codec,
		MetricsRegistry: registry,
		Logger:          logger.With("component", "transport"),
	})
	if err := tr.Listen(ctx); err != nil {
		return fmt.Errorf("bind channels: %w", err)
	}

	sess := session.New(session.Deps{
		ID:        uuid.New().String(),
		Broadcast: tr.Broadcast,
		Logger:    logger.With("component", "session"),
	})

	k := kernel.New(kernel.Deps{
		Transport: tr,
		Session:   sess,
		Evaluator: echoEvaluator{},
		Info: eval.Info{
			Implementation:  appName,
			Version:         Version,
			LanguageName:    "echo",
			LanguageVersion: Version,
			MimeType:        "text/plain",
			FileExtension:   ".txt",
			Banner:          appName + " " + Version + " (echo engine)",
		},
		StreamPolicy: stream.Policy{
			MaxBuffer: opts.Stream.MaxBuffer,
			MaxTime:   opts.Stream.MaxTime(),
		},
		MetricsRegistry: registry,
		Logger:          logger.With("component", "kernel"),
	})

	slog.Info("Kernel serving",
		"transport", conn.Transport,
		"ip", conn.IP,
		"shell_port", conn.ShellPort,
		"signed", conn.Key != "")

	err = k.Run(ctx)
	slog.Info("Kernel shutdown complete")
	return err
}

// serveMetrics exposes the Prometheus endpoint. Failures are logged, not
// fatal; the kernel works without observability.
func serveMetrics(addr string, registry *metric.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("Metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		slog.Warn("Metrics endpoint stopped", "error", err)
	}
}

// echoEvaluator renders submitted code back as its own result. It stands
// in for a real engine so the protocol surface can be exercised
// end to end with any client.
type echoEvaluator struct{}

func (echoEvaluator) Evaluate(_ context.Context, code string, _ eval.IO) (*eval.Result, error) {
	if code == "" {
		return &eval.Result{}, nil
	}
	return &eval.Result{
		Data:     map[string]any{"text/plain": code},
		Metadata: map[string]any{},
	}, nil
}
