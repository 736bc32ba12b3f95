// Package main is the entry point for the mailsend command: it builds one
// message from flags or an imported .eml file and hands it to the
// configured delivery provider.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mailsend-lite/internal/config"
	"github.com/shineum/mailsend-lite/internal/email"
	"github.com/shineum/mailsend-lite/internal/smtp"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, sends one message and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.envFile != "" {
		if err := config.LoadEnvFile(opts.envFile); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load configuration:", err)
		return 1
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}

	// Setup structured logging. stdout carries the transcript.
	setupLogger(cfg.Logging.Level, stderr)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	msg, err := opts.buildMessage()
	if err != nil {
		slog.Error("failed to build message", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, aborting send", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The direct-socket client reports its transcript, so it is not driven
	// through the Provider interface.
	if cfg.Provider == "smtp" {
		return sendSMTP(ctx, cfg, msg, stdout)
	}

	prov, err := selectProvider(ctx, cfg, stdout)
	if err != nil {
		slog.Error("failed to create provider", "provider", cfg.Provider, "error", err)
		return 1
	}

	if err := prov.Send(ctx, msg); err != nil {
		slog.Error("send failed", "provider", prov.Name(), "error", err)
		return 1
	}
	slog.Info("message sent", "provider", prov.Name(), "recipients", len(msg.Recipients()))
	return 0
}

func sendSMTP(ctx context.Context, cfg *config.Config, msg *email.Message, stdout io.Writer) int {
	tc, err := transportConfig(cfg)
	if err != nil {
		slog.Error("invalid smtp configuration", "error", err)
		return 1
	}

	transcript, sendErr := smtp.Send(ctx, msg, tc)

	out, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		slog.Error("failed to encode transcript", "error", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))

	if sendErr != nil {
		slog.Error("send failed",
			"provider", "smtp",
			"session", transcript.ID(),
			"error", sendErr,
		)
		return 1
	}
	slog.Info("message sent",
		"provider", "smtp",
		"session", transcript.ID(),
		"data_code", transcript.Code(smtp.StepData),
	)
	return 0
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string, w io.Writer) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
