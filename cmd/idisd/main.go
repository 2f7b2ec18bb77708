// Command idisd runs the IDIS trust-and-provenance core: it wires the
// service registry from the environment and holds it until shutdown.
// Transport surfaces mount on top of the registry and are deliberately
// not part of this binary.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/idis-platform/idis/pkg/config"
	"github.com/idis-platform/idis/pkg/services"
)

// version is stamped by the release pipeline via -ldflags.
var version = "1.0.0-dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "doctor":
		return runDoctor(stdout)
	case "version", "--version":
		fmt.Fprintf(stdout, "idisd %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "idisd: unknown command %q\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func runServe(stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "idisd: %v\n", err)
		return 1
	}
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := services.NewRegistry(ctx, cfg, services.Options{Logger: logger})
	if err != nil {
		logger.Error("registry construction failed", "error", err)
		return 1
	}

	for name, check := range reg.Health(ctx) {
		if check != nil {
			logger.Warn("dependency unhealthy at startup", "dependency", name, "error", check)
		}
	}
	logger.Info("idis core ready", "version", version)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return 1
	}
	return 0
}

// runDoctor checks configuration and dependency health.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctor(stdout io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // "ok", "warn", "fail"
		Detail string
	}

	var results []checkResult
	allOK := true

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stdout, "  fail  config        %v\n", err)
		return 1
	}
	results = append(results, checkResult{Name: "config", Status: "ok"})

	if cfg.DatabaseURL == "" {
		results = append(results, checkResult{
			Name:   "database_url",
			Status: "warn",
			Detail: "IDIS_DATABASE_URL not set; using in-memory SQLite",
		})
	} else {
		results = append(results, checkResult{Name: "database_url", Status: "ok"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := services.NewRegistry(ctx, cfg, services.Options{Logger: quiet})
	if err != nil {
		results = append(results, checkResult{Name: "registry", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		defer reg.Close(ctx)
		results = append(results, checkResult{Name: "registry", Status: "ok"})
		for name, check := range reg.Health(ctx) {
			if check != nil {
				results = append(results, checkResult{Name: name, Status: "fail", Detail: check.Error()})
				allOK = false
			} else {
				results = append(results, checkResult{Name: name, Status: "ok"})
			}
		}
	}

	for _, r := range results {
		if r.Detail != "" {
			fmt.Fprintf(stdout, "  %-4s  %-14s %s\n", r.Status, r.Name, r.Detail)
		} else {
			fmt.Fprintf(stdout, "  %-4s  %s\n", r.Status, r.Name)
		}
	}
	if !allOK {
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "idisd - IDIS trust-and-provenance core")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: idisd [command]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-10s %s\n", "serve", "Wire the registry and run until SIGINT/SIGTERM (default)")
	fmt.Fprintf(w, "  %-10s %s\n", "doctor", "Check configuration and dependency health")
	fmt.Fprintf(w, "  %-10s %s\n", "version", "Show version information")
	fmt.Fprintf(w, "  %-10s %s\n", "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from IDIS_* environment variables.")
}
