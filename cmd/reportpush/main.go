package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"reportpush/internal/app"
	"reportpush/internal/dispatch"
	"reportpush/internal/runner"
)

// Exit codes. External schedulers key alerting off these.
const (
	exitOK            = 0
	exitUsage         = 1
	exitPartial       = 2
	exitAllFailed     = 3
	exitReportFailure = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath  string
		dryRun   bool
		serve    bool
		sections string
		severity string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.BoolVar(&dryRun, "dry-run", false, "build the message but skip all sends")
	flag.BoolVar(&serve, "serve", false, "run on the configured schedule instead of once")
	flag.StringVar(&sections, "sections", "", "comma-separated report section filter")
	flag.StringVar(&severity, "severity", "info", "message severity: info, warning, error")
	flag.Parse()

	// Optional .env next to the working directory; absence is not an error.
	_ = godotenv.Load()

	opts := app.Options{
		ConfigPath:  cfgPath,
		DryRun:      dryRun,
		ReportFiles: flag.Args(),
		Severity:    severity,
	}
	if s := strings.TrimSpace(sections); s != "" {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				opts.Sections = append(opts.Sections, p)
			}
		}
	}

	a, err := app.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return exitUsage
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if serve {
		if err := a.Serve(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			return exitUsage
		}
		return exitOK
	}

	res, err := a.RunOnce(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return exitUsage
	}
	return exitCode(res)
}

func exitCode(res runner.Result) int {
	if res.State == runner.StateFailed {
		return exitReportFailure
	}
	if res.DryRun || res.Skipped || res.Dispatch == nil {
		return exitOK
	}
	switch res.Dispatch.Overall {
	case dispatch.OverallPartialFailure:
		return exitPartial
	case dispatch.OverallAllFailed:
		return exitAllFailed
	default:
		// allSucceeded and noChannels both exit 0; noChannels is already
		// logged as a warning by the dispatcher.
		return exitOK
	}
}
