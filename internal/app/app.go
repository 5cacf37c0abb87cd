// Package app wires configuration, storage, dispatcher, and runner into
// the two execution modes: one-shot and serve.
package app

import (
	"context"
	"fmt"
	"time"

	"reportpush/internal/config"
	"reportpush/internal/dispatch"
	"reportpush/internal/eventbus"
	"reportpush/internal/message"
	"reportpush/internal/metrics"
	"reportpush/internal/report"
	"reportpush/internal/runner"
	"reportpush/internal/schedule"
	"reportpush/internal/storage"
	logx "reportpush/pkg/logx"
)

// Options is the resolved CLI surface.
type Options struct {
	ConfigPath string
	DryRun     bool
	// ReportFiles overrides config report.files when non-empty.
	ReportFiles []string
	// Sections keeps only matching report sections.
	Sections []string
	Severity string // "info" | "warning" | "error"
}

type App struct {
	opts   Options
	loader *config.Loader
	log    logx.Logger

	store storage.Store // nil when storage is disabled

	closers []func() error
}

func New(opts Options) (*App, error) {
	boot := logx.NewConsole("info")
	loader := config.NewLoader(opts.ConfigPath, boot)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a := &App{opts: opts, loader: loader, log: log}
	a.closers = append(a.closers, closeLog)

	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		if st != nil {
			a.store = st
			a.closers = append(a.closers, st.Close)
		}
	}

	return a, nil
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) Log() logx.Logger { return a.log }

// RunOnce performs a single run with the currently committed config.
func (a *App) RunOnce(ctx context.Context) (runner.Result, error) {
	cfg := a.loader.Get()
	r, err := a.buildRunner(cfg, nil)
	if err != nil {
		return runner.Result{}, err
	}
	return r.RunOnce(ctx, a.trigger()), nil
}

// Serve runs scheduled deliveries until ctx is cancelled: config hot
// reload, the optional metrics endpoint, and the schedule loop.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.loader.Get()
	if !cfg.Schedule.Enabled {
		return fmt.Errorf("serve mode requires schedule.enabled")
	}

	bus := eventbus.New()
	r, err := a.buildRunner(cfg, bus)
	if err != nil {
		return err
	}
	loopCfg, err := a.loopConfig(cfg)
	if err != nil {
		return err
	}
	loop, err := schedule.NewLoop(loopCfg, r, a.log.With(logx.String("comp", "schedule")))
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9090"
		}
		msrv := metrics.NewServer(addr, a.log.With(logx.String("comp", "metrics")))
		if err := msrv.Start(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = msrv.Stop(sctx)
			cancel()
		}()
	}

	go watchEvents(ctx, bus, a.log.With(logx.String("comp", "events")))

	go func() {
		if err := a.loader.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// Apply config changes between ticks. The runner is rebuilt so channel
	// and retry changes take effect without a restart.
	updates, unsub := a.loader.Subscribe(1)
	defer unsub()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyReload(next, loop, bus)
			}
		}
	}()

	err = loop.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// watchEvents drains the bus for the lifetime of serve mode. Delivery
// attempts surface per attempt here, not just as the run summary; failed
// attempts log at warn so operators see flapping channels between runs.
func watchEvents(ctx context.Context, bus eventbus.Bus, log logx.Logger) {
	events, unsub := bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ae, ok := e.Data.(dispatch.AttemptEvent)
			if !ok {
				log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				continue
			}
			fields := []logx.Field{
				logx.String("channel", ae.Channel),
				logx.Int("attempt", ae.Number),
				logx.String("outcome", ae.Outcome),
				logx.String("key", ae.Key),
			}
			if ae.Error != "" {
				fields = append(fields, logx.String("err", ae.Error))
			}
			if ae.Outcome == "success" {
				log.Info("delivery attempt", fields...)
			} else {
				log.Warn("delivery attempt", fields...)
			}
		}
	}
}

func (a *App) applyReload(cfg *config.Config, loop *schedule.Loop, bus eventbus.Bus) {
	nr, err := a.buildRunner(cfg, bus)
	if err != nil {
		a.log.Warn("reloaded config rejected", logx.Err(err))
		return
	}
	loopCfg, err := a.loopConfig(cfg)
	if err != nil {
		a.log.Warn("reloaded schedule rejected", logx.Err(err))
		return
	}
	loopCfg.Trigger = a.trigger()
	if err := loop.Swap(loopCfg, nr); err != nil {
		a.log.Warn("reloaded schedule rejected", logx.Err(err))
		return
	}
	a.log.Info("config applied", logx.Int("channels", len(cfg.Channels)))
}

func (a *App) buildRunner(cfg *config.Config, bus eventbus.Bus) (*runner.Runner, error) {
	dcfg, err := dispatchConfig(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = eventbus.New()
	}
	disp := dispatch.New(dcfg, a.log.With(logx.String("comp", "dispatch")), bus)

	files := a.opts.ReportFiles
	if len(files) == 0 {
		files = cfg.Report.Files
	}
	src := report.NewFileSource(files, a.log.With(logx.String("comp", "report")))

	return runner.New(src, disp, cfg.Channels, runner.Options{
		DetailLevel:      cfg.Report.DetailLevel,
		AutoCompact:      cfg.Report.AutoCompactEnabled(),
		CompactOverBytes: cfg.Report.CompactOverLen,
	}, a.store, a.log.With(logx.String("comp", "runner"))), nil
}

func (a *App) loopConfig(cfg *config.Config) (schedule.Config, error) {
	timeout, err := config.ParseDurationOrDefault("schedule.run_timeout", cfg.Schedule.RunTimeout, 5*time.Minute)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		Spec:       cfg.Schedule.Spec,
		Timezone:   cfg.Schedule.Timezone,
		RunTimeout: timeout,
		Trigger:    a.trigger(),
	}, nil
}

func (a *App) trigger() runner.Trigger {
	return runner.Trigger{
		DryRun:   a.opts.DryRun,
		Sections: a.opts.Sections,
		Severity: parseSeverity(a.opts.Severity),
	}
}

func parseSeverity(s string) message.Severity {
	switch s {
	case "warning":
		return message.SeverityWarning
	case "error":
		return message.SeverityError
	default:
		return message.SeverityInfo
	}
}

func dispatchConfig(c config.DispatchConfig) (dispatch.Config, error) {
	base, err := config.ParseDurationOrDefault("dispatch.retry_base", c.RetryBase, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", c.RetryMaxDelay, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	attemptTimeout, err := config.ParseDurationOrDefault("dispatch.attempt_timeout", c.AttemptTimeout, 0)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		MaxAttempts:    c.MaxAttempts,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
		AttemptTimeout: attemptTimeout,
		RatePerSec:     c.RatePerSec,
	}, nil
}
