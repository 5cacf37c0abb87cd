package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reportpush/internal/runner"
	logx "reportpush/pkg/logx"
)

// Config is the resolved serve-mode schedule.
type Config struct {
	Spec       string
	Timezone   string // empty means system local time
	RunTimeout time.Duration
	Trigger    runner.Trigger
}

// Loop fires the runner once per schedule tick. Runs never overlap: the
// loop waits for one run to finish before computing the next fire time, so
// a run that outlasts its slot simply delays the next one.
type Loop struct {
	log logx.Logger

	mu    sync.Mutex
	run   func(ctx context.Context, trig runner.Trigger) runner.Result
	cfg   Config
	sched cron.Schedule
	loc   *time.Location
}

func NewLoop(cfg Config, r *runner.Runner, log logx.Logger) (*Loop, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{log: log}
	l.run = r.RunOnce
	if err := l.Apply(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Swap replaces the schedule and the runner together. Safe to call while
// Run is blocked waiting for the next fire; both take effect on the
// following tick.
func (l *Loop) Swap(cfg Config, r *runner.Runner) error {
	if err := l.Apply(cfg); err != nil {
		return err
	}
	l.mu.Lock()
	l.run = r.RunOnce
	l.mu.Unlock()
	return nil
}

// Apply swaps the schedule. Safe to call while Run is blocked waiting for
// the next fire; the new spec takes effect on the following tick.
func (l *Loop) Apply(cfg Config) error {
	spec, err := Parse(cfg.Spec)
	if err != nil {
		return err
	}
	sched, err := spec.Schedule()
	if err != nil {
		return fmt.Errorf("schedule spec %q: %w", cfg.Spec, err)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("schedule timezone: %w", err)
		}
	}

	l.mu.Lock()
	l.cfg = cfg
	l.sched = sched
	l.loc = loc
	l.mu.Unlock()
	return nil
}

// Run blocks until ctx is cancelled, firing the runner at each tick.
func (l *Loop) Run(ctx context.Context) error {
	for {
		cfg, sched, loc, run := l.snapshot()

		now := time.Now().In(loc)
		next := sched.Next(now)
		l.log.Info("next run scheduled", logx.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		rctx := ctx
		cancel := func() {}
		if cfg.RunTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		}
		res := run(rctx, cfg.Trigger)
		cancel()

		switch res.State {
		case runner.StateFailed:
			l.log.Error("scheduled run failed", logx.Err(res.Err))
		default:
			overall := "completed"
			if res.Dispatch != nil {
				overall = res.Dispatch.Overall.String()
			}
			l.log.Info("scheduled run finished", logx.String("overall", overall))
		}
	}
}

func (l *Loop) snapshot() (Config, cron.Schedule, *time.Location, func(context.Context, runner.Trigger) runner.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg, l.sched, l.loc, l.run
}
