// Package dispatch fans one notification message out to every enabled
// channel concurrently and aggregates the per-channel outcomes.
//
// Channels are independent: a failure on one never blocks or cancels
// another's attempts. The dispatcher is stateless across calls; idempotency
// tracking belongs to the runner.
package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reportpush/internal/channel"
	"reportpush/internal/eventbus"
	"reportpush/internal/message"
	"reportpush/internal/metrics"
	logx "reportpush/pkg/logx"
)

type Dispatcher struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter
	httpc   *http.Client

	// newAdapter is swappable so tests can inject fakes.
	newAdapter func(channel.Config) (channel.Adapter, error)
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	httpc := &http.Client{Timeout: cfg.AttemptTimeout}
	d := &Dispatcher{
		cfg: cfg,
		log: log,
		bus: bus,
		// Token bucket: burst = rate per sec, so fanout spikes don't stall.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		httpc:   httpc,
	}
	d.newAdapter = func(c channel.Config) (channel.Adapter, error) {
		return channel.New(c, httpc, log.With(logx.String("channel", c.Name)))
	}
	return d
}

// Dispatch sends msg to every enabled channel concurrently and waits for
// all outcomes, exhausted retries included. It never returns early on first
// success or first failure.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *message.Message, channels []channel.Config) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	enabled := make([]channel.Config, 0, len(channels))
	for _, c := range channels {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		d.log.Warn("no channels enabled, nothing dispatched")
		return Result{Overall: OverallNoChannels, PerChannel: map[string]ChannelResult{}}
	}

	results := make([]ChannelResult, len(enabled))
	var wg sync.WaitGroup
	for i, c := range enabled {
		wg.Add(1)
		go func(idx int, cfg channel.Config) {
			defer wg.Done()
			results[idx] = d.sendWithRetry(ctx, msg, cfg)
		}(i, c)
	}
	wg.Wait()

	res := Result{PerChannel: make(map[string]ChannelResult, len(results))}
	succeeded := 0
	for _, r := range results {
		res.PerChannel[r.Channel] = r
		if r.Succeeded() {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		res.Overall = OverallAllSucceeded
	case succeeded == 0:
		res.Overall = OverallAllFailed
	default:
		res.Overall = OverallPartialFailure
	}
	return res
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, msg *message.Message, cfg channel.Config) ChannelResult {
	cr := ChannelResult{Channel: cfg.Name}

	ad, err := d.newAdapter(cfg)
	if err != nil {
		// Configuration errors are fatal for this channel only.
		att := channel.Attempt{
			Channel: cfg.Name,
			Number:  1,
			Outcome: channel.OutcomeFatal,
			Err:     err.Error(),
			At:      time.Now(),
		}
		d.record(msg, &cr, att)
		cr.Final = channel.OutcomeFatal
		return cr
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			att := channel.Attempt{
				Channel: cfg.Name,
				Number:  attempt,
				Outcome: channel.OutcomeRetryable,
				Err:     err.Error(),
				At:      time.Now(),
			}
			d.record(msg, &cr, att)
			cr.Final = channel.OutcomeRetryable
			return cr
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		att := ad.Send(callCtx, msg)
		cancel()
		att.Number = attempt
		d.record(msg, &cr, att)

		switch att.Outcome {
		case channel.OutcomeSuccess:
			cr.Final = channel.OutcomeSuccess
			return cr
		case channel.OutcomeFatal:
			// Bad secrets don't become good on retry.
			cr.Final = channel.OutcomeFatal
			return cr
		}

		cr.Final = channel.OutcomeRetryable
		if attempt >= d.cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(d.cfg, attempt)
		if hint := att.RetryAfter; hint > delay {
			delay = hint
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return cr
		}
	}

	d.log.Warn("channel delivery failed",
		logx.String("channel", cfg.Name),
		logx.Int("attempts", len(cr.Attempts)),
		logx.String("last_err", cr.Attempts[len(cr.Attempts)-1].Err),
	)
	return cr
}

func (d *Dispatcher) record(msg *message.Message, cr *ChannelResult, att channel.Attempt) {
	cr.Attempts = append(cr.Attempts, att)
	metrics.DispatchAttempts.WithLabelValues(att.Channel, att.Outcome.String()).Inc()
	metrics.DispatchDuration.WithLabelValues(att.Channel).Observe(att.Took.Seconds())
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: "dispatch.attempt", Data: AttemptEvent{
			Channel: att.Channel,
			Key:     msg.IdempotencyKey,
			Number:  att.Number,
			Outcome: att.Outcome.String(),
			Error:   att.Err,
		}})
	}
	d.log.Debug("dispatch attempt",
		logx.String("channel", att.Channel),
		logx.Int("attempt", att.Number),
		logx.String("outcome", att.Outcome.String()),
		logx.Duration("took", att.Took),
	)
}

// AttemptEvent is published on the bus per delivery attempt.
type AttemptEvent struct {
	Channel string `json:"channel"`
	Key     string `json:"key"`
	Number  int    `json:"number"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// backoffDelay computes the exponential backoff after the given attempt:
// base * 2^(attempt-1), capped.
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
