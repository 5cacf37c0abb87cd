package dispatch

import (
	"time"

	"reportpush/internal/channel"
)

type Overall int

const (
	// OverallAllSucceeded: every channel's final attempt succeeded.
	OverallAllSucceeded Overall = iota
	// OverallPartialFailure: some channels succeeded, some did not.
	OverallPartialFailure
	// OverallAllFailed: no channel succeeded.
	OverallAllFailed
	// OverallNoChannels: nothing was enabled. Distinguished from vacuous
	// success so a misconfigured deployment stays observable.
	OverallNoChannels
)

func (o Overall) String() string {
	switch o {
	case OverallAllSucceeded:
		return "all_succeeded"
	case OverallPartialFailure:
		return "partial_failure"
	case OverallAllFailed:
		return "all_failed"
	default:
		return "no_channels"
	}
}

// ChannelResult is one channel's terminal outcome plus its attempt history.
type ChannelResult struct {
	Channel  string            `json:"channel"`
	Final    channel.Outcome   `json:"final"`
	Attempts []channel.Attempt `json:"attempts"`
}

func (r ChannelResult) Succeeded() bool { return r.Final == channel.OutcomeSuccess }

// Result aggregates one fanout. It is returned to the caller and not
// persisted here.
type Result struct {
	Overall    Overall                  `json:"overall"`
	PerChannel map[string]ChannelResult `json:"per_channel"`
}

// Config controls retry policy and pacing. Zero values fall back to the
// documented defaults.
type Config struct {
	// MaxAttempts bounds attempts per channel, first try included.
	MaxAttempts int
	// RetryBase is the first backoff delay; it doubles per retry.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay time.Duration
	// AttemptTimeout bounds a single network call.
	AttemptTimeout time.Duration
	// RatePerSec paces outgoing attempts across all channels.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}
