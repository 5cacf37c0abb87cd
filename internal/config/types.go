// Package config loads and validates the reportpush configuration file.
//
// All configuration is resolved once per invocation into immutable values
// passed explicitly down through runner -> dispatcher -> adapters; no
// component performs ambient lookups. Secrets arrive here already resolved
// (the file, or whatever wrote it, is the secret boundary).
package config

import (
	"fmt"
	"strings"

	"reportpush/internal/channel"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Dispatch controls retry/backoff/pacing for channel sends.
	// All durations are Go duration strings (e.g. "2s", "1m").
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	Report ReportConfig `json:"report,omitempty"`

	// Schedule enables serve mode: run on a schedule instead of once.
	Schedule ScheduleConfig `json:"schedule,omitempty"`

	// Storage enables cross-invocation idempotency tracking and the
	// dispatch audit log. Omitted means stateless runs.
	Storage *StorageConfig `json:"storage,omitempty"`

	Metrics MetricsConfig `json:"metrics,omitempty"`

	Channels []channel.Config `json:"channels"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig mirrors dispatch.Config with durations as strings.
//
// Defaults (when fields are omitted/zero):
//   - max_attempts: 3
//   - retry_base: "2s"
//   - retry_max_delay: "30s"
//   - attempt_timeout: "10s"
//   - rate_per_sec: 5
type DispatchConfig struct {
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
}

// ReportConfig points at the report files the analysis step produces and
// controls compaction.
//
// DetailLevel is "full" (compact only when over the byte threshold) or
// "compact" (always compact). AutoCompact is a pointer so an omitted field
// defaults to true without forbidding an explicit false.
type ReportConfig struct {
	Files          []string `json:"files,omitempty"`
	DetailLevel    string   `json:"detail_level,omitempty"`
	AutoCompact    *bool    `json:"auto_compact,omitempty"`
	CompactOverLen int      `json:"compact_over_bytes,omitempty"`
}

func (r ReportConfig) AutoCompactEnabled() bool {
	return r.AutoCompact == nil || *r.AutoCompact
}

// ScheduleConfig controls serve mode. Spec accepts a cron expression
// ("30 8 * * *"), a Go duration ("6h"), or a daily time ("08:30").
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// RunTimeout bounds one whole run (report fetch + dispatch).
	RunTimeout string `json:"run_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./reportpush_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// Validate rejects configs that could only fail later and less clearly.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, ch := range c.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		seen[ch.Name] = true
		if !validChannelType(ch.Type) {
			return fmt.Errorf("channels[%d] (%s): unknown type %q", i, ch.Name, ch.Type)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"dispatch.retry_base", c.Dispatch.RetryBase},
		{"dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay},
		{"dispatch.attempt_timeout", c.Dispatch.AttemptTimeout},
		{"schedule.run_timeout", c.Schedule.RunTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func validChannelType(t channel.Type) bool {
	for _, v := range channel.ValidTypes() {
		if t == v {
			return true
		}
	}
	return false
}
