// Package channel defines notification channels: their configuration, the
// per-attempt outcome taxonomy, and one adapter per channel type.
//
// Adapters perform exactly one delivery attempt; retry policy belongs to the
// dispatcher. The channel type set is closed: adding a type is a
// compile-time extension of the factory, never a runtime string match
// against unknown values.
package channel

import (
	"context"
	"time"

	"reportpush/internal/message"
)

type Type string

const (
	TypeSignedWebhook Type = "signed-webhook"
	TypePlainWebhook  Type = "plain-webhook"
	TypeBotAPI        Type = "bot-api"
	TypeEmail         Type = "email"
)

// Config describes one configured destination.
//
// Credentials holds already-resolved secret strings keyed by name (e.g.
// "secret", "token", "password"); this package never reads environment
// variables or files. Config values are read-only after load.
type Config struct {
	Name        string            `json:"name"`
	Type        Type              `json:"type"`
	Endpoint    string            `json:"endpoint"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// Credential returns the named credential, or "" when absent.
func (c Config) Credential(name string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[name]
}

type Outcome int

const (
	// OutcomeSuccess: the provider accepted the message.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable: transient failure (timeout, reset, 5xx, rate limit).
	OutcomeRetryable
	// OutcomeFatal: failure that will not improve on retry (bad secret,
	// bad token, rejected signature, invalid config).
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Attempt records a single delivery attempt against one channel.
type Attempt struct {
	Channel    string        `json:"channel"`
	Number     int           `json:"number"`
	Outcome    Outcome       `json:"outcome"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Err        string        `json:"err,omitempty"`
	At         time.Time     `json:"at"`
	Took       time.Duration `json:"took"`

	// RetryAfter is a provider-supplied backoff hint (e.g. HTTP 429).
	// Zero means "use the dispatcher's own backoff".
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Adapter is implemented once per channel type.
//
// Send performs exactly one attempt and never panics on provider garbage;
// it reports the outcome through the returned Attempt (Number is filled in
// by the dispatcher). An empty message body is still sent so delivery gaps
// stay visible.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg *message.Message) Attempt
}
