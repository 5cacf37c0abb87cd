package channel

import (
	"fmt"
	"net/http"

	logx "reportpush/pkg/logx"
)

// New builds the adapter for one channel config. Errors here are
// configuration errors: the dispatcher records them as a fatal outcome for
// that channel only, and other channels proceed.
func New(cfg Config, httpc *http.Client, log logx.Logger) (Adapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("channel name is empty")
	}
	switch cfg.Type {
	case TypeSignedWebhook:
		return newWebhook(cfg, true, httpc, log)
	case TypePlainWebhook:
		return newWebhook(cfg, false, httpc, log)
	case TypeBotAPI:
		return newTelegram(cfg, httpc, log)
	case TypeEmail:
		return newEmail(cfg, log)
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

// ValidTypes lists the closed channel type set, for config validation.
func ValidTypes() []Type {
	return []Type{TypeSignedWebhook, TypePlainWebhook, TypeBotAPI, TypeEmail}
}
