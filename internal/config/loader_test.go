package config

import (
	"os"
	"path/filepath"
	"testing"

	"reportpush/internal/channel"
	logx "reportpush/pkg/logx"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "dispatch": {"max_attempts": 3, "retry_base": "2s", "retry_max_delay": "30s"},
  "report": {"files": ["./report.md"]},
  "channels": [
    {
      "name": "feishu-main",
      "type": "signed-webhook",
      "endpoint": "https://open.feishu.cn/open-apis/bot/v2/hook/xxx",
      "credentials": {"secret": "s3cret"},
      "enabled": true
    },
    {
      "name": "ops-mail",
      "type": "email",
      "endpoint": "smtp.example.com:587",
      "credentials": {"from": "bot@example.com", "to": "ops@example.com"},
      "enabled": false
    }
  ]
}`

const validYAML = `logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
channels:
  - name: hook
    type: plain-webhook
    endpoint: https://example.com/hook
    enabled: true
`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", validJSON)
	cfg, err := NewLoader(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels = %d", len(cfg.Channels))
	}
	if cfg.Channels[0].Type != channel.TypeSignedWebhook {
		t.Fatalf("type = %q", cfg.Channels[0].Type)
	}
	if cfg.Channels[0].Credential("secret") != "s3cret" {
		t.Fatal("credential not resolved")
	}
	if cfg.Channels[1].Enabled {
		t.Fatal("disabled channel parsed as enabled")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewLoader(path, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Name != "hook" {
		t.Fatalf("unexpected channels: %+v", cfg.Channels)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "channels": [], "webhoook": true}`)
	if _, err := NewLoader(path, logx.Nop()).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsBadChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown type",
			body: `{"channels": [{"name": "x", "type": "smoke-signal", "endpoint": "e", "enabled": true}]}`,
		},
		{
			name: "duplicate name",
			body: `{"channels": [
				{"name": "x", "type": "plain-webhook", "endpoint": "e", "enabled": true},
				{"name": "x", "type": "plain-webhook", "endpoint": "e", "enabled": true}
			]}`,
		},
		{
			name: "missing name",
			body: `{"channels": [{"name": "", "type": "plain-webhook", "endpoint": "e", "enabled": true}]}`,
		},
		{
			name: "bad duration",
			body: `{"dispatch": {"retry_base": "fast"}, "channels": []}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tt.body)
			if _, err := NewLoader(path, logx.Nop()).Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "2s"); err != nil || d.Seconds() != 2 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must error")
	}
}
