package channel

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reportpush/internal/message"
	logx "reportpush/pkg/logx"
)

// telegramTextLimit keeps chunks comfortably under Telegram's 4096-char
// message cap.
const telegramTextLimit = 4000

// Telegram is the bot-api channel: token-authenticated sends through the
// Bot API to a fixed chat.
type Telegram struct {
	name   string
	chatID int64
	bot    *tele.Bot
	log    logx.Logger
}

func newTelegram(cfg Config, httpc *http.Client, log logx.Logger) (*Telegram, error) {
	token := strings.TrimSpace(cfg.Credential("token"))
	if token == "" {
		return nil, errors.New("bot-api requires credential \"token\"")
	}
	rawChat := strings.TrimSpace(cfg.Credential("chat_id"))
	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil {
		return nil, errors.New("bot-api requires numeric credential \"chat_id\"")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	settings := tele.Settings{
		Token: token,
		// Send-only: skip the getMe probe so construction stays offline.
		Offline: true,
	}
	if httpc != nil {
		settings.Client = httpc
	}
	if u := strings.TrimSpace(cfg.Endpoint); u != "" {
		settings.URL = u
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	return &Telegram{name: cfg.Name, chatID: chatID, bot: b, log: log}, nil
}

func (t *Telegram) Name() string { return t.name }

func severityPrefix(sev message.Severity) string {
	switch sev {
	case message.SeverityError:
		return "🚨 "
	case message.SeverityWarning:
		return "⚠️ "
	default:
		return ""
	}
}

func (t *Telegram) render(msg *message.Message) string {
	var b strings.Builder
	b.WriteString(severityPrefix(msg.Severity))
	if msg.Title != "" {
		b.WriteString(msg.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(msg.RenderMarkdown())
	return truncRunes(strings.TrimSpace(b.String()), telegramTextLimit)
}

func (t *Telegram) Send(ctx context.Context, msg *message.Message) Attempt {
	start := time.Now()
	att := Attempt{Channel: t.name, At: start}

	if ctx != nil {
		select {
		case <-ctx.Done():
			att.Outcome = OutcomeRetryable
			att.Err = ctx.Err().Error()
			att.Took = time.Since(start)
			return att
		default:
		}
	}

	chat := &tele.Chat{ID: t.chatID}
	// No parse mode: report bodies carry markdown the Bot API would reject
	// as malformed entities often enough to matter.
	_, err := t.bot.Send(chat, t.render(msg), &tele.SendOptions{DisableWebPagePreview: true})
	att.Took = time.Since(start)
	if err == nil {
		att.Outcome = OutcomeSuccess
		return att
	}

	att.Err = err.Error()
	att.Outcome, att.HTTPStatus, att.RetryAfter = classifyTelegramErr(err)
	return att
}

// classifyTelegramErr maps Bot API errors onto the outcome taxonomy:
// 401/403 mean a bad token or a chat the bot was kicked from (fatal),
// flood control is retryable with the provider's hint, everything else is
// assumed transient.
func classifyTelegramErr(err error) (Outcome, int, time.Duration) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		hint := time.Duration(flood.RetryAfter) * time.Second
		return OutcomeRetryable, http.StatusTooManyRequests, hint
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return OutcomeFatal, apiErr.Code, 0
		case http.StatusBadRequest:
			return OutcomeFatal, apiErr.Code, 0
		default:
			return OutcomeRetryable, apiErr.Code, 0
		}
	}

	return OutcomeRetryable, 0, 0
}

// truncRunes returns s truncated to at most n runes, appending an ellipsis
// when truncated.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		count++
		if count > n {
			return s[:i] + "…"
		}
	}
	return s
}
