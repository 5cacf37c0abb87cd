package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reportpush/internal/message"
	"reportpush/internal/sign"
	logx "reportpush/pkg/logx"
)

// feishuMaxBodyBytes is the documented payload budget for a single card
// message. Over-length content is truncated, never dropped.
const feishuMaxBodyBytes = 20000

// Webhook delivers to Feishu/Lark-style webhook bots. With a secret it is
// the signed-webhook channel type; without one it is the plain-webhook
// type. Payload shape and success classification are identical either way.
type Webhook struct {
	name     string
	endpoint string
	secret   string // empty for plain webhooks
	http     *http.Client
	log      logx.Logger

	// now is swappable for signature tests.
	now func() time.Time
}

func newWebhook(cfg Config, signed bool, httpc *http.Client, log logx.Logger) (*Webhook, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("webhook endpoint is empty")
	}
	secret := cfg.Credential("secret")
	if signed && secret == "" {
		return nil, errors.New("signed-webhook requires credential \"secret\"")
	}
	if !signed {
		secret = ""
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Webhook{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		secret:   secret,
		http:     httpc,
		log:      log,
		now:      time.Now,
	}, nil
}

func (w *Webhook) Name() string { return w.name }

// cardPayload is the interactive-card wire format. When signing is enabled
// the integer timestamp (seconds) and base64 signature ride along at the
// top level.
type cardPayload struct {
	MsgType   string `json:"msg_type"`
	Card      card   `json:"card"`
	Timestamp string `json:"timestamp,omitempty"`
	Sign      string `json:"sign,omitempty"`
}

type card struct {
	Config   cardConfig    `json:"config"`
	Header   cardHeader    `json:"header"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template,omitempty"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardElement struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
}

// headerTemplate maps severity to the card header color.
func headerTemplate(sev message.Severity) string {
	switch sev {
	case message.SeverityWarning:
		return "orange"
	case message.SeverityError:
		return "red"
	default:
		return "blue"
	}
}

func (w *Webhook) buildPayload(msg *message.Message, title, body string) (cardPayload, error) {
	p := cardPayload{
		MsgType: "interactive",
		Card: card{
			Config: cardConfig{WideScreenMode: true},
			Header: cardHeader{
				Title:    cardText{Tag: "plain_text", Content: title},
				Template: headerTemplate(msg.Severity),
			},
			Elements: []cardElement{
				{Tag: "div", Text: cardText{Tag: "lark_md", Content: body}},
			},
		},
	}
	if w.secret != "" {
		sig, err := sign.Compute(w.secret, w.now().Unix())
		if err != nil {
			return cardPayload{}, err
		}
		p.Timestamp = strconv.FormatInt(sig.Timestamp, 10)
		p.Sign = sig.Sign
	}
	return p, nil
}

// webhookResponse is the provider envelope. Newer responses use code/msg;
// older ones use StatusCode/StatusMessage. Code 0 means accepted.
type webhookResponse struct {
	Code          *int   `json:"code,omitempty"`
	Msg           string `json:"msg,omitempty"`
	StatusCode    *int   `json:"StatusCode,omitempty"`
	StatusMessage string `json:"StatusMessage,omitempty"`
}

func (r webhookResponse) result() (code int, detail string, ok bool) {
	switch {
	case r.Code != nil:
		return *r.Code, r.Msg, true
	case r.StatusCode != nil:
		return *r.StatusCode, r.StatusMessage, true
	default:
		return 0, "", false
	}
}

// partPause separates chunked sends so the provider's per-bot rate limit
// is not tripped by one long report.
const partPause = 500 * time.Millisecond

// Send performs one logical delivery attempt. Bodies over the provider
// budget are split on paragraph boundaries into numbered parts; the first
// part that fails classifies the whole attempt.
func (w *Webhook) Send(ctx context.Context, msg *message.Message) Attempt {
	start := time.Now()
	att := Attempt{Channel: w.name, At: start}

	chunks := message.ChunkByParagraph(msg.RenderMarkdown(), feishuMaxBodyBytes)
	total := len(chunks)

	for i, body := range chunks {
		title := msg.Title
		if total > 1 {
			title = fmt.Sprintf("%s (%d/%d)", msg.Title, i+1, total)
		}

		if done := w.sendPart(ctx, msg, title, body, &att); done {
			return att
		}

		if i < total-1 {
			select {
			case <-time.After(partPause):
			case <-ctx.Done():
				att.Outcome = OutcomeRetryable
				att.Err = ctx.Err().Error()
				att.Took = time.Since(start)
				return att
			}
		}
	}

	att.Outcome = OutcomeSuccess
	att.Took = time.Since(start)
	return att
}

// sendPart posts one card. It returns true when the attempt is decided
// (any failure); att.Took and att.Outcome are finalized in that case.
func (w *Webhook) sendPart(ctx context.Context, msg *message.Message, title, body string, att *Attempt) bool {
	start := att.At

	payload, err := w.buildPayload(msg, title, body)
	if err != nil {
		// Signing config problems will not heal on retry.
		att.Outcome = OutcomeFatal
		att.Err = err.Error()
		att.Took = time.Since(start)
		return true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		att.Outcome = OutcomeFatal
		att.Err = err.Error()
		att.Took = time.Since(start)
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(b))
	if err != nil {
		att.Outcome = OutcomeFatal
		att.Err = err.Error()
		att.Took = time.Since(start)
		return true
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		// Timeouts, resets, DNS: all transient.
		att.Outcome = OutcomeRetryable
		att.Err = err.Error()
		att.Took = time.Since(start)
		return true
	}
	defer resp.Body.Close()

	att.HTTPStatus = resp.StatusCode

	if resp.StatusCode/100 != 2 {
		att.Outcome = classifyHTTPStatus(resp.StatusCode)
		att.Err = "http " + strconv.Itoa(resp.StatusCode)
		att.RetryAfter = retryAfterHint(resp)
		att.Took = time.Since(start)
		return true
	}

	var out webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		att.Outcome = OutcomeRetryable
		att.Err = fmt.Sprintf("decode response: %v", err)
		att.Took = time.Since(start)
		return true
	}

	code, detail, ok := out.result()
	if !ok || code == 0 {
		return false
	}

	// Any non-zero embedded code is provider-defined (signature mismatch,
	// bad payload, ...). A bad secret will not become good on retry.
	att.Outcome = OutcomeFatal
	if detail == "" {
		detail = "unknown error"
	}
	att.Err = fmt.Sprintf("provider code %d: %s", code, detail)
	att.Took = time.Since(start)
	w.log.Debug("webhook rejected", logx.String("channel", w.name), logx.Int("code", code), logx.String("msg", detail))
	return true
}

// classifyHTTPStatus maps transport-level status codes onto the outcome
// taxonomy shared by HTTP-based adapters.
func classifyHTTPStatus(status int) Outcome {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return OutcomeFatal
	case status == http.StatusTooManyRequests:
		return OutcomeRetryable
	case status >= 500:
		return OutcomeRetryable
	case status >= 400:
		return OutcomeFatal
	default:
		return OutcomeRetryable
	}
}

func retryAfterHint(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
