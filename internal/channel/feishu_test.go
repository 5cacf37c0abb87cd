package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reportpush/internal/message"
	"reportpush/internal/sign"
)

func testMessage() *message.Message {
	return &message.Message{
		Title:          "Daily report",
		Severity:       message.SeverityInfo,
		IdempotencyKey: "2026-08-29/daily",
		Sections: []message.Section{
			{Heading: "Summary", Text: "2 buy / 1 sell"},
		},
	}
}

func newTestWebhook(t *testing.T, endpoint, secret string) *Webhook {
	t.Helper()
	cfg := Config{Name: "feishu-main", Type: TypeSignedWebhook, Endpoint: endpoint, Enabled: true}
	signed := secret != ""
	if signed {
		cfg.Credentials = map[string]string{"secret": secret}
	} else {
		cfg.Type = TypePlainWebhook
	}
	w, err := newWebhook(cfg, signed, &http.Client{Timeout: 2 * time.Second}, testLogger())
	if err != nil {
		t.Fatalf("newWebhook: %v", err)
	}
	return w
}

func TestWebhookSignedPayload(t *testing.T) {
	t.Parallel()
	var got cardPayload
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_, _ = rw.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "Gf55G2oRdxXqMtULRAGBY")
	fixed := time.Unix(1700000000, 0)
	w.now = func() time.Time { return fixed }

	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v, want success (err=%s)", att.Outcome, att.Err)
	}

	if got.MsgType != "interactive" {
		t.Fatalf("msg_type = %q", got.MsgType)
	}
	if got.Timestamp != "1700000000" {
		t.Fatalf("timestamp = %q", got.Timestamp)
	}
	want, _ := sign.Compute("Gf55G2oRdxXqMtULRAGBY", fixed.Unix())
	if got.Sign != want.Sign {
		t.Fatalf("sign = %q, want %q", got.Sign, want.Sign)
	}
	if got.Card.Header.Title.Content != "Daily report" {
		t.Fatalf("title = %q", got.Card.Header.Title.Content)
	}
	if len(got.Card.Elements) != 1 || !strings.Contains(got.Card.Elements[0].Text.Content, "2 buy / 1 sell") {
		t.Fatalf("unexpected card elements: %+v", got.Card.Elements)
	}
}

func TestWebhookPlainOmitsSignature(t *testing.T) {
	t.Parallel()
	var got cardPayload
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = rw.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "")
	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err=%s)", att.Outcome, att.Err)
	}
	if got.Sign != "" || got.Timestamp != "" {
		t.Fatalf("plain webhook must not carry sign fields: sign=%q ts=%q", got.Sign, got.Timestamp)
	}
}

func TestWebhookProviderCodeIsFatal(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// Signature mismatch comes back as HTTP 200 with an embedded code.
		_, _ = rw.Write([]byte(`{"code":19021,"msg":"sign match fail"}`))
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "wrong-secret")
	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeFatal {
		t.Fatalf("Outcome = %v, want fatal", att.Outcome)
	}
	if !strings.Contains(att.Err, "sign match fail") {
		t.Fatalf("error detail not surfaced verbatim: %q", att.Err)
	}
}

func TestWebhookHTTP5xxIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "s")
	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeRetryable {
		t.Fatalf("Outcome = %v, want retryable", att.Outcome)
	}
	if att.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("HTTPStatus = %d", att.HTTPStatus)
	}
}

func TestWebhookConnectionErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	w := newTestWebhook(t, srv.URL, "s")
	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeRetryable {
		t.Fatalf("Outcome = %v, want retryable", att.Outcome)
	}
}

func TestWebhookRetryAfterHint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Retry-After", "7")
		rw.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "s")
	att := w.Send(context.Background(), testMessage())
	if att.Outcome != OutcomeRetryable {
		t.Fatalf("Outcome = %v, want retryable", att.Outcome)
	}
	if att.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", att.RetryAfter)
	}
}

func TestWebhookEmptyBodyStillSent(t *testing.T) {
	t.Parallel()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = rw.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	w := newTestWebhook(t, srv.URL, "s")
	att := w.Send(context.Background(), &message.Message{Title: "empty run"})
	if att.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err=%s)", att.Outcome, att.Err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (empty body must not be dropped)", calls)
	}
}

func TestWebhookChunksLongBody(t *testing.T) {
	t.Parallel()
	var titles []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var p cardPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		titles = append(titles, p.Card.Header.Title.Content)
		_, _ = rw.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	long := strings.Repeat("paragraph text\n\n", 3000) // well over the byte budget
	m := &message.Message{Title: "Big report", Sections: []message.Section{{Text: long}}}

	w := newTestWebhook(t, srv.URL, "")
	att := w.Send(context.Background(), m)
	if att.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err=%s)", att.Outcome, att.Err)
	}
	if len(titles) < 2 {
		t.Fatalf("expected chunked sends, got %d call(s)", len(titles))
	}
	if !strings.Contains(titles[0], "(1/") {
		t.Fatalf("first chunk title missing part marker: %q", titles[0])
	}
}
