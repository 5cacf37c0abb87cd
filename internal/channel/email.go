package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"reportpush/internal/message"
	logx "reportpush/pkg/logx"
)

// Email submits the report through an SMTP endpoint. STARTTLS is used when
// the server offers it; AUTH PLAIN when credentials include a username.
type Email struct {
	name     string
	addr     string // host:port
	host     string
	username string
	password string
	from     string
	to       []string
	log      logx.Logger
}

func newEmail(cfg Config, log logx.Logger) (*Email, error) {
	addr := strings.TrimSpace(cfg.Endpoint)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("email endpoint must be host:port: %w", err)
	}
	from := strings.TrimSpace(cfg.Credential("from"))
	if from == "" {
		return nil, errors.New("email requires credential \"from\"")
	}
	var to []string
	for _, r := range strings.Split(cfg.Credential("to"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return nil, errors.New("email requires credential \"to\"")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{
		name:     cfg.Name,
		addr:     addr,
		host:     host,
		username: cfg.Credential("username"),
		password: cfg.Credential("password"),
		from:     from,
		to:       to,
		log:      log,
	}, nil
}

func (e *Email) Name() string { return e.name }

func (e *Email) Send(ctx context.Context, msg *message.Message) Attempt {
	start := time.Now()
	att := Attempt{Channel: e.name, At: start}

	err := e.submit(ctx, msg)
	att.Took = time.Since(start)
	if err == nil {
		att.Outcome = OutcomeSuccess
		return att
	}

	att.Err = err.Error()
	att.Outcome = classifySMTPErr(err)
	return att
}

func (e *Email) submit(ctx context.Context, msg *message.Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return err
	}
	// net/smtp has no context support; bound the whole session through the
	// connection deadline instead.
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return err
		}
	}
	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(e.from); err != nil {
		return err
	}
	for _, rcpt := range e.to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(e.render(msg))); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (e *Email) render(msg *message.Message) string {
	var b strings.Builder
	b.WriteString("From: " + e.from + "\r\n")
	b.WriteString("To: " + strings.Join(e.to, ", ") + "\r\n")
	b.WriteString("Subject: " + severityPrefix(msg.Severity) + msg.Title + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	body := msg.RenderMarkdown()
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}

// classifySMTPErr maps SMTP reply codes onto the outcome taxonomy:
// 4xx replies are transient by definition, 535/530 mean rejected
// credentials, remaining 5xx replies are permanent for this message.
// Anything without a reply code is a network-level problem.
func classifySMTPErr(err error) Outcome {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch {
		case proto.Code >= 400 && proto.Code < 500:
			return OutcomeRetryable
		case proto.Code == 530 || proto.Code == 534 || proto.Code == 535:
			return OutcomeFatal
		case proto.Code >= 500:
			return OutcomeFatal
		}
	}
	return OutcomeRetryable
}
