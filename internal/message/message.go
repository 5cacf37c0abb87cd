// Package message defines the channel-independent notification message and
// its markdown rendering.
//
// A Message is built once per run and is immutable afterwards: channel
// adapters only read it and render the body into their native markup.
package message

import "strings"

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Section is one block of the message body. Exactly one of the content
// fields is set; adapters render sections in order.
type Section struct {
	Heading string

	// Text is a markdown text block.
	Text string

	// Fields is an ordered key/value table.
	Fields []Field

	// Links is a list of labeled URLs.
	Links []Link
}

type Field struct {
	Key   string
	Value string
}

type Link struct {
	Label string
	URL   string
}

// Message is the generic notification delivered to every enabled channel.
//
// IdempotencyKey is stable per logical report (e.g. date + report type) and
// is used by the runner to recognize repeated sends; the dispatcher itself
// does not deduplicate.
type Message struct {
	Title          string
	Sections       []Section
	Severity       Severity
	IdempotencyKey string
}

// IsEmpty reports whether the message carries no body content at all.
// Empty messages are still dispatched so delivery gaps stay visible.
func (m *Message) IsEmpty() bool {
	for _, s := range m.Sections {
		if strings.TrimSpace(s.Heading) != "" || strings.TrimSpace(s.Text) != "" ||
			len(s.Fields) > 0 || len(s.Links) > 0 {
			return false
		}
	}
	return true
}
