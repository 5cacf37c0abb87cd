// Package report is the boundary to the external analysis collaborator.
//
// The core never produces report content itself; it consumes an opaque,
// already-written report (markdown text plus metadata) and turns it into a
// notification message. The default source reads report files the analysis
// step leaves on disk.
package report

import (
	"context"
	"errors"
	"time"
)

var ErrNoReports = errors.New("report: no report content available")

// Content is one retrieved report. Body is opaque markdown; the core only
// chunks, compacts, and forwards it.
type Content struct {
	Title string
	Body  string
	// Date identifies the logical report (part of the idempotency key).
	Date time.Time
}

// Source retrieves a report for one run. A Source failure fails the whole
// invocation; there is nothing useful to send without a report.
type Source interface {
	Fetch(ctx context.Context) (Content, error)
}
