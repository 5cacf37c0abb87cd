// Package runner is the per-trigger entry point: it turns one trigger into
// one report fetch, one message build, and at most one dispatch.
//
// A run is always terminal: Idle -> Running -> Completed or Failed. Failed
// means the report could not be retrieved; delivery failures are a reported
// outcome inside a Completed run, not a run failure.
package runner

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportpush/internal/channel"
	"reportpush/internal/dispatch"
	"reportpush/internal/message"
	"reportpush/internal/metrics"
	"reportpush/internal/report"
	"reportpush/internal/storage"
	logx "reportpush/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Trigger is what one external invocation carries. The deadline travels on
// the context.
type Trigger struct {
	// DryRun builds the message but skips the dispatcher entirely.
	DryRun bool
	// Sections, when non-empty, keeps only report sections whose heading
	// contains one of the entries.
	Sections []string
	Severity message.Severity
}

// Result is the terminal outcome of one run.
type Result struct {
	RunID string
	State State
	// Dispatch is set when the dispatcher ran; nil on Failed, dry-run, or
	// an idempotency skip.
	Dispatch *dispatch.Result
	// Skipped is true when the idempotency key was already recorded as
	// fully delivered.
	Skipped bool
	DryRun  bool
	Err     error
}

// Options tunes message construction. Zero values mean: full detail,
// auto-compact on, 20000-byte threshold.
type Options struct {
	DetailLevel      string // "full" or "compact"
	AutoCompact      bool
	CompactOverBytes int
}

const defaultCompactOverBytes = 20000

// Dispatcher is the fanout dependency; satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *message.Message, channels []channel.Config) dispatch.Result
}

type Runner struct {
	source   report.Source
	disp     Dispatcher
	store    storage.Store // nil means stateless runs
	channels []channel.Config
	opts     Options
	log      logx.Logger

	now func() time.Time
}

func New(source report.Source, disp Dispatcher, channels []channel.Config, opts Options, store storage.Store, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.CompactOverBytes <= 0 {
		opts.CompactOverBytes = defaultCompactOverBytes
	}
	return &Runner{
		source:   source,
		disp:     disp,
		store:    store,
		channels: channels,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce executes one full run. It returns StateFailed only when the report
// could not be retrieved; all delivery outcomes produce StateCompleted with
// the dispatch result attached.
func (r *Runner) RunOnce(ctx context.Context, trig Trigger) Result {
	runID := uuid.NewString()
	log := r.log.With(logx.String("run_id", runID))
	log.Info("run starting",
		logx.Bool("dry_run", trig.DryRun),
		logx.Int("channels", len(r.channels)),
	)

	content, err := r.source.Fetch(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("fetch_failed").Inc()
		log.Error("report retrieval failed", logx.Err(err))
		return Result{RunID: runID, State: StateFailed, Err: fmt.Errorf("fetch report: %w", err)}
	}

	msg := r.buildMessage(content, trig)
	if msg.IsEmpty() {
		// Still delivered; a silent gap in an expected report is itself
		// worth a notification.
		log.Warn("report body is empty")
	}

	if trig.DryRun {
		log.Info("dry run: skipping dispatch",
			logx.String("title", msg.Title),
			logx.String("idempotency_key", msg.IdempotencyKey),
			logx.Int("body_bytes", bodyBytes(msg)),
		)
		metrics.RunsTotal.WithLabelValues("dry_run").Inc()
		return Result{RunID: runID, State: StateCompleted, DryRun: true}
	}

	if r.store != nil && msg.IdempotencyKey != "" {
		at, seen, err := r.store.WasSent(ctx, msg.IdempotencyKey)
		if err != nil {
			log.Warn("sent-key lookup failed, dispatching anyway", logx.Err(err))
		} else if seen {
			log.Info("already delivered, skipping dispatch",
				logx.String("idempotency_key", msg.IdempotencyKey),
				logx.Time("sent_at", at),
			)
			metrics.RunsTotal.WithLabelValues("skipped").Inc()
			return Result{RunID: runID, State: StateCompleted, Skipped: true}
		}
	}

	res := r.disp.Dispatch(ctx, msg, r.channels)
	r.record(ctx, runID, msg.IdempotencyKey, res, log)

	metrics.RunsTotal.WithLabelValues(res.Overall.String()).Inc()
	log.Info("run completed", logx.String("overall", res.Overall.String()))
	return Result{RunID: runID, State: StateCompleted, Dispatch: &res}
}

func (r *Runner) buildMessage(content report.Content, trig Trigger) *message.Message {
	body := content.Body
	if len(trig.Sections) > 0 {
		body = report.FilterSections(body, trig.Sections)
	}
	if r.opts.DetailLevel == "compact" ||
		(r.opts.AutoCompact && len(body) > r.opts.CompactOverBytes) {
		body = report.Compact(body, report.DefaultCompactOptions())
	}

	title := strings.TrimSpace(content.Title)
	if title == "" {
		title = "Report"
	}
	date := content.Date
	if date.IsZero() {
		date = r.now()
	}

	return &message.Message{
		Title:          title,
		Severity:       trig.Severity,
		IdempotencyKey: idempotencyKey(title, date),
		Sections:       []message.Section{{Text: body}},
	}
}

// idempotencyKey is stable per logical report: report type (title slug)
// plus report date. Titles without ASCII letters or digits slug to a hash
// of the full title so distinct reports keep distinct keys.
func idempotencyKey(title string, date time.Time) string {
	slug := strings.ToLower(title)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(title))
		slug = fmt.Sprintf("report-%08x", h.Sum32())
	}
	return slug + ":" + date.Format("2006-01-02")
}

func (r *Runner) record(ctx context.Context, runID, key string, res dispatch.Result, log logx.Logger) {
	if r.store == nil {
		return
	}
	for name, cr := range res.PerChannel {
		var lastErr string
		var tookMS int64
		if n := len(cr.Attempts); n > 0 {
			lastErr = cr.Attempts[n-1].Err
			for _, a := range cr.Attempts {
				tookMS += a.Took.Milliseconds()
			}
		}
		err := r.store.AppendDispatch(ctx, storage.DispatchEntry{
			At:       r.now(),
			RunID:    runID,
			Key:      key,
			Channel:  name,
			Outcome:  cr.Final.String(),
			Attempts: len(cr.Attempts),
			Error:    lastErr,
			TookMS:   tookMS,
		})
		if err != nil {
			log.Warn("audit append failed", logx.String("channel", name), logx.Err(err))
		}
	}
	if res.Overall == dispatch.OverallAllSucceeded && key != "" {
		if err := r.store.MarkSent(ctx, key, r.now()); err != nil {
			log.Warn("sent-key record failed", logx.Err(err))
		}
	}
}

func bodyBytes(m *message.Message) int {
	n := 0
	for _, s := range m.Sections {
		n += len(s.Text)
	}
	return n
}
