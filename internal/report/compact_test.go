package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "reportpush/pkg/logx"
)

const sampleReport = `# Daily dashboard

Summary line.

### Data Pivot

| a | b |
|---|---|
| 1 | 2 |

### Signals

- one
- two
- three
- four
- five
- six

---

---

Tail.`

func TestCompactDropsFlaggedSections(t *testing.T) {
	t.Parallel()
	got := Compact(sampleReport, DefaultCompactOptions())

	if strings.Contains(got, "Data Pivot") {
		t.Fatal("flagged section not removed")
	}
	if !strings.Contains(got, "### Signals") {
		t.Fatal("unflagged section must survive")
	}
	if !strings.Contains(got, "Summary line.") || !strings.Contains(got, "Tail.") {
		t.Fatal("surrounding content must survive")
	}
}

func TestCompactCapsListRuns(t *testing.T) {
	t.Parallel()
	got := Compact(sampleReport, DefaultCompactOptions())
	if strings.Contains(got, "- five") || strings.Contains(got, "- six") {
		t.Fatalf("list run not capped:\n%s", got)
	}
	if !strings.Contains(got, "- four") {
		t.Fatal("items within the cap must survive")
	}
}

func TestCompactCollapsesRules(t *testing.T) {
	t.Parallel()
	got := Compact(sampleReport, DefaultCompactOptions())
	if strings.Contains(got, "---\n\n---") || strings.Contains(got, "---\n---") {
		t.Fatalf("repeated rules not collapsed:\n%s", got)
	}
}

func TestCompactShrinks(t *testing.T) {
	t.Parallel()
	got := Compact(sampleReport, DefaultCompactOptions())
	if len(got) >= len(sampleReport) {
		t.Fatalf("compaction did not shrink: %d -> %d bytes", len(sampleReport), len(got))
	}
}

func TestFileSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "daily_report.md")
	p2 := filepath.Join(dir, "etf_watch.md")
	if err := os.WriteFile(p1, []byte("# One\n\nbody one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p2, []byte("# Two\n\nbody two\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource([]string{p1, p2}, logx.Nop())
	c, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if c.Title != "daily report" {
		t.Fatalf("Title = %q", c.Title)
	}
	if !strings.Contains(c.Body, "body one") || !strings.Contains(c.Body, "body two") {
		t.Fatalf("Body missing content:\n%s", c.Body)
	}
	if !strings.Contains(c.Body, "\n\n---\n\n") {
		t.Fatal("multiple reports should be separated by a rule")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()
	src := NewFileSource([]string{"/nonexistent/report.md"}, logx.Nop())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing report file")
	}
}

func TestFileSourceNoPaths(t *testing.T) {
	t.Parallel()
	src := NewFileSource(nil, logx.Nop())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected ErrNoReports")
	}
}
