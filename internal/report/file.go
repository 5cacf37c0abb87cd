package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "reportpush/pkg/logx"
)

// FileSource reads markdown report files written by the external analysis
// step. Multiple files are concatenated in argument order with a rule
// between them.
type FileSource struct {
	paths []string
	log   logx.Logger

	now func() time.Time
}

func NewFileSource(paths []string, log logx.Logger) *FileSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileSource{paths: paths, log: log, now: time.Now}
}

func (s *FileSource) Fetch(ctx context.Context) (Content, error) {
	if len(s.paths) == 0 {
		return Content{}, ErrNoReports
	}

	var parts []string
	for _, p := range s.paths {
		if err := ctx.Err(); err != nil {
			return Content{}, err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return Content{}, fmt.Errorf("read report %s: %w", p, err)
		}
		s.log.Info("report file read", logx.String("path", p), logx.Int("bytes", len(b)))
		parts = append(parts, strings.TrimSpace(string(b)))
	}

	body := strings.Join(parts, "\n\n---\n\n")
	return Content{
		Title: titleFromPath(s.paths[0], s.now()),
		Body:  body,
		Date:  s.now(),
	}, nil
}

// titleFromPath derives a human title from the first report's filename,
// falling back to a dated default.
func titleFromPath(path string, now time.Time) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Analysis report " + now.Format("2006-01-02")
	}
	return base
}
