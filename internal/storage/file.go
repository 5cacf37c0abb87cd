package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "reportpush/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.dispatch.jsonl (append-only JSON Lines audit)
//   - <prefix>.sent.jsonl     (append-only sent-key journal)
//
// The sent journal is replayed into memory on open; reads never touch disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	dispatchFile *os.File
	sentFile     *os.File
	sent         map[string]int64 // key -> unix milli
}

type sentRecord struct {
	Key string `json:"key"`
	At  int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dispatchPath := prefix + ".dispatch.jsonl"
	sentPath := prefix + ".sent.jsonl"

	df, err := os.OpenFile(dispatchPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	sent := map[string]int64{}
	if err := replaySentJournal(sentPath, sent); err != nil {
		log.Warn("sent journal replay failed, starting empty", logx.Err(err))
	}

	sf, err := os.OpenFile(sentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = df.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		dispatchFile: df,
		sentFile:     sf,
		sent:         sent,
	}, nil
}

func replaySentJournal(path string, into map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec sentRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Torn final line after a crash; skip it.
			continue
		}
		if rec.Key != "" {
			into[rec.Key] = rec.At
		}
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.dispatchFile != nil {
		err1 = s.dispatchFile.Close()
		s.dispatchFile = nil
	}
	if s.sentFile != nil {
		err2 = s.sentFile.Close()
		s.sentFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDispatch(ctx context.Context, e DispatchEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return ErrDisabled
	}
	_, err = s.dispatchFile.Write(b)
	return err
}

func (s *fileStore) MarkSent(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	b, err := json.Marshal(sentRecord{Key: key, At: at.UnixMilli()})
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentFile == nil {
		return ErrDisabled
	}
	if _, err := s.sentFile.Write(b); err != nil {
		return err
	}
	s.sent[key] = at.UnixMilli()
	return nil
}

func (s *fileStore) WasSent(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	ms, ok := s.sent[key]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}
