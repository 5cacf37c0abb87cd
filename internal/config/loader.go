package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	logx "reportpush/pkg/logx"
)

// Loader parses the config file and, in serve mode, republishes it on
// change (see Watch). One-shot invocations just call Load once.
type Loader struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger
}

func NewLoader(path string, log logx.Logger) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loader{path: path, log: log}
}

// Parse reads and strictly decodes the config file without committing it.
func (l *Loader) Parse() (*Config, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(l.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// Reject trailing tokens (e.g. concatenated JSON).
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load parses, validates, and commits the config.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.Parse()
	if err != nil {
		return nil, err
	}
	l.commit(cfg)
	return cfg, nil
}

func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) commit(cfg *Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.lastHash = hashConfig(cfg)
	l.mu.Unlock()
}

// Subscribe returns a channel receiving each newly committed config.
// Slow subscribers miss intermediate versions rather than blocking.
func (l *Loader) Subscribe(buffer int) (<-chan *Config, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	l.subsMu.Lock()
	l.subs = append(l.subs, ch)
	l.subsMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			l.subsMu.Lock()
			for i, c := range l.subs {
				if c == ch {
					l.subs = append(l.subs[:i], l.subs[i+1:]...)
					break
				}
			}
			l.subsMu.Unlock()
		})
	}
	return ch, unsub
}

func (l *Loader) publish(cfg *Config) {
	l.subsMu.Lock()
	subs := append([]chan *Config(nil), l.subs...)
	l.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
			// Drain one stale version and retry once so the subscriber
			// always ends up with the newest config.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
