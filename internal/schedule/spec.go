// Package schedule implements serve mode: parsing a schedule spec and
// running a loop that triggers one run per firing.
package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind describes the normalized kind of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Spec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "30 8 * * *", "@hourly", "@every 6h"
//   - Interval duration: "6h", "2h30m"
//   - Daily HH:MM: "08:30" (translated to the cron "30 8 * * *")
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Spec struct {
	Kind   Kind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// Parse parses a schedule string into either a cron expression or an
// interval duration. Daily HH:MM becomes a cron expression so that a
// timezone applies to it the same way it applies to any other cron spec.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Spec{Kind: KindCron, Cron: expr, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			v := strings.TrimSpace(s[len(p):])
			d, err := parseInterval(v)
			if err != nil {
				return Spec{}, err
			}
			return Spec{Kind: KindInterval, Every: d, Source: "duration"}, nil
		}
	}

	// Heuristics: any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Spec{Kind: KindCron, Cron: s, Source: "cron"}, nil
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, mm, err := parseHHMM(m)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindCron, Cron: fmt.Sprintf("%d %d * * *", mm, hh), Source: "hhmm"}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Kind: KindInterval, Every: d, Source: "duration"}, nil
	}

	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '30 8 * * *', daily HH:MM like '08:30', or duration like '6h')",
		raw,
	)
}

// Schedule resolves the spec into a next-fire computation.
func (s Spec) Schedule() (cron.Schedule, error) {
	switch s.Kind {
	case KindInterval:
		return cron.Every(s.Every), nil
	default:
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		return parser.Parse(s.Cron)
	}
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use Go duration like '6h'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseHHMM(m []string) (hh, mm int, err error) {
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", m[0])
	}
	if mm > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q", m[0])
	}
	return hh, mm, nil
}
