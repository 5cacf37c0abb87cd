package report

import "strings"

// CompactOptions tunes report compaction.
type CompactOptions struct {
	// DropSections removes any "###" section whose heading contains one of
	// these markers (case-insensitive). Used for detail blocks like data
	// pivot tables that don't survive a chat-message budget.
	DropSections []string
	// MaxListRun caps consecutive "- " list items per run; 0 keeps all.
	MaxListRun int
}

// DefaultCompactOptions matches the behavior reports are produced against:
// pivot/detail tables go first, long lists are capped.
func DefaultCompactOptions() CompactOptions {
	return CompactOptions{
		DropSections: []string{"数据透视", "data pivot", "raw data"},
		MaxListRun:   4,
	}
}

// Compact shrinks a markdown report so it fits a chat-message budget:
// flagged detail sections are removed, long list runs are capped, repeated
// blank lines and horizontal rules collapse to one. Content order is
// otherwise preserved.
func Compact(content string, opts CompactOptions) string {
	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))

	listRun := 0
	i := 0
	for i < len(lines) {
		line := lines[i]
		stripped := strings.TrimSpace(line)

		if isHeading(stripped) && matchesAny(stripped, opts.DropSections) {
			// Skip until the next same-or-higher-level heading.
			i++
			for i < len(lines) && !isHeading(strings.TrimSpace(lines[i])) {
				i++
			}
			continue
		}

		if strings.HasPrefix(stripped, "- ") {
			listRun++
			if opts.MaxListRun > 0 && listRun > opts.MaxListRun {
				i++
				continue
			}
		} else {
			listRun = 0
		}

		// Collapse consecutive blank lines.
		if stripped == "" {
			if len(result) > 0 && strings.TrimSpace(result[len(result)-1]) == "" {
				i++
				continue
			}
		}

		// Collapse consecutive horizontal rules.
		if stripped == "---" && lastNonBlank(result) == "---" {
			i++
			continue
		}

		result = append(result, line)
		i++
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}

// FilterSections keeps only the sections whose heading contains one of the
// keep markers (case-insensitive), plus any preamble before the first
// heading. An empty keep list returns the content unchanged.
func FilterSections(content string, keep []string) string {
	if len(keep) == 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	result := make([]string, 0, len(lines))

	keeping := true // preamble before the first heading survives
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if isHeading(stripped) {
			keeping = matchesAny(stripped, keep)
		}
		if keeping {
			result = append(result, line)
		}
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

func isHeading(s string) bool {
	return strings.HasPrefix(s, "#")
}

func matchesAny(heading string, markers []string) bool {
	h := strings.ToLower(heading)
	for _, m := range markers {
		if m != "" && strings.Contains(h, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func lastNonBlank(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}
