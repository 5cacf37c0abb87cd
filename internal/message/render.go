package message

import (
	"strings"
	"unicode/utf8"
)

// RenderMarkdown flattens the body sections into one markdown document.
// Adapters that speak markdown-ish formats (Feishu lark_md, generic
// webhooks) render from this; others re-walk the sections themselves.
func (m *Message) RenderMarkdown() string {
	var b strings.Builder
	for i, s := range m.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		renderSection(&b, s)
	}
	return strings.TrimSpace(b.String())
}

func renderSection(b *strings.Builder, s Section) {
	wrote := false
	if h := strings.TrimSpace(s.Heading); h != "" {
		b.WriteString("### ")
		b.WriteString(h)
		wrote = true
	}
	if t := strings.TrimSpace(s.Text); t != "" {
		if wrote {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
		wrote = true
	}
	for _, f := range s.Fields {
		if wrote {
			b.WriteString("\n")
		}
		b.WriteString("**")
		b.WriteString(f.Key)
		b.WriteString("**: ")
		b.WriteString(f.Value)
		wrote = true
	}
	for _, l := range s.Links {
		if wrote {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(l.Label)
		b.WriteString("](")
		b.WriteString(l.URL)
		b.WriteString(")")
		wrote = true
	}
}

// TruncateBytes returns s truncated to at most n bytes without splitting a
// UTF-8 sequence. It appends an ellipsis "…" when truncated.
func TruncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	const ellipsis = "…" // 3 bytes
	if n < len(ellipsis) {
		// No room for the marker; a bare prefix still honors the budget.
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
	cut := n - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

// ChunkByParagraph splits s into chunks of at most maxBytes, preferring
// paragraph ("\n\n") boundaries. A single paragraph larger than maxBytes is
// hard-truncated rather than failing the whole send.
func ChunkByParagraph(s string, maxBytes int) []string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return []string{s}
	}

	paragraphs := strings.Split(s, "\n\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > maxBytes {
			para = TruncateBytes(para, maxBytes)
		}
		need := len(para)
		if cur.Len() > 0 {
			need += 2 // separator
		}
		if cur.Len()+need > maxBytes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}
