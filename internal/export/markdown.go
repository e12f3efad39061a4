package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// MarkdownToHTML converts the markdown subset used by note bodies to HTML.
// It understands headings, bullet and ordered lists, fenced code blocks,
// blockquotes, horizontal rules and the inline marks bold/italic/code/link.
func MarkdownToHTML(src string) string {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")

	var out strings.Builder
	var para []string
	inCode := false
	var code []string
	listTag := "" // "ul" or "ol" while inside a list

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		out.WriteString("<p>")
		out.WriteString(renderInline(strings.Join(para, " ")))
		out.WriteString("</p>\n")
		para = para[:0]
	}
	closeList := func() {
		if listTag != "" {
			out.WriteString("</" + listTag + ">\n")
			listTag = ""
		}
	}

	for _, line := range lines {
		if inCode {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				out.WriteString("<pre><code>")
				out.WriteString(html.EscapeString(strings.Join(code, "\n")))
				out.WriteString("</code></pre>\n")
				code = code[:0]
				inCode = false
				continue
			}
			code = append(code, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			flushPara()
			closeList()
			inCode = true
		case trimmed == "":
			flushPara()
			closeList()
		case trimmed == "---" || trimmed == "***":
			flushPara()
			closeList()
			out.WriteString("<hr>\n")
		case strings.HasPrefix(trimmed, "#"):
			flushPara()
			closeList()
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' && level < 6 {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			fmt.Fprintf(&out, "<h%d>%s</h%d>\n", level, renderInline(text), level)
		case strings.HasPrefix(trimmed, "> "):
			flushPara()
			closeList()
			out.WriteString("<blockquote><p>")
			out.WriteString(renderInline(strings.TrimPrefix(trimmed, "> ")))
			out.WriteString("</p></blockquote>\n")
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			flushPara()
			if listTag != "ul" {
				closeList()
				out.WriteString("<ul>\n")
				listTag = "ul"
			}
			out.WriteString("<li>")
			out.WriteString(renderInline(trimmed[2:]))
			out.WriteString("</li>\n")
		case orderedItem.MatchString(trimmed):
			flushPara()
			if listTag != "ol" {
				closeList()
				out.WriteString("<ol>\n")
				listTag = "ol"
			}
			out.WriteString("<li>")
			out.WriteString(renderInline(orderedItem.ReplaceAllString(trimmed, "")))
			out.WriteString("</li>\n")
		default:
			closeList()
			para = append(para, trimmed)
		}
	}

	flushPara()
	closeList()
	if inCode {
		// Unterminated fence still renders as code.
		out.WriteString("<pre><code>")
		out.WriteString(html.EscapeString(strings.Join(code, "\n")))
		out.WriteString("</code></pre>\n")
	}
	return out.String()
}

var (
	orderedItem = regexp.MustCompile(`^\d+\.\s+`)
	boldMark    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicMark  = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	codeMark    = regexp.MustCompile("`([^`]+)`")
	linkMark    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// renderInline escapes text and applies inline marks. Code spans are lifted
// out before the other marks run, so markup inside backticks stays literal.
func renderInline(text string) string {
	escaped := html.EscapeString(text)

	var spans []string
	escaped = codeMark.ReplaceAllStringFunc(escaped, func(m string) string {
		spans = append(spans, "<code>"+strings.Trim(m, "`")+"</code>")
		return fmt.Sprintf("\x00%d\x00", len(spans)-1)
	})

	escaped = linkMark.ReplaceAllString(escaped, `<a href="$2">$1</a>`)
	escaped = boldMark.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicMark.ReplaceAllStringFunc(escaped, func(m string) string {
		inner := strings.Trim(m, "*_")
		return "<em>" + inner + "</em>"
	})

	for i, span := range spans {
		escaped = strings.Replace(escaped, fmt.Sprintf("\x00%d\x00", i), span, 1)
	}
	return escaped
}
