package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "simple paragraph",
			input:    "Hello world",
			expected: "<p>Hello world</p>",
		},
		{
			name:     "heading with level",
			input:    "## Section Title",
			expected: "<h2>Section Title</h2>",
		},
		{
			name:     "bold and italic",
			input:    "**Bold** and *italic*",
			expected: "<p><strong>Bold</strong> and <em>italic</em></p>",
		},
		{
			name:     "bullet list",
			input:    "- Item 1\n- Item 2",
			expected: "<ul>\n<li>Item 1</li>\n<li>Item 2</li>\n</ul>",
		},
		{
			name:     "ordered list",
			input:    "1. First\n2. Second",
			expected: "<ol>\n<li>First</li>\n<li>Second</li>\n</ol>",
		},
		{
			name:     "code fence",
			input:    "```\nfunc main() {}\n```",
			expected: "<pre><code>func main() {}</code></pre>",
		},
		{
			name:     "blockquote",
			input:    "> Quoted line",
			expected: "<blockquote><p>Quoted line</p></blockquote>",
		},
		{
			name:     "link",
			input:    "See [docs](https://example.com)",
			expected: `<a href="https://example.com">docs</a>`,
		},
		{
			name:     "html is escaped",
			input:    "evil <script>alert(1)</script>",
			expected: "&lt;script&gt;",
		},
		{
			name:     "markup inside backticks stays literal",
			input:    "use `**not bold**` here",
			expected: "<code>**not bold**</code>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strings.TrimSpace(MarkdownToHTML(tt.input))
			if !strings.Contains(result, strings.TrimSpace(tt.expected)) {
				t.Errorf("MarkdownToHTML() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMarkdownToHTMLBlankLineSplitsParagraphs(t *testing.T) {
	got := MarkdownToHTML("first line\nsame paragraph\n\nsecond paragraph")
	if !strings.Contains(got, "<p>first line same paragraph</p>") {
		t.Errorf("expected joined paragraph, got %q", got)
	}
	if !strings.Contains(got, "<p>second paragraph</p>") {
		t.Errorf("expected second paragraph, got %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Note v1.2", "My-Note-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "note"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},                               // Empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

type stubNoteSource struct {
	note Note
	err  error
}

func (s stubNoteSource) GetNote(ctx context.Context, noteID string) (Note, error) {
	return s.note, s.err
}

func TestRenderNoteHTML(t *testing.T) {
	data := TemplateData{
		Title:      "Weekly Notes",
		FolderName: "Work",
		Source:     "WEB",
		Author:     "Avery",
		UpdatedAt:  time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
		Tags:       []string{"planning", "q1"},
	}
	data.ContentHTML = "<p>This is the content.</p>"

	html, err := RenderNoteHTML(data)
	if err != nil {
		t.Fatalf("RenderNoteHTML() error = %v", err)
	}

	if !strings.Contains(html, "Weekly Notes") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "Work") {
		t.Error("HTML missing folder name")
	}
	if !strings.Contains(html, "planning") {
		t.Error("HTML missing tags")
	}
	if !strings.Contains(html, "Mar 4, 2025") {
		t.Error("HTML missing formatted date")
	}
	// Rendered body must land as raw HTML, not escaped text.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	if !strings.Contains(html, "<p>This is the content.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

func TestExportWrapsSourceErrors(t *testing.T) {
	svc := NewService(stubNoteSource{err: errors.New("nope")})
	_, err := svc.Export(context.Background(), Request{NoteID: "note_1", Format: FormatPDF})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewService(stubNoteSource{note: Note{ID: "note_1", Title: "T", Body: "b"}})
	_, err := svc.Export(context.Background(), Request{NoteID: "note_1", Format: Format("csv")})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}
