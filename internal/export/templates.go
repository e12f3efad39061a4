package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var noteTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/note.html")
	if err != nil {
		// Fallback to built-in template if file not found
		noteTemplate = template.Must(template.New("note").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	noteTemplate = template.Must(template.New("note").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for note template rendering
type TemplateData struct {
	Title       string
	FolderName  string
	Source      string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
	Tags        []string
}

// RenderNoteHTML renders the note template with provided data
func RenderNoteHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := noteTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { background: #eef; border-radius: 3px; padding: 0 0.4em; margin-right: 0.3em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{if .FolderName}}{{.FolderName}} | {{end}}{{.Author}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  {{if .Tags}}<div class="meta">{{range .Tags}}<span class="tag">{{.}}</span>{{end}}</div>{{end}}
  <div>{{.ContentHTML}}</div>
</body>
</html>`
