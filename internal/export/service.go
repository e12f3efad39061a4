package export

import (
	"context"
	"fmt"
	"html/template"
)

// NoteSource loads the note to render. The app layer implements it on top of
// the policy engine so exports see exactly what the requesting user may read.
type NoteSource interface {
	GetNote(ctx context.Context, noteID string) (Note, error)
}

// Service renders notes into downloadable documents.
type Service struct {
	notes NoteSource
}

func NewService(notes NoteSource) *Service {
	return &Service{notes: notes}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	note, err := s.notes.GetNote(ctx, req.NoteID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	contentHTML := MarkdownToHTML(note.Body)

	data := TemplateData{
		Title:       note.Title,
		FolderName:  note.FolderName,
		Source:      note.Source,
		ContentHTML: template.HTML(contentHTML),
		Author:      note.Author,
		UpdatedAt:   note.UpdatedAt,
		Tags:        note.Tags,
	}

	html, err := RenderNoteHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, note.Title)
	case FormatDOCX:
		return exportDOCX(html, note.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
