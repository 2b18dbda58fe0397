package export

import (
	"context"
	"fmt"
	"html/template"
	"time"
)

// Service renders documents and optionally archives the output.
type Service struct {
	archive Archiver
	timeout time.Duration
}

// NewService creates an export service. archive may be nil when object
// storage is not configured.
func NewService(archive Archiver, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{archive: archive, timeout: timeout}
}

// Render generates the export in the requested format.
func (s *Service) Render(ctx context.Context, doc Document, format Format) (*Result, error) {
	if format == FormatTXT {
		return &Result{
			Data:     []byte(doc.Content),
			Filename: sanitizeFilename(doc.Name) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	}

	html, err := RenderFileHTML(TemplateData{
		Title:       doc.Name,
		ContentHTML: template.HTML(TextToHTML(doc.Content)),
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return renderPDF(ctx, html, doc.Name, s.timeout)
	case FormatDOCX:
		return renderDOCX(ctx, html, doc.Name, s.timeout)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ArchiveEnabled reports whether exports can be stored for later download.
func (s *Service) ArchiveEnabled() bool {
	return s.archive != nil
}

// RenderAndArchive renders doc and stores it under the owner's prefix.
func (s *Service) RenderAndArchive(ctx context.Context, ownerID string, doc Document, format Format) (Archived, error) {
	if s.archive == nil {
		return Archived{}, ErrArchiveUnavailable
	}
	result, err := s.Render(ctx, doc, format)
	if err != nil {
		return Archived{}, err
	}
	key := fmt.Sprintf("%s/%s/%d-%s", ownerID, doc.ID, time.Now().UTC().Unix(), result.Filename)
	return s.archive.Store(ctx, key, result)
}
