package export

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"corkboard/api/internal/board"
)

// Service provides board export functionality
type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// Export renders view in the requested format.
func (s *Service) Export(ctx context.Context, view board.View, req Request) (*Result, error) {
	name := sanitizeFilename(view.Board.Title)

	if req.Format == FormatCSV {
		data, err := renderCSV(view, req.IncludePending)
		if err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
		return &Result{Data: data, Filename: name + ".csv", MimeType: "text/csv"}, nil
	}

	html, err := RenderBoardHTML(BuildTemplateData(view, req.IncludePending))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{Data: []byte(html), Filename: name + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		pdf, err := renderPDF(ctx, html)
		if err != nil {
			s.logger.Warn("pdf export failed", zap.String("board_id", view.Board.ID), zap.Error(err))
			return nil, err
		}
		return &Result{Data: pdf, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
