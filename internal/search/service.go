package search

import (
	"go.uber.org/zap"

	"corkboard/api/internal/board"
)

// Service tries Meilisearch first and falls back to scanning the loaded
// board view.
type Service struct {
	meili  *Meili
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, logger: logger}
}

// Search answers q from Meilisearch when healthy, otherwise from view.
func (s *Service) Search(q Query, view board.View) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to view scan", zap.Error(err))
	}
	results, total := ScanView(view, q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "view"}
}

// IndexPost indexes a post (fire-and-forget).
func (s *Service) IndexPost(p board.Post) {
	if !s.meiliReady() {
		return
	}
	rec := RecordFromPost(p)
	go func() {
		if err := s.meili.IndexPost(rec); err != nil {
			s.logger.Warn("index post", zap.String("post_id", rec.ID), zap.Error(err))
		}
	}()
}

// DeletePost removes a post from the index (fire-and-forget).
func (s *Service) DeletePost(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeletePost(id); err != nil {
			s.logger.Warn("delete post from index", zap.String("post_id", id), zap.Error(err))
		}
	}()
}

// Reindex pushes every post of a loaded view to Meilisearch.
func (s *Service) Reindex(view board.View) {
	if !s.meiliReady() {
		return
	}
	recs := make([]PostRecord, 0, len(view.Posts))
	for _, p := range view.Posts {
		recs = append(recs, RecordFromPost(p))
	}
	if err := s.meili.IndexPosts(recs); err != nil {
		s.logger.Warn("reindex board", zap.String("board_id", view.Board.ID), zap.Error(err))
	}
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
