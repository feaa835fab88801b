package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/util"
)

// ReorderSections writes order=index for every id, in the caller's final
// sequence. Writes run concurrently and independently.
func (s *Service) ReorderSections(ctx context.Context, boardID string, orderedIDs []string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := checkIDs(orderedIDs); err != nil {
		return err
	}
	return s.runBatch(ctx, "reorder sections", orderedIDs, func(ctx context.Context, i int, id string) error {
		return storeError(s.store.Update(ctx, s.paths.Section(boardID, id), map[string]any{"order": i}), "section")
	})
}

// ReorderPosts writes order=index and sectionId=targetSectionID for every
// post. The same call moves posts between sections and reorders them.
func (s *Service) ReorderPosts(ctx context.Context, boardID, targetSectionID string, orderedPostIDs []string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := checkIDs(orderedPostIDs); err != nil {
		return err
	}
	return s.runBatch(ctx, "reorder posts", orderedPostIDs, func(ctx context.Context, i int, id string) error {
		fields := map[string]any{"order": i, "sectionId": targetSectionID}
		return storeError(s.store.Update(ctx, s.paths.Post(boardID, id), fields), "post")
	})
}

func checkIDs(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalidInput("ids must not be empty", nil)
		}
		if seen[id] {
			return invalidInput("duplicate id in order", map[string]any{"id": id})
		}
		seen[id] = true
	}
	return nil
}

type NewSection struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

// CreateSection appends a section. Its order is the number of sections the
// board has now.
func (s *Service) CreateSection(ctx context.Context, boardID string, in NewSection) (board.Section, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return board.Section{}, err
	}
	title := s.sanitizeText(in.Title)
	if title == "" {
		return board.Section{}, invalidInput("title is required", map[string]any{"field": "title"})
	}
	existing, err := s.store.Query(ctx, docstore.Query{Collection: s.paths.Sections(boardID)})
	if err != nil {
		return board.Section{}, storeError(err, "sections")
	}
	sec := board.Section{
		ID:      util.NewID("sec"),
		BoardID: boardID,
		Title:   title,
		Color:   s.sanitizeText(in.Color),
		Order:   len(existing),
	}
	if err := s.store.Set(ctx, s.paths.Section(boardID, sec.ID), sec); err != nil {
		return board.Section{}, storeError(err, "section")
	}
	return sec, nil
}

// UpdateSection changes a section's title and/or color. Nil fields are
// left alone.
func (s *Service) UpdateSection(ctx context.Context, boardID, sectionID string, title, color *string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	fields := map[string]any{}
	if title != nil {
		t := s.sanitizeText(*title)
		if t == "" {
			return invalidInput("title is required", map[string]any{"field": "title"})
		}
		fields["title"] = t
	}
	if color != nil {
		fields["color"] = s.sanitizeText(*color)
	}
	if len(fields) == 0 {
		return nil
	}
	return storeError(s.store.Update(ctx, s.paths.Section(boardID, sectionID), fields), "section")
}

// DeleteSection deletes every post filed under the section, then the
// section itself. Attachment blobs of those posts are not removed. If any
// post delete fails the section is kept and a *BatchError is returned.
func (s *Service) DeleteSection(ctx context.Context, boardID, sectionID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	docs, err := s.store.Query(ctx, docstore.Query{Collection: s.paths.Posts(boardID)}.Where("sectionId", sectionID))
	if err != nil {
		return storeError(err, "posts")
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	if err := s.runBatch(ctx, "delete section posts", ids, func(ctx context.Context, _ int, id string) error {
		if err := s.store.Delete(ctx, s.paths.Post(boardID, id)); err != nil {
			return storeError(err, "post")
		}
		s.search.DeletePost(id)
		return nil
	}); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.paths.Section(boardID, sectionID)); err != nil {
		return storeError(err, "section")
	}
	s.logger.Info("section deleted",
		zap.String("board_id", boardID),
		zap.String("section_id", sectionID),
		zap.Int("posts", len(ids)),
	)
	return nil
}
