package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"corkboard/api/internal/attachments"
	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/util"
)

type NewPoll struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allowMultiple"`
}

type NewPost struct {
	SectionID   string             `json:"sectionId"`
	Position    *board.Position    `json:"position"`
	Title       string             `json:"title"`
	Content     string             `json:"content"`
	Attachments []board.Attachment `json:"attachments"`
	Poll        *NewPoll           `json:"poll"`
	Color       string             `json:"color"`
	// GuestName is used when nobody is signed in.
	GuestName string `json:"guestName"`
}

// PostPatch lists the post fields to change. Nil fields are left alone.
type PostPatch struct {
	Title       *string             `json:"title"`
	Content     *string             `json:"content"`
	Color       *string             `json:"color"`
	Position    *board.Position     `json:"position"`
	Attachments *[]board.Attachment `json:"attachments"`
}

func (s *Service) author(ctx context.Context, guestName string) board.Author {
	if u, ok := s.currentUser(ctx); ok {
		return u.Author()
	}
	name := s.sanitizeText(guestName)
	if name == "" {
		name = board.GuestName
	}
	return board.Author{UID: board.GuestUID, DisplayName: name}
}

// CreatePost stores a new post on the board of view. The post goes last in
// its section: its order is the number of posts view currently groups under
// that section.
func (s *Service) CreatePost(ctx context.Context, view board.View, in NewPost) (board.Post, error) {
	b, _, err := s.authorize(ctx, view.Board.ID, rbac.ActionWrite)
	if err != nil {
		return board.Post{}, err
	}
	if in.SectionID != "" && view.SectionsLoaded {
		if _, ok := view.Section(in.SectionID); !ok {
			return board.Post{}, notFound("section")
		}
	}

	author := s.author(ctx, in.GuestName)
	p := board.Post{
		ID:          util.NewID("pst"),
		BoardID:     b.ID,
		SectionID:   in.SectionID,
		Position:    in.Position,
		Author:      author,
		Title:       s.sanitizeText(in.Title),
		Content:     s.sanitizeContent(in.Content),
		Attachments: cleanAttachments(in.Attachments),
		Color:       s.sanitizeText(in.Color),
		Order:       view.CountInSection(in.SectionID),
		Status:      board.InitialStatus(b, author.UID),
		CreatedAt:   s.now(),
	}
	if in.Poll != nil {
		poll, err := s.newPoll(*in.Poll)
		if err != nil {
			return board.Post{}, err
		}
		p.Poll = &poll
	}
	if p.Title == "" && p.Content == "" && len(p.Attachments) == 0 && p.Poll == nil {
		return board.Post{}, invalidInput("post is empty", nil)
	}

	if err := s.store.Set(ctx, s.paths.Post(b.ID, p.ID), p); err != nil {
		return board.Post{}, storeError(err, "post")
	}
	s.search.IndexPost(p)
	s.logger.Info("post created",
		zap.String("board_id", b.ID),
		zap.String("post_id", p.ID),
		zap.String("status", string(p.Status)),
	)
	return p, nil
}

func (s *Service) newPoll(in NewPoll) (board.Poll, error) {
	poll := board.Poll{
		Question:      s.sanitizeText(in.Question),
		AllowMultiple: in.AllowMultiple,
		Options:       []board.PollOption{},
	}
	for _, text := range in.Options {
		text = s.sanitizeText(text)
		if text == "" {
			continue
		}
		poll.Options = append(poll.Options, board.PollOption{ID: util.NewID("opt"), Text: text, Voters: []string{}})
	}
	if poll.Question == "" {
		return board.Poll{}, invalidInput("poll question is required", map[string]any{"field": "poll.question"})
	}
	if len(poll.Options) < 2 {
		return board.Poll{}, invalidInput("poll needs at least two options", map[string]any{"field": "poll.options"})
	}
	return poll, nil
}

// cleanAttachments drops attachments without a URL.
func cleanAttachments(in []board.Attachment) []board.Attachment {
	var out []board.Attachment
	for _, a := range in {
		if strings.TrimSpace(a.URL) == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Service) UpdatePost(ctx context.Context, boardID, postID string, patch PostPatch) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	fields := map[string]any{}
	if patch.Title != nil {
		fields["title"] = s.sanitizeText(*patch.Title)
	}
	if patch.Content != nil {
		fields["content"] = s.sanitizeContent(*patch.Content)
	}
	if patch.Color != nil {
		fields["color"] = s.sanitizeText(*patch.Color)
	}
	if patch.Position != nil {
		fields["position"] = *patch.Position
	}
	if patch.Attachments != nil {
		fields["attachments"] = cleanAttachments(*patch.Attachments)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.store.Update(ctx, s.paths.Post(boardID, postID), fields); err != nil {
		return storeError(err, "post")
	}
	s.reindex(ctx, boardID, postID)
	return nil
}

func (s *Service) reindex(ctx context.Context, boardID, postID string) {
	doc, err := s.store.Get(ctx, s.paths.Post(boardID, postID))
	if err != nil {
		s.logger.Debug("reindex post skipped", zap.String("post_id", postID), zap.Error(err))
		return
	}
	p, err := decodePost(doc)
	if err != nil {
		return
	}
	s.search.IndexPost(p)
}

// DeletePost removes the post document. Attachment blobs are left alone;
// see DeletePostWithAttachments.
func (s *Service) DeletePost(ctx context.Context, boardID, postID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.paths.Post(boardID, postID)); err != nil {
		return storeError(err, "post")
	}
	s.search.DeletePost(postID)
	return nil
}

// DeletePostWithAttachments deletes the post and then, best effort, each of
// its attachment blobs. Blob failures are logged, not returned.
func (s *Service) DeletePostWithAttachments(ctx context.Context, boardID, postID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return err
	}
	doc, err := s.store.Get(ctx, s.paths.Post(boardID, postID))
	if err != nil {
		return storeError(err, "post")
	}
	p, err := decodePost(doc)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, s.paths.Post(boardID, postID)); err != nil {
		return storeError(err, "post")
	}
	s.search.DeletePost(postID)

	if s.uploader == nil {
		return nil
	}
	for _, a := range p.Attachments {
		if a.PublicID == "" {
			continue
		}
		ok, err := s.uploader.Delete(ctx, a.PublicID, a.DeleteToken, a.ResourceType)
		if err != nil || !ok {
			s.logger.Warn("attachment cleanup failed",
				zap.String("post_id", postID),
				zap.String("public_id", a.PublicID),
				zap.Bool("deleted", ok),
				zap.Error(err),
			)
		}
	}
	return nil
}

// UploadAttachment stores a file for a post on boardID.
func (s *Service) UploadAttachment(ctx context.Context, boardID string, f attachments.File) (board.Attachment, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionWrite); err != nil {
		return board.Attachment{}, err
	}
	if s.uploader == nil {
		return board.Attachment{}, domainError(http.StatusServiceUnavailable, CodeNetworkFailure, "Attachment storage is not configured", nil)
	}
	a, err := s.uploader.Upload(ctx, f)
	if errors.Is(err, attachments.ErrTooLarge) {
		return board.Attachment{}, &DomainError{Status: http.StatusRequestEntityTooLarge, Code: CodeInvalidInput, Message: err.Error(), Err: err}
	}
	if err != nil {
		return board.Attachment{}, &DomainError{Status: http.StatusBadGateway, Code: CodeNetworkFailure, Message: "Attachment upload failed", Err: err}
	}
	return a, nil
}

// Like adds one like from deviceID. It reports false, without counting,
// when the device already liked the post.
func (s *Service) Like(ctx context.Context, boardID, postID, deviceID string) (bool, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionReact); err != nil {
		return false, err
	}
	if s.likes != nil && deviceID != "" {
		fresh, err := s.likes.Mark(ctx, postID, deviceID)
		if err != nil {
			return false, &DomainError{Status: http.StatusServiceUnavailable, Code: CodeNetworkFailure, Message: "Like markers unavailable", Err: err}
		}
		if !fresh {
			return false, nil
		}
	}
	if err := s.store.Increment(ctx, s.paths.Post(boardID, postID), "likes", 1); err != nil {
		if s.likes != nil && deviceID != "" {
			if _, uerr := s.likes.Unmark(ctx, postID, deviceID); uerr != nil {
				s.logger.Warn("like marker rollback failed", zap.String("post_id", postID), zap.Error(uerr))
			}
		}
		return false, storeError(err, "post")
	}
	return true, nil
}

// Unlike takes back deviceID's like. It reports false when the device had
// no like marker or the post has no likes left; the count never goes
// below zero.
func (s *Service) Unlike(ctx context.Context, boardID, postID, deviceID string) (bool, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionReact); err != nil {
		return false, err
	}
	if s.likes != nil && deviceID != "" {
		had, err := s.likes.Unmark(ctx, postID, deviceID)
		if err != nil {
			return false, &DomainError{Status: http.StatusServiceUnavailable, Code: CodeNetworkFailure, Message: "Like markers unavailable", Err: err}
		}
		if !had {
			return false, nil
		}
	}
	taken, err := s.decrementLikes(ctx, boardID, postID)
	if err != nil {
		return false, storeError(err, "post")
	}
	return taken, nil
}

// decrementLikes takes one like off a post unless it has none left.
func (s *Service) decrementLikes(ctx context.Context, boardID, postID string) (bool, error) {
	path := s.paths.Post(boardID, postID)
	var taken bool
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		taken = false
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		post, err := decodePost(doc)
		if err != nil {
			return err
		}
		if post.Likes <= 0 {
			return nil
		}
		taken = true
		return tx.Update(path, map[string]any{"likes": post.Likes - 1})
	})
	return taken, err
}

// Liked reports whether deviceID has a like marker on the post.
func (s *Service) Liked(ctx context.Context, boardID, postID, deviceID string) (bool, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionRead); err != nil {
		return false, err
	}
	if s.likes == nil || deviceID == "" {
		return false, nil
	}
	liked, err := s.likes.Liked(ctx, postID, deviceID)
	if err != nil {
		return false, &DomainError{Status: http.StatusServiceUnavailable, Code: CodeNetworkFailure, Message: "Like markers unavailable", Err: err}
	}
	return liked, nil
}

// AddComment appends a comment to a post. Its status follows the same
// moderation rule as posts.
func (s *Service) AddComment(ctx context.Context, boardID, postID, content, guestName string) (board.Comment, error) {
	b, _, err := s.authorize(ctx, boardID, rbac.ActionWrite)
	if err != nil {
		return board.Comment{}, err
	}
	author := s.author(ctx, guestName)
	c := board.Comment{
		ID:        util.NewID("cmt"),
		Author:    author,
		Content:   s.sanitizeContent(content),
		Status:    board.InitialStatus(b, author.UID),
		CreatedAt: s.now(),
	}
	if c.Content == "" {
		return board.Comment{}, invalidInput("comment is empty", map[string]any{"field": "content"})
	}
	err = s.mutateComments(ctx, boardID, postID, func(comments []board.Comment) ([]board.Comment, error) {
		return append(comments, c), nil
	})
	if err != nil {
		return board.Comment{}, err
	}
	s.reindex(ctx, boardID, postID)
	return c, nil
}

// DeleteComment removes a comment. Only its author or the board owner may
// do so.
func (s *Service) DeleteComment(ctx context.Context, boardID, postID, commentID string) error {
	b, u, err := s.authorize(ctx, boardID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	isOwner := u.UID != "" && u.UID == b.OwnerID
	err = s.mutateComments(ctx, boardID, postID, func(comments []board.Comment) ([]board.Comment, error) {
		for i, c := range comments {
			if c.ID != commentID {
				continue
			}
			if !isOwner && (u.UID == "" || c.Author.UID != u.UID) {
				return nil, permissionDenied("Only the comment author or board owner can delete this comment")
			}
			return append(comments[:i], comments[i+1:]...), nil
		}
		return nil, notFound("comment")
	})
	if err != nil {
		return err
	}
	s.reindex(ctx, boardID, postID)
	return nil
}
