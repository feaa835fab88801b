package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/session"
)

// ApprovePost marks a post approved.
func (s *Service) ApprovePost(ctx context.Context, boardID, postID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionModerate); err != nil {
		return err
	}
	return s.approvePost(ctx, boardID, postID)
}

func (s *Service) approvePost(ctx context.Context, boardID, postID string) error {
	err := s.store.Update(ctx, s.paths.Post(boardID, postID), map[string]any{"status": board.StatusApproved})
	return storeError(err, "post")
}

// ApproveComment marks one embedded comment approved. The comment list is
// rewritten inside a transaction so concurrent comment changes on the same
// post are not lost.
func (s *Service) ApproveComment(ctx context.Context, boardID, postID, commentID string) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionModerate); err != nil {
		return err
	}
	return s.mutateComments(ctx, boardID, postID, func(comments []board.Comment) ([]board.Comment, error) {
		for i := range comments {
			if comments[i].ID == commentID {
				comments[i].Status = board.StatusApproved
				return comments, nil
			}
		}
		return nil, notFound("comment")
	})
}

// BatchApprove approves every pending post in loaded and, independently,
// every pending comment on any loaded post. Items fail on their own; the
// result lists them in a *BatchError.
func (s *Service) BatchApprove(ctx context.Context, boardID string, loaded []board.Post) error {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionModerate); err != nil {
		return err
	}

	var pendingPosts, pendingComments []string
	for _, p := range loaded {
		if p.Pending() {
			pendingPosts = append(pendingPosts, p.ID)
		}
		if p.HasPendingComments() {
			pendingComments = append(pendingComments, p.ID)
		}
	}

	postErr := s.runBatch(ctx, "approve posts", pendingPosts, func(ctx context.Context, _ int, id string) error {
		return s.approvePost(ctx, boardID, id)
	})
	commentErr := s.runBatch(ctx, "approve comments", pendingComments, func(ctx context.Context, _ int, id string) error {
		return s.mutateComments(ctx, boardID, id, func(comments []board.Comment) ([]board.Comment, error) {
			for i := range comments {
				comments[i].Status = board.StatusApproved
			}
			return comments, nil
		})
	})

	s.logger.Info("batch approve",
		zap.String("board_id", boardID),
		zap.Int("posts", len(pendingPosts)),
		zap.Int("posts_with_comments", len(pendingComments)),
	)
	return mergeBatch("batch approve", postErr, commentErr)
}

// BatchApproveBoard runs BatchApprove over a fresh read of the board.
func (s *Service) BatchApproveBoard(ctx context.Context, boardID string) error {
	b, _, err := s.authorize(ctx, boardID, rbac.ActionModerate)
	if err != nil {
		return err
	}
	view, err := s.loadView(ctx, b)
	if err != nil {
		return err
	}
	return s.BatchApprove(ctx, boardID, view.Posts)
}

// ApproveLoaded runs BatchApprove over the posts sess currently holds.
func (s *Service) ApproveLoaded(ctx context.Context, sess *session.Session) error {
	return s.BatchApprove(ctx, sess.Board().ID, sess.Posts())
}

// mergeBatch folds the failures of several batches into one *BatchError.
// Item ids are prefixed with their batch op. An error that is not a
// *BatchError counts as one failed item keyed "<op>#<position>".
func mergeBatch(op string, errs ...error) error {
	merged := &BatchError{Op: op, Failed: map[string]error{}}
	for i, err := range errs {
		if err == nil {
			continue
		}
		var be *BatchError
		if !errors.As(err, &be) {
			merged.Total++
			merged.Failed[fmt.Sprintf("%s#%d", op, i)] = err
			continue
		}
		merged.Total += be.Total
		for id, e := range be.Failed {
			merged.Failed[be.Op+":"+id] = e
		}
	}
	if len(merged.Failed) == 0 {
		return nil
	}
	return merged
}

// mutateComments applies fn to a post's comment list and writes the result
// back in one transaction.
func (s *Service) mutateComments(ctx context.Context, boardID, postID string, fn func([]board.Comment) ([]board.Comment, error)) error {
	path := s.paths.Post(boardID, postID)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		post, err := decodePost(doc)
		if err != nil {
			return err
		}
		comments := append([]board.Comment{}, post.Comments...)
		next, err := fn(comments)
		if err != nil {
			return err
		}
		if next == nil {
			next = []board.Comment{}
		}
		return tx.Update(path, map[string]any{"comments": next})
	})
	return storeError(err, "post")
}
