package app

import (
	"context"
	"strings"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/rbac"
)

// Vote toggles voterID on optionID inside one store transaction and
// returns the committed poll. Conflicting votes on the same post are
// retried by the store until this one commits.
func (s *Service) Vote(ctx context.Context, boardID, postID, optionID, voterID string) (board.Poll, error) {
	if strings.TrimSpace(voterID) == "" {
		return board.Poll{}, invalidInput("voter id is required", nil)
	}
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionReact); err != nil {
		return board.Poll{}, err
	}

	path := s.paths.Post(boardID, postID)
	var result board.Poll
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		post, err := decodePost(doc)
		if err != nil {
			return err
		}
		if post.Poll == nil {
			return notFound("poll")
		}
		next, err := applyVote(*post.Poll, optionID, voterID)
		if err != nil {
			return err
		}
		result = next
		return tx.Update(path, map[string]any{"poll": next})
	})
	if err != nil {
		return board.Poll{}, storeError(err, "post")
	}
	return result, nil
}

// applyVote returns the poll after voterID toggles optionID. Single-choice
// polls move the voter out of any other option first. totalVotes is always
// recounted from the voter sets.
func applyVote(poll board.Poll, optionID, voterID string) (board.Poll, error) {
	target := -1
	for i, o := range poll.Options {
		if o.ID == optionID {
			target = i
			break
		}
	}
	if target < 0 {
		return poll, notFound("poll option")
	}

	options := make([]board.PollOption, len(poll.Options))
	for i, o := range poll.Options {
		o.Voters = append([]string{}, o.Voters...)
		options[i] = o
	}

	if options[target].HasVoter(voterID) {
		options[target].Voters = without(options[target].Voters, voterID)
	} else {
		if !poll.AllowMultiple {
			for i := range options {
				options[i].Voters = without(options[i].Voters, voterID)
			}
		}
		options[target].Voters = append(options[target].Voters, voterID)
	}

	total := 0
	for _, o := range options {
		total += len(o.Voters)
	}
	poll.Options = options
	poll.TotalVotes = total
	return poll, nil
}

// without removes every occurrence of id.
func without(voters []string, id string) []string {
	out := voters[:0]
	for _, v := range voters {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
