package export

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"corkboard/api/internal/board"
)

var csvHeader = []string{"section", "title", "content", "author", "status", "likes", "votes", "comments", "created_at"}

// renderCSV writes one row per visible post, in section order.
func renderCSV(view board.View, includePending bool) ([]byte, error) {
	titles := make(map[string]string, len(view.Sections))
	for _, s := range view.Sections {
		titles[s.ID] = s.Title
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, p := range orderedPosts(view) {
		if p.Pending() && !includePending {
			continue
		}
		votes := 0
		if p.Poll != nil {
			votes = p.Poll.TotalVotes
		}
		comments := 0
		for _, c := range p.Comments {
			if !c.Pending() || includePending {
				comments++
			}
		}
		row := []string{
			titles[p.SectionID],
			p.Title,
			p.Content,
			p.Author.DisplayName,
			string(p.Status),
			strconv.Itoa(p.Likes),
			strconv.Itoa(votes),
			strconv.Itoa(comments),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// orderedPosts lists bucketed posts in section order, then the rest.
func orderedPosts(view board.View) []board.Post {
	out := make([]board.Post, 0, len(view.Posts))
	seen := map[string]bool{}
	for _, s := range view.Sections {
		for _, p := range view.PostsBySection[s.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	for _, p := range view.Posts {
		if !seen[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
