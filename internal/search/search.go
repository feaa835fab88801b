// Package search finds posts on a board by text.
package search

import (
	"strings"

	"corkboard/api/internal/board"
)

// Result is a single search hit returned to the caller.
type Result struct {
	PostID    string `json:"postId"`
	BoardID   string `json:"boardId"`
	SectionID string `json:"sectionId,omitempty"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	BoardID string
	Text    string
	Limit   int
	// IncludePending also returns posts awaiting moderation. Only board
	// owners should set it.
	IncludePending bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID        string   `json:"id"`
	BoardID   string   `json:"boardId"`
	SectionID string   `json:"sectionId"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Comments  []string `json:"comments"`
	Status    string   `json:"status"`
}

// RecordFromPost flattens a post into its index record.
func RecordFromPost(p board.Post) PostRecord {
	comments := make([]string, 0, len(p.Comments))
	for _, c := range p.Comments {
		if c.Pending() {
			continue
		}
		comments = append(comments, c.Content)
	}
	return PostRecord{
		ID:        p.ID,
		BoardID:   p.BoardID,
		SectionID: p.SectionID,
		Title:     p.Title,
		Content:   p.Content,
		Comments:  comments,
		Status:    string(p.Status),
	}
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "…"
}
