package search

import (
	"strings"

	"corkboard/api/internal/board"
)

// ScanView searches the posts of an already loaded view. It matches the
// query case-insensitively against title, content and approved comments.
func ScanView(view board.View, q Query) ([]Result, int) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0
	}
	limit := limitOf(q)

	var results []Result
	total := 0
	for _, p := range view.Posts {
		if p.Pending() && !q.IncludePending {
			continue
		}
		hit, ok := matchPost(p, needle)
		if !ok {
			continue
		}
		total++
		if len(results) < limit {
			results = append(results, hit)
		}
	}
	return results, total
}

func matchPost(p board.Post, needle string) (Result, bool) {
	r := Result{PostID: p.ID, BoardID: p.BoardID, SectionID: p.SectionID, Title: p.Title}
	switch {
	case strings.Contains(strings.ToLower(p.Title), needle):
		r.Snippet = snippet(p.Content, 160)
		return r, true
	case strings.Contains(strings.ToLower(p.Content), needle):
		r.Snippet = snippet(p.Content, 160)
		return r, true
	}
	for _, c := range p.Comments {
		if c.Pending() {
			continue
		}
		if strings.Contains(strings.ToLower(c.Content), needle) {
			r.Snippet = snippet(c.Content, 160)
			return r, true
		}
	}
	return Result{}, false
}
