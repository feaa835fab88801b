package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"corkboard/api/internal/board"
)

func exportView() board.View {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sections := []board.Section{
		{ID: "s2", Title: "Later", Order: 1},
		{ID: "s1", Title: "First", Order: 0, Color: "#ffcc00"},
	}
	posts := []board.Post{
		{ID: "p1", SectionID: "s1", Title: "Hello <world>", Content: "body", Status: board.StatusApproved, Order: 1, CreatedAt: created,
			Author: board.Author{DisplayName: "Avery"}, Likes: 3,
			Poll: &board.Poll{Question: "Lunch?", TotalVotes: 2, Options: []board.PollOption{
				{ID: "o1", Text: "Yes", Voters: []string{"a", "b"}}, {ID: "o2", Text: "No"},
			}},
			Comments: []board.Comment{
				{ID: "c1", Content: "visible", Status: board.StatusApproved, Author: board.Author{DisplayName: "Sam"}},
				{ID: "c2", Content: "hidden comment", Status: board.StatusPending},
			}},
		{ID: "p2", SectionID: "s1", Title: "Zero", Status: board.StatusApproved, Order: 0, CreatedAt: created},
		{ID: "p3", SectionID: "s2", Title: "Pending one", Status: board.StatusPending, CreatedAt: created},
		{ID: "p4", Title: "Loose", Status: board.StatusApproved, CreatedAt: created},
	}
	return board.Derive(board.Board{ID: "b1", Title: "Team Retro", Layout: board.LayoutShelf}, sections, posts)
}

func TestBuildTemplateDataGroupsInSectionOrder(t *testing.T) {
	data := BuildTemplateData(exportView(), false)
	if len(data.Groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(data.Groups))
	}
	if data.Groups[0].Title != "First" || data.Groups[1].Title != "Later" || data.Groups[2].Title != "Other posts" {
		t.Fatalf("unexpected group order %+v", data.Groups)
	}
	first := data.Groups[0].Posts
	if len(first) != 2 || first[0].Title != "Zero" || first[1].Title != "Hello <world>" {
		t.Fatalf("unexpected posts in first group %+v", first)
	}
	if len(data.Groups[1].Posts) != 0 {
		t.Fatal("pending post must be hidden")
	}
	if len(first[1].Comments) != 1 || first[1].Poll.Options[0].Votes != 2 {
		t.Fatalf("unexpected post detail %+v", first[1])
	}

	withPending := BuildTemplateData(exportView(), true)
	if len(withPending.Groups[1].Posts) != 1 {
		t.Fatal("pending post must be included on request")
	}
}

func TestRenderBoardHTMLEscapesContent(t *testing.T) {
	html, err := RenderBoardHTML(BuildTemplateData(exportView(), false))
	if err != nil {
		t.Fatalf("RenderBoardHTML() error = %v", err)
	}
	for _, want := range []string{"Team Retro", "First", "Lunch?", "Avery", "visible", "Hello &lt;world&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "hidden comment") {
		t.Error("pending comment leaked into export")
	}
}

func TestExportCSV(t *testing.T) {
	res, err := NewService(nil).Export(context.Background(), exportView(), Request{Format: FormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "Team-Retro.csv" || res.MimeType != "text/csv" {
		t.Fatalf("unexpected result %+v", res)
	}
	rows, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[1][1] != "Zero" || rows[2][1] != "Hello <world>" || rows[3][1] != "Loose" {
		t.Fatalf("unexpected row order %v", rows)
	}
	if rows[2][6] != "2" || rows[2][7] != "1" {
		t.Fatalf("unexpected tallies %v", rows[2])
	}
}

func TestExportHTMLAndUnknownFormat(t *testing.T) {
	svc := NewService(nil)
	res, err := svc.Export(context.Background(), exportView(), Request{Format: FormatHTML})
	if err != nil || !strings.HasSuffix(res.Filename, ".html") {
		t.Fatalf("unexpected html export %+v %v", res, err)
	}
	if _, err := svc.Export(context.Background(), exportView(), Request{Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Board v1.2", "Board-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "board"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
