package export

import (
	"bytes"
	"html/template"
	"sort"
	"strings"
	"time"

	"corkboard/api/internal/board"
)

var boardTemplate = template.Must(template.New("board").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(boardHTML))

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title       string
	Description string
	Layout      string
	ExportedAt  time.Time
	Groups      []TemplateGroup
}

// TemplateGroup is one section, or the posts that belong to no section.
type TemplateGroup struct {
	Title string
	Color string
	Posts []TemplatePost
}

type TemplatePost struct {
	Title       string
	Content     string
	Author      string
	Likes       int
	CreatedAt   time.Time
	Attachments []string
	Poll        *TemplatePoll
	Comments    []TemplateComment
}

type TemplatePoll struct {
	Question   string
	TotalVotes int
	Options    []TemplateOption
}

type TemplateOption struct {
	Text  string
	Votes int
}

type TemplateComment struct {
	Author  string
	Content string
}

// BuildTemplateData groups the visible posts of view by section, in
// section order. Posts outside any loaded section come last.
func BuildTemplateData(view board.View, includePending bool) TemplateData {
	data := TemplateData{
		Title:       view.Board.Title,
		Description: view.Board.Description,
		Layout:      string(view.Board.Layout),
		ExportedAt:  time.Now().UTC(),
	}
	grouped := map[string]bool{}
	for _, s := range view.Sections {
		g := TemplateGroup{Title: s.Title, Color: s.Color}
		for _, p := range view.PostsBySection[s.ID] {
			grouped[p.ID] = true
			if p.Pending() && !includePending {
				continue
			}
			g.Posts = append(g.Posts, templatePost(p, includePending))
		}
		data.Groups = append(data.Groups, g)
	}

	var rest []board.Post
	for _, p := range view.Posts {
		if grouped[p.ID] || (p.Pending() && !includePending) {
			continue
		}
		rest = append(rest, p)
	}
	if len(rest) > 0 {
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].CreatedAt.Before(rest[j].CreatedAt) })
		g := TemplateGroup{Title: "Posts"}
		if len(view.Sections) > 0 {
			g.Title = "Other posts"
		}
		for _, p := range rest {
			g.Posts = append(g.Posts, templatePost(p, includePending))
		}
		data.Groups = append(data.Groups, g)
	}
	return data
}

func templatePost(p board.Post, includePending bool) TemplatePost {
	tp := TemplatePost{
		Title:     p.Title,
		Content:   p.Content,
		Author:    p.Author.DisplayName,
		Likes:     p.Likes,
		CreatedAt: p.CreatedAt,
	}
	for _, a := range p.Attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		tp.Attachments = append(tp.Attachments, name)
	}
	if p.Poll != nil {
		poll := &TemplatePoll{Question: p.Poll.Question, TotalVotes: p.Poll.TotalVotes}
		for _, o := range p.Poll.Options {
			poll.Options = append(poll.Options, TemplateOption{Text: o.Text, Votes: len(o.Voters)})
		}
		tp.Poll = poll
	}
	for _, c := range p.Comments {
		if c.Pending() && !includePending {
			continue
		}
		tp.Comments = append(tp.Comments, TemplateComment{Author: c.Author.DisplayName, Content: c.Content})
	}
	return tp
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boardHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .section { margin-bottom: 2rem; }
    .post { border: 1px solid #ddd; border-radius: 4px; padding: 0.75rem 1rem; margin: 0.75rem 0; page-break-inside: avoid; }
    .post h3 { margin: 0 0 0.25rem 0; }
    .byline { color: #666; font-size: 0.85em; }
    .poll { background: #f5f5f5; padding: 0.5rem 1rem; margin-top: 0.5rem; }
    .comment { border-left: 3px solid #ccc; padding-left: 0.75rem; margin: 0.4rem 0; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">{{.Layout | lower}} board | exported {{formatDate .ExportedAt "Jan 2, 2006 15:04 MST"}}</div>
  {{range .Groups}}
  <div class="section"{{if .Color}} style="border-top: 4px solid {{.Color}}"{{end}}>
    <h2>{{.Title}}</h2>
    {{range .Posts}}
    <div class="post">
      {{if .Title}}<h3>{{.Title}}</h3>{{end}}
      <div class="byline">{{.Author}} | {{formatDate .CreatedAt "Jan 2, 2006"}} | {{.Likes}} likes</div>
      {{if .Content}}<p>{{.Content}}</p>{{end}}
      {{range .Attachments}}<div class="byline">Attachment: {{.}}</div>{{end}}
      {{with .Poll}}
      <div class="poll">
        <strong>{{.Question}}</strong> ({{.TotalVotes}} votes)
        <ul>{{range .Options}}<li>{{.Text}}: {{.Votes}}</li>{{end}}</ul>
      </div>
      {{end}}
      {{range .Comments}}<div class="comment"><strong>{{.Author}}</strong>: {{.Content}}</div>{{end}}
    </div>
    {{end}}
  </div>
  {{end}}
</body>
</html>`
