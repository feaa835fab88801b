package board

import "sort"

// View is the derived, presentation-ready state of one open board. It is
// rebuilt from scratch on every snapshot and never mutated afterwards.
// Posts holds every loaded post, bucketed or not, in snapshot order.
type View struct {
	Board          Board             `json:"board"`
	Sections       []Section         `json:"sections"`
	PostsBySection map[string][]Post `json:"postsBySection"`
	Posts          []Post            `json:"posts"`
	SectionsLoaded bool              `json:"sectionsLoaded"`
	PostsLoaded    bool              `json:"postsLoaded"`
	Version        uint64            `json:"version"`
}

// SortSections returns a copy of sections stably sorted by order.
func SortSections(sections []Section) []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// GroupPosts buckets posts by section id in one pass. Every loaded section
// gets a bucket; posts without a section, or whose section is not loaded,
// land in none. Each bucket is then stably sorted by order.
func GroupPosts(sections []Section, posts []Post) map[string][]Post {
	buckets := make(map[string][]Post, len(sections))
	for _, s := range sections {
		buckets[s.ID] = []Post{}
	}
	for _, p := range posts {
		if p.SectionID == "" {
			continue
		}
		bucket, ok := buckets[p.SectionID]
		if !ok {
			continue
		}
		buckets[p.SectionID] = append(bucket, p)
	}
	for id, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Order < bucket[j].Order })
		buckets[id] = bucket
	}
	return buckets
}

// Derive rebuilds every derived field of a view.
func Derive(b Board, sections []Section, posts []Post) View {
	sorted := SortSections(sections)
	all := make([]Post, len(posts))
	copy(all, posts)
	return View{
		Board:          b,
		Sections:       sorted,
		PostsBySection: GroupPosts(sorted, all),
		Posts:          all,
	}
}

// CountInSection is the number of posts currently grouped under sectionID.
// It is used as the order of a newly created post.
func (v View) CountInSection(sectionID string) int {
	return len(v.PostsBySection[sectionID])
}

func (v View) Post(id string) (Post, bool) {
	for _, p := range v.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return Post{}, false
}

func (v View) Section(id string) (Section, bool) {
	for _, s := range v.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}
