package board

import "testing"

func TestGroupPostsDropsUnbucketedAndUnloaded(t *testing.T) {
	sections := []Section{{ID: "A", Order: 0}, {ID: "B", Order: 1}}
	posts := []Post{
		{ID: "p1", SectionID: "A", Order: 0},
		{ID: "p2", SectionID: "A", Order: 1},
		{ID: "p3", SectionID: "B", Order: 0},
		{ID: "p4"},
		{ID: "p5", SectionID: "ghost"},
	}

	got := GroupPosts(sections, posts)
	if len(got) != 2 {
		t.Fatalf("expected buckets for A and B only, got %v", got)
	}
	if len(got["A"]) != 2 || got["A"][0].ID != "p1" || got["A"][1].ID != "p2" {
		t.Fatalf("unexpected bucket A: %+v", got["A"])
	}
	if len(got["B"]) != 1 || got["B"][0].ID != "p3" {
		t.Fatalf("unexpected bucket B: %+v", got["B"])
	}
	for id, bucket := range got {
		for _, p := range bucket {
			if p.ID == "p4" || p.ID == "p5" {
				t.Fatalf("post %s must not be bucketed (found in %s)", p.ID, id)
			}
		}
	}
}

func TestGroupPostsSortsPerBucketStably(t *testing.T) {
	sections := []Section{{ID: "A"}, {ID: "B"}}
	posts := []Post{
		{ID: "a2", SectionID: "A", Order: 2},
		{ID: "b0", SectionID: "B", Order: 0},
		{ID: "a0", SectionID: "A", Order: 0},
		{ID: "a0-dup", SectionID: "A", Order: 0},
		{ID: "b5", SectionID: "B", Order: 5},
	}
	got := GroupPosts(sections, posts)

	wantA := []string{"a0", "a0-dup", "a2"}
	for i, id := range wantA {
		if got["A"][i].ID != id {
			t.Fatalf("bucket A position %d: got %s want %s", i, got["A"][i].ID, id)
		}
	}
	if got["B"][0].ID != "b0" || got["B"][1].ID != "b5" {
		t.Fatalf("unexpected bucket B order: %+v", got["B"])
	}
}

func TestSortSectionsIsStableAndCopies(t *testing.T) {
	in := []Section{{ID: "x", Order: 1}, {ID: "y", Order: 0}, {ID: "z", Order: 1}}
	out := SortSections(in)
	if out[0].ID != "y" || out[1].ID != "x" || out[2].ID != "z" {
		t.Fatalf("unexpected order: %+v", out)
	}
	if in[0].ID != "x" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestDerivePostArrivesBeforeSection(t *testing.T) {
	posts := []Post{{ID: "p1", SectionID: "late"}}

	early := Derive(Board{ID: "b"}, nil, posts)
	if early.CountInSection("late") != 0 {
		t.Fatal("post must stay unbucketed until its section loads")
	}
	if _, ok := early.Post("p1"); !ok {
		t.Fatal("loaded post must remain addressable")
	}

	later := Derive(Board{ID: "b"}, []Section{{ID: "late"}}, posts)
	if later.CountInSection("late") != 1 {
		t.Fatal("post must appear once its section loads")
	}
}

func TestInitialStatus(t *testing.T) {
	cases := []struct {
		name   string
		board  Board
		author string
		want   Status
	}{
		{"moderated non-owner", Board{OwnerID: "owner", ModerationEnabled: true}, "guest", StatusPending},
		{"moderated owner", Board{OwnerID: "owner", ModerationEnabled: true}, "owner", StatusApproved},
		{"unmoderated", Board{OwnerID: "owner"}, "guest", StatusApproved},
		{"moderated anonymous", Board{OwnerID: "owner", ModerationEnabled: true}, GuestUID, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InitialStatus(tc.board, tc.author); got != tc.want {
				t.Fatalf("InitialStatus() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestLayoutSectioned(t *testing.T) {
	for layout, want := range map[Layout]bool{
		LayoutShelf: true, LayoutStream: true, LayoutWall: false, LayoutGrid: false,
	} {
		if layout.Sectioned() != want {
			t.Fatalf("%s.Sectioned() = %v", layout, !want)
		}
	}
}
