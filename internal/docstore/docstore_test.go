package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPathsNamespace(t *testing.T) {
	plain := Paths{}
	if got := plain.Post("b1", "p1"); got != "boards/b1/posts/p1" {
		t.Fatalf("unexpected post path %q", got)
	}
	staged := Paths{Namespace: "staging"}
	if got := staged.Section("b1", "s1"); got != "staging_boards/b1/sections/s1" {
		t.Fatalf("unexpected namespaced path %q", got)
	}
	if got := staged.GlobalConfig(); got != "staging_configs/global" {
		t.Fatalf("unexpected config path %q", got)
	}
}

func TestSplit(t *testing.T) {
	col, id, err := Split("boards/b1/posts/p1")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if col != "boards/b1/posts" || id != "p1" {
		t.Fatalf("unexpected split %q %q", col, id)
	}
	for _, bad := range []string{"boards", "boards/b1/posts", "boards//x", ""} {
		if _, _, err := Split(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestMergeAndAddInt(t *testing.T) {
	data, err := Merge([]byte(`{"a":"x","likes":2}`), map[string]any{"a": "y", "b": true})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	data, err = AddInt(data, "likes", 3)
	if err != nil {
		t.Fatalf("AddInt() error = %v", err)
	}
	var got struct {
		A     string `json:"a"`
		B     bool   `json:"b"`
		Likes int64  `json:"likes"`
	}
	if err := (Document{Data: data}).DataTo(&got); err != nil {
		t.Fatalf("DataTo() error = %v", err)
	}
	if got.A != "y" || !got.B || got.Likes != 5 {
		t.Fatalf("unexpected merged document %+v", got)
	}

	data, err = AddInt([]byte(`{}`), "likes", -1)
	if err != nil {
		t.Fatalf("AddInt() error = %v", err)
	}
	if string(data) != `{"likes":-1}` {
		t.Fatalf("unexpected document %s", data)
	}
}

func TestEncodeRejectsNonObject(t *testing.T) {
	if _, err := Encode([]string{"a"}); err == nil {
		t.Fatal("expected error for array value")
	}
}

func TestFilterDocs(t *testing.T) {
	docs := []Document{
		{ID: "c", Data: []byte(`{"ownerId":"u1"}`)},
		{ID: "a", Data: []byte(`{"ownerId":"u1"}`)},
		{ID: "b", Data: []byte(`{"ownerId":"u2"}`)},
		{ID: "d", Data: []byte(`{}`)},
	}
	out, err := FilterDocs(docs, Query{Collection: "boards"}.Where("ownerId", "u1"))
	if err != nil {
		t.Fatalf("FilterDocs() error = %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "c" {
		t.Fatalf("unexpected filter result %+v", out)
	}
}

func TestRetryConflicts(t *testing.T) {
	calls := 0
	err := RetryConflicts(context.Background(), func() error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got %v after %d", err, calls)
	}

	boom := errors.New("boom")
	calls = 0
	err = RetryConflicts(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected immediate failure, got %v after %d", err, calls)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = RetryConflicts(ctx, func() error { return ErrConflict })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
