package fsstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"corkboard/api/internal/docstore"
)

func TestToFieldsKeepsIntegers(t *testing.T) {
	fields, err := toFields(map[string]any{
		"likes": 3,
		"ratio": 0.5,
		"poll":  map[string]any{"options": []any{map[string]any{"votes": 2}}},
	})
	if err != nil {
		t.Fatalf("toFields() error = %v", err)
	}
	if _, ok := fields["likes"].(int64); !ok {
		t.Fatalf("expected int64 likes, got %T", fields["likes"])
	}
	if _, ok := fields["ratio"].(float64); !ok {
		t.Fatalf("expected float64 ratio, got %T", fields["ratio"])
	}
	opt := fields["poll"].(map[string]any)["options"].([]any)[0].(map[string]any)
	if _, ok := opt["votes"].(int64); !ok {
		t.Fatalf("expected nested int64 votes, got %T", opt["votes"])
	}
}

func TestStoreErrMapsStatusCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, docstore.ErrNotFound},
		{codes.PermissionDenied, docstore.ErrPermissionDenied},
		{codes.Unavailable, docstore.ErrUnavailable},
	}
	for _, tc := range cases {
		err := storeErr("get", "boards/b1", status.Error(tc.code, "x"))
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}
	if storeErr("get", "boards/b1", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
}

func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping firestore emulator test in short mode")
	}
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST is not set")
	}
	s, err := Open(context.Background(), "corkboard-test", "", zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmulatorRoundTrip(t *testing.T) {
	s := newEmulatorStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	board := "b" + time.Now().Format("150405.000000")
	path := "boards/" + board + "/posts/p1"
	if err := s.Set(ctx, path, map[string]any{"likes": 0, "sectionId": "s1"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Increment(ctx, path, "likes", 2); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if err := s.Update(ctx, "boards/"+board+"/posts/missing", map[string]any{"a": 1}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	docs, err := s.Query(ctx, docstore.Query{Collection: "boards/" + board + "/posts"}.Where("sectionId", "s1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	var got struct {
		Likes int64 `json:"likes"`
	}
	if len(docs) != 1 || docs[0].DataTo(&got) != nil || got.Likes != 2 {
		t.Fatalf("unexpected query result %+v", docs)
	}
}
