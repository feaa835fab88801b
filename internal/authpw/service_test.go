package authpw

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/docstore/redisstore"
)

func TestHashValidatesInput(t *testing.T) {
	if _, err := Hash(""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := Hash("abc"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	hash, err := Hash("hunter22")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("password must not be stored in clear text")
	}
}

func TestCheck(t *testing.T) {
	hash, _ := Hash("hunter22")
	locked := board.Board{Privacy: board.PrivacyPassword, Password: hash}

	cases := []struct {
		name     string
		board    board.Board
		password string
		want     error
	}{
		{name: "public board", board: board.Board{Privacy: board.PrivacyPublic}, password: "", want: nil},
		{name: "correct", board: locked, password: "hunter22", want: nil},
		{name: "wrong", board: locked, password: "hunter23", want: ErrWrongPassword},
		{name: "missing", board: locked, password: "", want: ErrPasswordRequired},
		{name: "no stored hash", board: board.Board{Privacy: board.PrivacyPassword}, password: "x", want: ErrWrongPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Check(tc.board, tc.password); !errors.Is(err, tc.want) {
				t.Fatalf("Check() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCheckBoardPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	defer store.Close()
	paths := docstore.Paths{}
	ctx := context.Background()

	hash, _ := Hash("letmein")
	_ = store.Set(ctx, paths.Board("b1"), board.Board{Privacy: board.PrivacyPassword, Password: hash})

	svc := NewService(store, paths)
	if err := svc.CheckBoardPassword(ctx, "b1", "letmein"); err != nil {
		t.Fatalf("CheckBoardPassword() error = %v", err)
	}
	if err := svc.CheckBoardPassword(ctx, "b1", "nope"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := svc.CheckBoardPassword(ctx, "missing", "x"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
