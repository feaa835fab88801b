// Package authpw protects password-privacy boards.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
)

const minPasswordLength = 4

var (
	ErrPasswordRequired = errors.New("board password is required")
	ErrPasswordTooShort = fmt.Errorf("board password must be at least %d characters", minPasswordLength)
	ErrWrongPassword    = errors.New("wrong board password")
)

// Hash returns the bcrypt hash stored on the board document.
func Hash(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Service checks passwords against the stored board documents
type Service struct {
	store docstore.Store
	paths docstore.Paths
}

// NewService creates a new board password service
func NewService(store docstore.Store, paths docstore.Paths) *Service {
	return &Service{store: store, paths: paths}
}

// CheckBoardPassword verifies password for boards with privacy=password.
// Other boards always pass.
func (s *Service) CheckBoardPassword(ctx context.Context, boardID, password string) error {
	doc, err := s.store.Get(ctx, s.paths.Board(boardID))
	if err != nil {
		return err
	}
	var b board.Board
	if err := doc.DataTo(&b); err != nil {
		return err
	}
	return Check(b, password)
}

// Check verifies password against an already loaded board.
func Check(b board.Board, password string) error {
	if b.Privacy != board.PrivacyPassword {
		return nil
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if b.Password == "" {
		// Password board without a stored hash: nothing can match.
		return ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(b.Password), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}
