// Package identity resolves who is acting. Sign-in itself happens at an
// external provider; this package verifies the bearer tokens it issues and
// applies the e-mail whitelist.
package identity

import (
	"context"

	"corkboard/api/internal/board"
)

type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Author snapshots the user for embedding in posts and comments.
func (u User) Author() board.Author {
	return board.Author{UID: u.UID, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL}
}

// Provider reports the signed-in user for a request, if any.
type Provider interface {
	CurrentUser(ctx context.Context) (User, bool)
}

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok && u.UID != ""
}

// ContextProvider reads the user placed in the context by the gateway.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (User, bool) {
	return FromContext(ctx)
}
