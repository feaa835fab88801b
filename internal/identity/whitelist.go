package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
)

var ErrNotWhitelisted = errors.New("account is not on the whitelist")

// Whitelist gates sign-in on configs/global.whitelist. A missing document or
// an empty list lets everyone in.
type Whitelist struct {
	store docstore.Store
	paths docstore.Paths
}

func NewWhitelist(store docstore.Store, paths docstore.Paths) *Whitelist {
	return &Whitelist{store: store, paths: paths}
}

func (w *Whitelist) Allowed(ctx context.Context, email string) (bool, error) {
	doc, err := w.store.Get(ctx, w.paths.GlobalConfig())
	if errors.Is(err, docstore.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load whitelist: %w", err)
	}
	var cfg board.GlobalConfig
	if err := doc.DataTo(&cfg); err != nil {
		return false, err
	}
	if len(cfg.Whitelist) == 0 {
		return true, nil
	}
	for _, allowed := range cfg.Whitelist {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true, nil
		}
	}
	return false, nil
}

// Authenticator turns a bearer token into a whitelisted user.
type Authenticator struct {
	tokens    *TokenVerifier
	whitelist *Whitelist
}

func NewAuthenticator(tokens *TokenVerifier, whitelist *Whitelist) *Authenticator {
	return &Authenticator{tokens: tokens, whitelist: whitelist}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (User, error) {
	u, err := a.tokens.Parse(token)
	if err != nil {
		return User{}, err
	}
	if a.whitelist == nil {
		return u, nil
	}
	ok, err := a.whitelist.Allowed(ctx, u.Email)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrNotWhitelisted
	}
	return u, nil
}
