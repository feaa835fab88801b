package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"corkboard/api/internal/attachments"
	"corkboard/api/internal/authpw"
	"corkboard/api/internal/board"
	"corkboard/api/internal/config"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/export"
	"corkboard/api/internal/identity"
	"corkboard/api/internal/rbac"
	"corkboard/api/internal/search"
	"corkboard/api/internal/session"
)

// likeMarkers records which devices already liked a post. Markers are
// advisory; the counter on the post is authoritative.
type likeMarkers interface {
	Mark(ctx context.Context, postID, deviceID string) (bool, error)
	Unmark(ctx context.Context, postID, deviceID string) (bool, error)
	Liked(ctx context.Context, postID, deviceID string) (bool, error)
	Ping(ctx context.Context) error
}

// Deps are the optional collaborators of a Service.
type Deps struct {
	Identity identity.Provider
	Likes    likeMarkers
	Uploader attachments.Uploader
	Search   *search.Service
	Exporter *export.Service
}

type Service struct {
	cfg        config.Config
	store      docstore.Store
	paths      docstore.Paths
	logger     *zap.Logger
	identity   identity.Provider
	likes      likeMarkers
	uploader   attachments.Uploader
	search     *search.Service
	exporter   *export.Service
	passwords  *authpw.Service
	strict     *bluemonday.Policy
	ugc        *bluemonday.Policy
	batchLimit int
	now        func() time.Time
}

func New(cfg config.Config, store docstore.Store, logger *zap.Logger, deps Deps) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Identity == nil {
		deps.Identity = identity.ContextProvider{}
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, logger)
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewService(logger)
	}
	limit := cfg.BatchConcurrency
	if limit <= 0 {
		limit = 16
	}
	paths := docstore.Paths{Namespace: cfg.StoreNamespace}
	return &Service{
		cfg:        cfg,
		store:      store,
		paths:      paths,
		logger:     logger,
		identity:   deps.Identity,
		likes:      deps.Likes,
		uploader:   deps.Uploader,
		search:     deps.Search,
		exporter:   deps.Exporter,
		passwords:  authpw.NewService(store, paths),
		strict:     bluemonday.StrictPolicy(),
		ugc:        bluemonday.UGCPolicy(),
		batchLimit: limit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Paths() docstore.Paths {
	return s.paths
}

type boardPasswordKey struct{}

// WithBoardPassword attaches the password a guest supplied for a
// password-protected board.
func WithBoardPassword(ctx context.Context, password string) context.Context {
	return context.WithValue(ctx, boardPasswordKey{}, password)
}

func boardPassword(ctx context.Context) string {
	pw, _ := ctx.Value(boardPasswordKey{}).(string)
	return pw
}

func (s *Service) currentUser(ctx context.Context) (identity.User, bool) {
	return s.identity.CurrentUser(ctx)
}

// requireUser returns the signed-in user or an UNAUTHORIZED error.
func (s *Service) requireUser(ctx context.Context) (identity.User, error) {
	u, ok := s.currentUser(ctx)
	if !ok {
		return identity.User{}, domainError(http.StatusUnauthorized, CodeUnauthorized, "Sign in required", nil)
	}
	return u, nil
}

func (s *Service) loadBoard(ctx context.Context, boardID string) (board.Board, error) {
	if strings.TrimSpace(boardID) == "" {
		return board.Board{}, invalidInput("board id is required", nil)
	}
	doc, err := s.store.Get(ctx, s.paths.Board(boardID))
	if err != nil {
		return board.Board{}, storeError(err, "board")
	}
	var b board.Board
	if err := doc.DataTo(&b); err != nil {
		return board.Board{}, err
	}
	b.ID = doc.ID
	return b, nil
}

// authorize loads the board and checks that the current user may perform
// action on it. Non-owners of a password board must also have supplied
// the board password.
func (s *Service) authorize(ctx context.Context, boardID string, action rbac.Action) (board.Board, identity.User, error) {
	b, err := s.loadBoard(ctx, boardID)
	if err != nil {
		return board.Board{}, identity.User{}, err
	}
	u, _ := s.currentUser(ctx)
	role := rbac.ForBoard(b, u.UID)
	if role != rbac.RoleOwner && b.Privacy == board.PrivacyPassword {
		if err := authpw.Check(b, boardPassword(ctx)); err != nil {
			return board.Board{}, identity.User{}, passwordError(err)
		}
	}
	if !rbac.Can(role, action) {
		s.logger.Info("board action denied",
			zap.String("board_id", boardID),
			zap.String("uid", u.UID),
			zap.String("role", string(role)),
			zap.String("action", string(action)),
		)
		return board.Board{}, identity.User{}, permissionDenied(deniedMessage(action))
	}
	return b, u, nil
}

func deniedMessage(action rbac.Action) string {
	switch action {
	case rbac.ActionSettings:
		return "Only the board owner can change board settings"
	case rbac.ActionModerate:
		return "Only the board owner can moderate this board"
	case rbac.ActionWrite:
		return "You have view-only access to this board"
	default:
		return "You do not have access to this board"
	}
}

func passwordError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrPasswordRequired):
		return &DomainError{Status: http.StatusUnauthorized, Code: CodePasswordRequired, Message: "This board is password protected", Err: err}
	case errors.Is(err, authpw.ErrWrongPassword):
		return &DomainError{Status: http.StatusForbidden, Code: CodePermissionDenied, Message: "Wrong board password", Err: err}
	}
	return err
}

// LoadView reads the board, its sections and posts once and derives the
// same view a Board Session would.
func (s *Service) LoadView(ctx context.Context, boardID string) (board.View, error) {
	b, _, err := s.authorize(ctx, boardID, rbac.ActionRead)
	if err != nil {
		return board.View{}, err
	}
	return s.loadView(ctx, b)
}

func (s *Service) loadView(ctx context.Context, b board.Board) (board.View, error) {
	sectionDocs, err := s.store.Query(ctx, docstore.Query{Collection: s.paths.Sections(b.ID)})
	if err != nil {
		return board.View{}, storeError(err, "sections")
	}
	postDocs, err := s.store.Query(ctx, docstore.Query{Collection: s.paths.Posts(b.ID)})
	if err != nil {
		return board.View{}, storeError(err, "posts")
	}
	sections, err := decodeSections(sectionDocs)
	if err != nil {
		return board.View{}, err
	}
	posts, err := decodePosts(postDocs)
	if err != nil {
		return board.View{}, err
	}
	view := board.Derive(b, sections, posts)
	view.SectionsLoaded = true
	view.PostsLoaded = true
	return view, nil
}

// OpenSession authorizes read access and opens a live Board Session. The
// caller owns the session and must Close it.
func (s *Service) OpenSession(ctx context.Context, boardID string) (*session.Session, error) {
	if _, _, err := s.authorize(ctx, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	sess := session.New(s.store, s.paths, s.logger)
	if err := sess.Open(ctx, boardID); err != nil {
		sess.Close()
		return nil, storeError(err, "board")
	}
	return sess, nil
}

// Search finds posts on a board, from the search index when available and
// otherwise from a fresh view.
func (s *Service) Search(ctx context.Context, boardID, text string, limit int) (search.Response, error) {
	b, u, err := s.authorize(ctx, boardID, rbac.ActionRead)
	if err != nil {
		return search.Response{}, err
	}
	view, err := s.loadView(ctx, b)
	if err != nil {
		return search.Response{}, err
	}
	q := search.Query{
		BoardID:        boardID,
		Text:           text,
		Limit:          limit,
		IncludePending: u.UID != "" && u.UID == b.OwnerID,
	}
	return s.search.Search(q, view), nil
}

// Export renders a board. Pending content is included only for the owner.
func (s *Service) Export(ctx context.Context, boardID string, format export.Format) (*export.Result, error) {
	b, u, err := s.authorize(ctx, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	view, err := s.loadView(ctx, b)
	if err != nil {
		return nil, err
	}
	res, err := s.exporter.Export(ctx, view, export.Request{Format: format, IncludePending: u.UID != "" && u.UID == b.OwnerID})
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, invalidInput(err.Error(), map[string]any{"field": "format"})
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, &DomainError{Status: http.StatusServiceUnavailable, Code: "EXPORT_UNAVAILABLE", Message: "PDF export is not available", Err: err}
	case err != nil:
		return nil, err
	}
	return res, nil
}

// ReindexBoard pushes every post of the board to the search index.
func (s *Service) ReindexBoard(ctx context.Context, boardID string) error {
	b, _, err := s.authorize(ctx, boardID, rbac.ActionSettings)
	if err != nil {
		return err
	}
	view, err := s.loadView(ctx, b)
	if err != nil {
		return err
	}
	s.search.Reindex(view)
	return nil
}

// UnlockBoard checks a guest's password for a password-protected board.
func (s *Service) UnlockBoard(ctx context.Context, boardID, password string) error {
	err := s.passwords.CheckBoardPassword(ctx, boardID, password)
	if errors.Is(err, authpw.ErrPasswordRequired) || errors.Is(err, authpw.ErrWrongPassword) {
		return passwordError(err)
	}
	return storeError(err, "board")
}

// Ready reports whether the document store and, when configured, the like
// marker store answer.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.store.Get(ctx, s.paths.GlobalConfig())
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return storeError(err, "config")
	}
	if s.likes != nil {
		if err := s.likes.Ping(ctx); err != nil {
			return &DomainError{Status: http.StatusServiceUnavailable, Code: CodeNetworkFailure, Message: "Like markers unavailable", Err: err}
		}
	}
	return nil
}

func (s *Service) sanitizeText(v string) string {
	return strings.TrimSpace(s.strict.Sanitize(strings.TrimSpace(v)))
}

func (s *Service) sanitizeContent(v string) string {
	return strings.TrimSpace(s.ugc.Sanitize(strings.TrimSpace(v)))
}

func decodeSections(docs []docstore.Document) ([]board.Section, error) {
	out := make([]board.Section, 0, len(docs))
	for _, doc := range docs {
		var sec board.Section
		if err := doc.DataTo(&sec); err != nil {
			return nil, err
		}
		sec.ID = doc.ID
		out = append(out, sec)
	}
	return out, nil
}

func decodePosts(docs []docstore.Document) ([]board.Post, error) {
	out := make([]board.Post, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePost(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePost(doc docstore.Document) (board.Post, error) {
	var p board.Post
	if err := doc.DataTo(&p); err != nil {
		return board.Post{}, fmt.Errorf("decode post: %w", err)
	}
	p.ID = doc.ID
	return p, nil
}
