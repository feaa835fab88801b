// Package session keeps one board open at a time: it subscribes to the
// board's sections and posts and rebuilds the derived view on every snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/docstore"
)

var ErrClosed = errors.New("session closed")

// Session owns the live subscriptions of the currently open board. All
// derived state is built by a single loop goroutine; other goroutines only
// see finished board.View values.
type Session struct {
	store  docstore.Store
	paths  docstore.Paths
	logger *zap.Logger

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	version uint64

	view    atomic.Pointer[board.View]
	updates chan board.View
}

func New(store docstore.Store, paths docstore.Paths, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:   store,
		paths:   paths,
		logger:  logger,
		updates: make(chan board.View, 1),
	}
}

// Open reads the board and subscribes to its sections and posts, replacing
// whatever board was open before. The subscriptions live until the next
// Open, Close, or cancellation of ctx.
func (s *Session) Open(ctx context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	doc, err := s.store.Get(ctx, s.paths.Board(boardID))
	if err != nil {
		return fmt.Errorf("open board %s: %w", boardID, err)
	}
	var b board.Board
	if err := doc.DataTo(&b); err != nil {
		return err
	}
	b.ID = doc.ID

	s.detach()

	subCtx, cancel := context.WithCancel(ctx)
	sections, err := s.store.Subscribe(subCtx, docstore.Query{Collection: s.paths.Sections(boardID)})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe sections: %w", err)
	}
	posts, err := s.store.Subscribe(subCtx, docstore.Query{Collection: s.paths.Posts(boardID)})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe posts: %w", err)
	}

	initial := board.Derive(b, nil, nil)
	s.view.Store(&initial)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(b, sections, posts, s.done)

	s.logger.Info("board session opened", zap.String("board_id", boardID))
	return nil
}

// Close detaches the subscriptions and closes Updates. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.detach()
	close(s.updates)
}

// detach stops the current loop and waits for it. Callers hold mu.
func (s *Session) detach() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.view.Store(nil)
	select {
	case <-s.updates:
	default:
	}
}

// Updates delivers each rebuilt view. A slow reader only misses
// intermediate views; the latest one is always kept.
func (s *Session) Updates() <-chan board.View {
	return s.updates
}

// View returns the most recent view of the open board.
func (s *Session) View() (board.View, bool) {
	v := s.view.Load()
	if v == nil {
		return board.View{}, false
	}
	return *v, true
}

// Posts returns the currently loaded posts of the open board.
func (s *Session) Posts() []board.Post {
	v, _ := s.View()
	return v.Posts
}

// Board returns the board document read when it was opened.
func (s *Session) Board() board.Board {
	v, _ := s.View()
	return v.Board
}

func (s *Session) run(b board.Board, sectionsCh, postsCh <-chan docstore.Snapshot, done chan struct{}) {
	defer close(done)

	var (
		sections       []board.Section
		posts          []board.Post
		sectionsLoaded bool
		postsLoaded    bool
	)
	log := s.logger.With(zap.String("board_id", b.ID))

	for sectionsCh != nil || postsCh != nil {
		select {
		case snap, ok := <-sectionsCh:
			if !ok {
				sectionsCh = nil
				continue
			}
			if snap.Err != nil {
				log.Warn("section snapshot failed", zap.Error(snap.Err))
				continue
			}
			sections = decodeAll[board.Section](log, snap.Docs, func(sec *board.Section, id string) { sec.ID = id })
			sectionsLoaded = true
		case snap, ok := <-postsCh:
			if !ok {
				postsCh = nil
				continue
			}
			if snap.Err != nil {
				log.Warn("post snapshot failed", zap.Error(snap.Err))
				continue
			}
			posts = decodeAll[board.Post](log, snap.Docs, func(p *board.Post, id string) { p.ID = id })
			postsLoaded = true
		}

		s.version++
		view := board.Derive(b, sections, posts)
		view.SectionsLoaded = sectionsLoaded
		view.PostsLoaded = postsLoaded
		view.Version = s.version
		s.publish(view)
	}
}

func (s *Session) publish(view board.View) {
	s.view.Store(&view)
	select {
	case s.updates <- view:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- view:
	default:
	}
}

func decodeAll[T any](log *zap.Logger, docs []docstore.Document, setID func(*T, string)) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.DataTo(&v); err != nil {
			log.Warn("skipping undecodable document", zap.String("path", doc.Path), zap.Error(err))
			continue
		}
		setID(&v, doc.ID)
		out = append(out, v)
	}
	return out
}
