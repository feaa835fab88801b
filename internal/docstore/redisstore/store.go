// Package redisstore implements docstore.Store on Redis. Each document is a
// JSON string key, each collection keeps a set of member ids, and every write
// publishes on the collection's channel so subscribers can resend a snapshot.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"corkboard/api/internal/docstore"
)

const keyPrefix = "docstore:"

func docKey(path string) string { return keyPrefix + "doc:" + path }
func colKey(collection string) string { return keyPrefix + "col:" + collection }
func chanKey(collection string) string { return keyPrefix + "chg:" + collection }

// Store is the Redis-backed document store.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// Open connects to redisURL and verifies the connection.
func Open(ctx context.Context, redisURL string, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 500 * time.Millisecond

	s := New(redis.NewClient(opts), logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis document store connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return s, nil
}

// New wraps an existing client.
func New(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	client.AddHook(&loggerHook{logger: logger})
	return &Store{client: client, logger: logger}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	_, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	raw, err := s.client.Get(ctx, docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, unavailable("get", path, err)
	}
	return docstore.Document{ID: id, Path: path, Data: raw}, nil
}

func (s *Store) Set(ctx context.Context, path string, v any) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	data, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		queueSet(ctx, p, collection, id, path, data)
		return nil
	})
	return unavailable("set", path, err)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		return tx.Update(path, fields)
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		queueDelete(ctx, p, collection, id, path)
		return nil
	})
	return unavailable("delete", path, err)
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(path)
		if err != nil {
			return err
		}
		data, err := docstore.AddInt(doc.Data, field, delta)
		if err != nil {
			return err
		}
		return tx.(*txn).setRaw(path, data)
	})
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	ids, err := s.client.SMembers(ctx, colKey(q.Collection)).Result()
	if err != nil {
		return nil, unavailable("query", q.Collection, err)
	}
	if len(ids) == 0 {
		return []docstore.Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(q.Collection + "/" + id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("query", q.Collection, err)
	}
	docs := make([]docstore.Document, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a document; removed concurrently.
			continue
		}
		docs = append(docs, docstore.Document{
			ID:   ids[i],
			Path: q.Collection + "/" + ids[i],
			Data: []byte(raw),
		})
	}
	return docstore.FilterDocs(docs, q)
}

// Subscribe listens on the collection channel and re-queries the whole
// collection after every burst of change notifications.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	pubsub := s.client.Subscribe(ctx, chanKey(q.Collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", q.Collection, err)
	}

	out := make(chan docstore.Snapshot, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		if !s.emit(ctx, q, out) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case _, ok := <-msgs:
						if !ok {
							return
						}
					default:
						break drain
					}
				}
				if !s.emit(ctx, q, out) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) emit(ctx context.Context, q docstore.Query, out chan<- docstore.Snapshot) bool {
	docs, err := s.Query(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Warn("snapshot query failed", zap.String("collection", q.Collection), zap.Error(err))
	}
	select {
	case out <- docstore.Snapshot{Docs: docs, Err: err}:
		return true
	case <-ctx.Done():
		return false
	}
}

// RunTransaction watches every key fn reads and commits the buffered writes
// in one MULTI/EXEC. A concurrent change to a watched key aborts the EXEC and
// fn runs again.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.RetryConflicts(ctx, func() error {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &txn{ctx: ctx, rtx: rtx, state: map[string]*docstore.Document{}}
			if err := fn(ctx, t); err != nil {
				return err
			}
			if len(t.writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for _, w := range t.writes {
					w(p)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			return docstore.ErrConflict
		}
		return err
	})
}

func queueSet(ctx context.Context, p redis.Pipeliner, collection, id, path string, data []byte) {
	p.Set(ctx, docKey(path), data, 0)
	p.SAdd(ctx, colKey(collection), id)
	p.Publish(ctx, chanKey(collection), id)
}

func queueDelete(ctx context.Context, p redis.Pipeliner, collection, id, path string) {
	p.Del(ctx, docKey(path))
	p.SRem(ctx, colKey(collection), id)
	p.Publish(ctx, chanKey(collection), id)
}

func unavailable(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrUnavailable, err)
}
