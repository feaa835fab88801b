// Package fsstore implements docstore.Store on Cloud Firestore, whose
// listeners, transactions and field transforms map onto the interface
// directly.
package fsstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"corkboard/api/internal/docstore"
)

type Store struct {
	client *firestore.Client
	logger *zap.Logger
}

// Open creates a client for projectID. When credentialsFile is empty the
// default credential chain (or FIRESTORE_EMULATOR_HOST) is used.
func Open(ctx context.Context, projectID, credentialsFile string, logger *zap.Logger) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to firestore: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("firestore document store connected", zap.String("project", projectID))
	return &Store{client: client, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if _, _, err := docstore.Split(path); err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid document path %q", path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	ref, err := s.doc(path)
	if err != nil {
		return docstore.Document{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return docstore.Document{}, storeErr("get", path, err)
	}
	return toDocument(path, snap)
}

func (s *Store) Set(ctx context.Context, path string, v any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	data, err := toFields(v)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, data)
	return storeErr("set", path, err)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	updates, err := toUpdates(fields)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates)
	return storeErr("update", path, err)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return storeErr("delete", path, err)
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{{FieldPath: firestore.FieldPath{field}, Value: firestore.Increment(delta)}})
	return storeErr("increment", path, err)
}

func (s *Store) query(q docstore.Query) (firestore.Query, error) {
	col := s.client.Collection(q.Collection)
	if col == nil {
		return firestore.Query{}, fmt.Errorf("invalid collection path %q", q.Collection)
	}
	query := col.Query
	for _, f := range q.Filters {
		query = query.WherePath(firestore.FieldPath{f.Field}, "==", f.Value)
	}
	return query, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, err := s.query(q)
	if err != nil {
		return nil, err
	}
	it := query.Documents(ctx)
	defer it.Stop()
	return collect(q, it)
}

type docIterator interface {
	Next() (*firestore.DocumentSnapshot, error)
}

func collect(q docstore.Query, it docIterator) ([]docstore.Document, error) {
	docs := []docstore.Document{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeErr("query", q.Collection, err)
		}
		doc, err := toDocument(q.Collection+"/"+snap.Ref.ID, snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docstore.FilterDocs(docs, docstore.Query{Collection: q.Collection})
}

// Subscribe forwards Firestore query snapshots. Each QuerySnapshot already
// carries the full result set.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	query, err := s.query(q)
	if err != nil {
		return nil, err
	}
	snaps := query.Snapshots(ctx)

	out := make(chan docstore.Snapshot, 1)
	go func() {
		defer close(out)
		defer snaps.Stop()
		for {
			qs, err := snaps.Next()
			if ctx.Err() != nil {
				return
			}
			var snap docstore.Snapshot
			if err != nil {
				snap.Err = storeErr("listen", q.Collection, err)
				s.logger.Error("snapshot listener stopped", zap.String("collection", q.Collection), zap.Error(err))
			} else {
				snap.Docs, snap.Err = collect(q, qs.Documents)
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &txn{store: s, tx: ftx})
	})
	if err == nil || errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrReadAfterWrite) {
		return err
	}
	return storeErr("transaction", "", err)
}

func storeErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s %s: %w", op, path, docstore.ErrNotFound)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrUnavailable, err)
	case codes.Canceled:
		return context.Canceled
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
