// Package pgstore implements docstore.Store on a single Postgres table of
// JSONB documents. Transactions are optimistic: reads record each row's
// version and the commit only succeeds if none of them moved.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"corkboard/api/internal/docstore"
)

const notifyChannel = "docstore_changes"

type Store struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger
}

// Open connects, applies pending migrations and returns a ready store.
func Open(ctx context.Context, databaseURL, migrationsDir string, logger *zap.Logger) (*Store, error) {
	db, err := OpenDB(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, databaseURL, logger), nil
}

// New wraps an open pool. dsn is used for the dedicated LISTEN connections
// that back subscriptions.
func New(db *sql.DB, dsn string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, dsn: dsn, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	doc, _, err := getVersioned(ctx, s.db, path)
	return doc, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getVersioned(ctx context.Context, q querier, path string) (docstore.Document, int64, error) {
	_, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, 0, err
	}
	var (
		data    []byte
		version int64
	)
	err = q.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path=$1`, path).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, 0, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, 0, storeErr("get", path, err)
	}
	return docstore.Document{ID: id, Path: path, Data: data}, version, nil
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, collection, doc_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE
		SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()
	`, path, collection, id, data)
	return storeErr("set", path, err)
}

// Update merges fields with the jsonb concatenation operator, which replaces
// top-level keys in a single statement.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if _, _, err := docstore.Split(path); err != nil {
		return err
	}
	patch, err := docstore.Encode(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = data || $2::jsonb, version = version + 1, updated_at = NOW()
		WHERE path = $1
	`, path, patch)
	return affectedOne("update", path, res, err)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if _, _, err := docstore.Split(path); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path=$1`, path)
	return storeErr("delete", path, err)
}

func (s *Store) Increment(ctx context.Context, path, field string, delta int64) error {
	if _, _, err := docstore.Split(path); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$2::text], to_jsonb(COALESCE((data->>$2)::numeric, 0)::bigint + $3::bigint)),
		    version = version + 1,
		    updated_at = NOW()
		WHERE path = $1
	`, path, field, delta)
	return affectedOne("increment", path, res, err)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString(`SELECT doc_id, path, data FROM documents WHERE collection=$1`)
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&sb, ` AND data->>$%d = $%d`, len(args)-1, len(args))
	}
	sb.WriteString(` ORDER BY doc_id`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, storeErr("query", q.Collection, err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var doc docstore.Document
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Data); err != nil {
			return nil, storeErr("query", q.Collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query", q.Collection, err)
	}
	return docs, nil
}

// Subscribe opens a dedicated connection that LISTENs for change
// notifications and re-queries the collection whenever one names it.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, storeErr("listen", q.Collection, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, storeErr("listen", q.Collection, err)
	}

	out := make(chan docstore.Snapshot, 1)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())

		if !s.emit(ctx, q, out) {
			return
		}
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("change listener stopped", zap.String("collection", q.Collection), zap.Error(err))
					select {
					case out <- docstore.Snapshot{Err: storeErr("listen", q.Collection, err)}:
					case <-ctx.Done():
					}
				}
				return
			}
			if n.Payload != q.Collection {
				continue
			}
			if !s.emit(ctx, q, out) {
				return
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

func affectedOne(op, path string, res sql.Result, err error) error {
	if err != nil {
		return storeErr(op, path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, path, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, path, docstore.ErrNotFound)
	}
	return nil
}

func storeErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s %s: %w", op, path, docstore.ErrConflict)
		case "42501":
			return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%s %s: %w: %w", op, path, docstore.ErrUnavailable, err)
}
