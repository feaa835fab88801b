package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"corkboard/api/internal/docstore"
)

type pending struct {
	doc     *docstore.Document
	version int64
	read    bool
}

type txn struct {
	ctx   context.Context
	db    *sql.DB
	state map[string]*pending
	dirty []string
}

// RunTransaction runs fn against versioned reads and then writes the final
// state of every touched document, guarded by the versions that were read.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.RetryConflicts(ctx, func() error {
		t := &txn{ctx: ctx, db: s.db, state: map[string]*pending{}}
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.commit()
	})
}

func (t *txn) Get(path string) (docstore.Document, error) {
	if len(t.dirty) > 0 {
		return docstore.Document{}, docstore.ErrReadAfterWrite
	}
	return t.read(path)
}

func (t *txn) read(path string) (docstore.Document, error) {
	if p, ok := t.state[path]; ok {
		if p.doc == nil {
			return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
		}
		return *p.doc, nil
	}
	doc, version, err := getVersioned(t.ctx, t.db, path)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return docstore.Document{}, err
	}
	p := &pending{read: true, version: version}
	if err == nil {
		p.doc = &doc
	}
	t.state[path] = p
	return doc, err
}

func (t *txn) Set(path string, v any) error {
	data, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	return t.write(path, data)
}

func (t *txn) write(path string, data []byte) error {
	_, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	t.touch(path).doc = &docstore.Document{ID: id, Path: path, Data: data}
	return nil
}

func (t *txn) Update(path string, fields map[string]any) error {
	doc, err := t.read(path)
	if err != nil {
		return err
	}
	data, err := docstore.Merge(doc.Data, fields)
	if err != nil {
		return err
	}
	return t.write(path, data)
}

func (t *txn) Delete(path string) error {
	if _, _, err := docstore.Split(path); err != nil {
		return err
	}
	t.touch(path).doc = nil
	return nil
}

func (t *txn) touch(path string) *pending {
	p, ok := t.state[path]
	if !ok {
		p = &pending{}
		t.state[path] = p
	}
	for _, d := range t.dirty {
		if d == path {
			return p
		}
	}
	t.dirty = append(t.dirty, path)
	return p
}

func (t *txn) commit() error {
	if len(t.dirty) == 0 {
		return nil
	}
	sqlTx, err := t.db.BeginTx(t.ctx, nil)
	if err != nil {
		return storeErr("begin", "", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for _, path := range t.dirty {
		if err := t.apply(sqlTx, path, t.state[path]); err != nil {
			return err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit", "", err)
	}
	return nil
}

func (t *txn) apply(sqlTx *sql.Tx, path string, p *pending) error {
	collection, id, _ := docstore.Split(path)
	var (
		res sql.Result
		err error
	)
	switch {
	case !p.read && p.doc != nil:
		_, err = sqlTx.ExecContext(t.ctx, `
			INSERT INTO documents (path, collection, doc_id, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (path) DO UPDATE
			SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()
		`, path, collection, id, p.doc.Data)
		return storeErr("set", path, err)
	case !p.read:
		_, err = sqlTx.ExecContext(t.ctx, `DELETE FROM documents WHERE path=$1`, path)
		return storeErr("delete", path, err)
	case p.version == 0 && p.doc != nil:
		res, err = sqlTx.ExecContext(t.ctx, `
			INSERT INTO documents (path, collection, doc_id, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (path) DO NOTHING
		`, path, collection, id, p.doc.Data)
	case p.version == 0:
		// Read as missing and deleted: nothing to write.
		return nil
	case p.doc != nil:
		res, err = sqlTx.ExecContext(t.ctx, `
			UPDATE documents SET data = $2, version = version + 1, updated_at = NOW()
			WHERE path = $1 AND version = $3
		`, path, p.doc.Data, p.version)
	default:
		res, err = sqlTx.ExecContext(t.ctx, `DELETE FROM documents WHERE path=$1 AND version=$2`, path, p.version)
	}
	if err != nil {
		return storeErr("write", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("write", path, err)
	}
	if n == 0 {
		return fmt.Errorf("write %s: %w", path, docstore.ErrConflict)
	}
	return nil
}
