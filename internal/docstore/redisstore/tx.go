package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"corkboard/api/internal/docstore"
)

type txn struct {
	ctx    context.Context
	rtx    *redis.Tx
	writes []func(redis.Pipeliner)
	// state tracks what this transaction has seen or written per path;
	// a nil entry means the document does not exist.
	state map[string]*docstore.Document
}

func (t *txn) Get(path string) (docstore.Document, error) {
	if len(t.writes) > 0 {
		return docstore.Document{}, docstore.ErrReadAfterWrite
	}
	return t.read(path)
}

func (t *txn) read(path string) (docstore.Document, error) {
	_, id, err := docstore.Split(path)
	if err != nil {
		return docstore.Document{}, err
	}
	if doc, ok := t.state[path]; ok {
		if doc == nil {
			return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
		}
		return *doc, nil
	}

	key := docKey(path)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return docstore.Document{}, unavailable("watch", path, err)
	}
	raw, err := t.rtx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		t.state[path] = nil
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, unavailable("get", path, err)
	}
	doc := docstore.Document{ID: id, Path: path, Data: raw}
	t.state[path] = &doc
	return doc, nil
}

func (t *txn) Set(path string, v any) error {
	data, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	return t.setRaw(path, data)
}

func (t *txn) setRaw(path string, data []byte) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	t.state[path] = &docstore.Document{ID: id, Path: path, Data: data}
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		queueSet(t.ctx, p, collection, id, path, data)
	})
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
	return t.setRaw(path, data)
}

func (t *txn) Delete(path string) error {
	collection, id, err := docstore.Split(path)
	if err != nil {
		return err
	}
	t.state[path] = nil
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		queueDelete(t.ctx, p, collection, id, path)
	})
	return nil
}
