package fsstore

import (
	"cloud.google.com/go/firestore"

	"corkboard/api/internal/docstore"
)

type txn struct {
	store *Store
	tx    *firestore.Transaction
	wrote bool
}

func (t *txn) Get(path string) (docstore.Document, error) {
	if t.wrote {
		return docstore.Document{}, docstore.ErrReadAfterWrite
	}
	ref, err := t.store.doc(path)
	if err != nil {
		return docstore.Document{}, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		return docstore.Document{}, storeErr("get", path, err)
	}
	return toDocument(path, snap)
}

func (t *txn) Set(path string, v any) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	data, err := toFields(v)
	if err != nil {
		return err
	}
	t.wrote = true
	return storeErr("set", path, t.tx.Set(ref, data))
}

func (t *txn) Update(path string, fields map[string]any) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	updates, err := toUpdates(fields)
	if err != nil {
		return err
	}
	t.wrote = true
	return storeErr("update", path, t.tx.Update(ref, updates))
}

func (t *txn) Delete(path string) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	t.wrote = true
	return storeErr("delete", path, t.tx.Delete(ref))
}
