// Package docstore defines the document store the board engine synchronizes
// against: per-document CRUD, full-collection snapshot subscriptions and
// single-document atomic transactions with conflict retry.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound reports that a referenced document does not exist (or
	// vanished between read and action).
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied reports a store-level authorization rejection.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable reports a network or backend failure.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict reports a write conflict detected at commit time. Adapters
	// retry on it internally; RunTransaction never returns it.
	ErrConflict = errors.New("transaction conflict")
	// ErrReadAfterWrite is returned when a transaction reads after writing.
	ErrReadAfterWrite = errors.New("transaction reads must precede writes")
)

// Document is one stored JSON object.
type Document struct {
	ID   string
	Path string
	Data []byte
}

// DataTo decodes the document into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

// Fields decodes the document into a generic field map.
func (d Document) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if len(d.Data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return fields, nil
}

// Filter is an equality match on a top-level string field.
type Filter struct {
	Field string
	Value string
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field, value string) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	filters = append(filters, Filter{Field: field, Value: value})
	return Query{Collection: q.Collection, Filters: filters}
}

// Matches reports whether a decoded document satisfies every filter.
func (q Query) Matches(fields map[string]any) bool {
	for _, f := range q.Filters {
		v, ok := fields[f.Field].(string)
		if !ok || v != f.Value {
			return false
		}
	}
	return true
}

// Snapshot is the complete matching document set at one point in time.
// Subscriptions resend a full Snapshot on every change; they never send diffs.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Tx is the handle passed to a transaction function. All reads must happen
// before the first write.
type Tx interface {
	Get(path string) (Document, error)
	Set(path string, v any) error
	Update(path string, fields map[string]any) error
	Delete(path string) error
}

// TxFunc is a transaction body. It may run several times if the store
// detects a conflicting write, so it must not have side effects beyond tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by every backend adapter.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	// Set creates or replaces the document with the JSON encoding of v.
	Set(ctx context.Context, path string, v any) error
	// Update merges top-level fields into an existing document and fails with
	// ErrNotFound if it does not exist.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the full matching set immediately and again after
	// every change until ctx is cancelled, then closes the channel.
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error)
	// RunTransaction runs fn atomically, retrying on write conflicts until it
	// commits, fn fails, or ctx ends.
	RunTransaction(ctx context.Context, fn TxFunc) error
	// Increment atomically adds delta to an integer field.
	Increment(ctx context.Context, path, field string, delta int64) error
	Close() error
}

// Encode marshals v and checks that it is a JSON object.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("encode document: value is not an object")
	}
	return data, nil
}

// Merge applies top-level field updates to an encoded document.
func Merge(data []byte, fields map[string]any) ([]byte, error) {
	current := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &current); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}
	for k, v := range fields {
		current[k] = v
	}
	return Encode(current)
}

// AddInt adds delta to an integer field of an encoded document. A missing or
// non-numeric field counts as zero.
func AddInt(data []byte, field string, delta int64) ([]byte, error) {
	current := map[string]any{}
	if err := json.Unmarshal(data, &current); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	var n int64
	if f, ok := current[field].(float64); ok {
		n = int64(f)
	}
	current[field] = n + delta
	return Encode(current)
}

// FilterDocs keeps the docs matching q, ordered by id.
func FilterDocs(docs []Document, q Query) ([]Document, error) {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if len(q.Filters) > 0 {
			fields, err := doc.Fields()
			if err != nil {
				return nil, err
			}
			if !q.Matches(fields) {
				continue
			}
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
