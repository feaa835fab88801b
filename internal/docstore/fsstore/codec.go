package fsstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"

	"corkboard/api/internal/docstore"
)

// toFields converts a JSON-encodable value to the map form Firestore stores.
// Integral JSON numbers become int64 so counters stay integers.
func toFields(v any) (map[string]any, error) {
	data, err := docstore.Encode(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return normalize(raw).(map[string]any), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

func toUpdates(fields map[string]any) ([]firestore.Update, error) {
	normalized, err := toFields(fields)
	if err != nil {
		return nil, err
	}
	updates := make([]firestore.Update, 0, len(normalized))
	for k, v := range normalized {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates, nil
}

func toDocument(path string, snap *firestore.DocumentSnapshot) (docstore.Document, error) {
	data, err := json.Marshal(snap.Data())
	if err != nil {
		return docstore.Document{}, fmt.Errorf("encode %s: %w", path, err)
	}
	return docstore.Document{ID: snap.Ref.ID, Path: path, Data: data}, nil
}
