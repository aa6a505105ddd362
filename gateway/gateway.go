// Package gateway abstracts the remote document store. Services address
// documents by slash-separated collection/doc paths and never see the
// underlying client, so every service test can run against the in-memory
// implementation.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Doc is one document read back from the store. Data holds the store's raw
// field map.
type Doc struct {
	ID   string
	Data map[string]any
}

// DataTo decodes the document's fields into v.
func (d Doc) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode doc %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode doc %s: %w", d.ID, err)
	}
	return nil
}

// Filter is one equality/range clause of a query.
type Filter struct {
	Path  string
	Op    string
	Value any
}

// Write is one operation inside an atomic batch. Exactly one of Merge,
// DeleteFields or Delete should be set per write; Merge and DeleteFields may
// be combined against the same path.
type Write struct {
	Path         string
	Merge        map[string]any
	DeleteFields []string
	Delete       bool
}

// Gateway is the remote document store capability.
type Gateway interface {
	// Get reads one document. A missing document surfaces as a NotFound
	// kinded error.
	Get(ctx context.Context, path string) (Doc, error)

	// SetMerge writes the given fields into the document, creating it if
	// absent and leaving unnamed fields untouched.
	SetMerge(ctx context.Context, path string, data map[string]any) error

	// Batch applies all writes atomically: either every write lands or none
	// does.
	Batch(ctx context.Context, writes []Write) error

	// Query returns every document of the collection matching all filters.
	// No filters means the whole collection.
	Query(ctx context.Context, collection string, filters []Filter) ([]Doc, error)
}
