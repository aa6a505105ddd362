package gateway

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Store is the Firestore-backed Gateway.
type Store struct {
	client *firestore.Client
}

var _ Gateway = (*Store)(nil)

// NewStore wraps a Firestore client.
func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, path string) (Doc, error) {
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		return Doc{}, classify("gateway.Get "+path, err)
	}
	return Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *Store) SetMerge(ctx context.Context, path string, data map[string]any) error {
	_, err := s.client.Doc(path).Set(ctx, data, firestore.MergeAll)
	return classify("gateway.SetMerge "+path, err)
}

func (s *Store) Batch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	batch := s.client.Batch()
	for _, w := range writes {
		ref := s.client.Doc(w.Path)
		switch {
		case w.Delete:
			batch.Delete(ref)
		default:
			if w.Merge != nil {
				batch.Set(ref, w.Merge, firestore.MergeAll)
			}
			if len(w.DeleteFields) > 0 {
				updates := make([]firestore.Update, 0, len(w.DeleteFields))
				for _, f := range w.DeleteFields {
					updates = append(updates, firestore.Update{Path: f, Value: firestore.Delete})
				}
				batch.Update(ref, updates)
			}
		}
	}
	_, err := batch.Commit(ctx)
	return classify("gateway.Batch", err)
}

func (s *Store) Query(ctx context.Context, collection string, filters []Filter) ([]Doc, error) {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.WhereEntity(firestore.PropertyFilter{
			Path:     f.Path,
			Operator: f.Op,
			Value:    f.Value,
		})
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	docs := make([]Doc, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(fmt.Sprintf("gateway.Query %s", collection), err)
		}
		docs = append(docs, Doc{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}
