package utils

import (
	"fmt"

	"rallyPoint/gateway"
)

func DocsToStructs[T any](docs []gateway.Doc) ([]T, error) {
	result := make([]T, len(docs))
	for i, doc := range docs {
		var item T
		if err := doc.DataTo(&item); err != nil {
			return nil, fmt.Errorf("failed to convert doc %s: %w", doc.ID, err)
		}
		result[i] = item
	}
	return result, nil
}
