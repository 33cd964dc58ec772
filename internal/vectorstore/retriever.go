package vectorstore

import (
	"context"
	"errors"

	"travel-planner/internal/domain"
)

// Retriever fixes k for a VectorStore.
type Retriever struct {
	Store VectorStore
	K     int
}

func (r Retriever) Retrieve(ctx context.Context, query string) ([]domain.Chunk, error) {
	if r.Store == nil {
		return nil, errors.New("vectorstore: retriever has no store")
	}
	return r.Store.Query(ctx, query, r.K)
}
