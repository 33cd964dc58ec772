// Package vectorstore embeds chunks, keeps them in a backend, and answers
// similarity queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"travel-planner/internal/domain"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is a chunk together with its embedding.
type Record struct {
	Chunk     domain.Chunk
	Embedding []float32
}

// Backend persists records per collection. Save replaces the collection.
type Backend interface {
	Save(ctx context.Context, collection string, records []Record) error
	Records(ctx context.Context, collection string) ([]Record, error)
}

// VectorStore is the capability the pipeline depends on.
type VectorStore interface {
	Load(ctx context.Context, chunks []domain.Chunk) error
	Query(ctx context.Context, text string, k int) ([]domain.Chunk, error)
}

// Store implements VectorStore over an Embedder and a Backend.
type Store struct {
	embedder    Embedder
	backend     Backend
	collection  string
	batchSize   int
	concurrency int
}

type Option func(*Store)

func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds how many embedding batches run at once.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(embedder Embedder, backend Backend, collection string, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("vectorstore: embedder must not be nil")
	}
	if backend == nil {
		return nil, errors.New("vectorstore: backend must not be nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("vectorstore: collection must not be empty")
	}
	s := &Store{
		embedder:    embedder,
		backend:     backend,
		collection:  collection,
		batchSize:   64,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load embeds chunks and replaces the collection with them. An empty chunk
// list clears the collection without calling the embedder.
func (s *Store) Load(ctx context.Context, chunks []domain.Chunk) error {
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i].Chunk = c
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = records[start+i].Chunk.Text
			}
			vecs, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed chunks %d-%d: expected %d vectors, got %d", start, end-1, len(texts), len(vecs))
			}
			for i, v := range vecs {
				records[start+i].Embedding = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("vectorstore: load: %w", err)
	}

	if err := s.backend.Save(ctx, s.collection, records); err != nil {
		return fmt.Errorf("vectorstore: load: %w", err)
	}
	return nil
}

// Query returns up to k chunks ranked by cosine similarity to text. Ties keep
// insertion order. An empty collection yields an empty result.
func (s *Store) Query(ctx context.Context, text string, k int) ([]domain.Chunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorstore: query: k must be positive, got %d", k)
	}
	records, err := s.backend.Records(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}
	if len(records) == 0 {
		return []domain.Chunk{}, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("vectorstore: query: expected 1 vector, got %d", len(vecs))
	}
	q := vecs[0]

	type scored struct {
		chunk domain.Chunk
		score float64
	}
	ranked := make([]scored, len(records))
	for i, r := range records {
		ranked[i] = scored{chunk: r.Chunk, score: cosine(q, r.Embedding)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := min(k, len(ranked))
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = ranked[i].chunk
	}
	return out, nil
}

// cosine returns 0 for mismatched or zero-length vectors.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
