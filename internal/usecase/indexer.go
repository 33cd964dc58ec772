package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"travel-planner/internal/domain"
)

type PageLoader interface {
	Load(ctx context.Context, url string) (domain.Document, error)
}

type DocumentSplitter interface {
	SplitDocuments(docs []domain.Document) []domain.Chunk
}

type ChunkLoader interface {
	Load(ctx context.Context, chunks []domain.Chunk) error
}

// Indexer fetches the guide page, splits it, and loads the chunks.
type Indexer struct {
	loader   PageLoader
	splitter DocumentSplitter
	store    ChunkLoader
	url      string
	logger   zerolog.Logger
}

func NewIndexer(loader PageLoader, splitter DocumentSplitter, store ChunkLoader, url string, logger zerolog.Logger) (*Indexer, error) {
	if loader == nil {
		return nil, errors.New("usecase: page loader must not be nil")
	}
	if splitter == nil {
		return nil, errors.New("usecase: splitter must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: vector store must not be nil")
	}
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("usecase: index url must not be empty")
	}
	return &Indexer{loader: loader, splitter: splitter, store: store, url: url, logger: logger}, nil
}

// Index returns the number of chunks loaded. A page with no matching
// sections loads zero chunks and is not an error.
func (i *Indexer) Index(ctx context.Context) (int, error) {
	doc, err := i.loader.Load(ctx, i.url)
	if err != nil {
		return 0, stageError(StageIndex, err)
	}
	chunks := i.splitter.SplitDocuments([]domain.Document{doc})
	if len(chunks) == 0 {
		i.logger.Warn().Str("url", i.url).Msg("no content matched the configured sections")
	}
	if err := i.store.Load(ctx, chunks); err != nil {
		return 0, stageError(StageIndex, fmt.Errorf("load chunks: %w", err))
	}
	i.logger.Info().Str("url", i.url).Int("chunks", len(chunks)).Msg("index loaded")
	return len(chunks), nil
}
