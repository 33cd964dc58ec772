package vectorstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"travel-planner/internal/domain"
)

// keywordEmbedder maps each text to counts of a few fixed words.
type keywordEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	err     error
}

var vocabulary = []string{"london", "museum", "flight", "food"}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	k.calls++
	k.batches = append(k.batches, texts)
	k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(vocabulary))
		lower := strings.ToLower(t)
		for j, w := range vocabulary {
			vec[j] = float32(strings.Count(lower, w))
		}
		out[i] = vec
	}
	return out, nil
}

func chunks(texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{Source: "guide", Index: i, Text: t}
	}
	return out
}

func TestStore_QueryRanksByCosine(t *testing.T) {
	emb := &keywordEmbedder{}
	s, err := New(emb, NewMemory(), "guide", WithBatchSize(2), WithConcurrency(2))
	require.NoError(t, err)

	require.NoError(t, s.Load(context.Background(), chunks(
		"cheap flight deals",
		"london museum guide: the british museum",
		"street food markets",
		"london food tour",
		"another flight",
	)))
	require.Len(t, emb.batches, 3)

	got, err := s.Query(context.Background(), "museum in london", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Index)
	require.Equal(t, 3, got[1].Index)
}

func TestStore_QueryTiesKeepInsertionOrder(t *testing.T) {
	s, err := New(&keywordEmbedder{}, NewMemory(), "guide")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), chunks("flight a", "flight b", "flight c")))

	got, err := s.Query(context.Background(), "flight", 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, []int{got[0].Index, got[1].Index, got[2].Index})
}

func TestStore_QueryKLargerThanCollection(t *testing.T) {
	s, err := New(&keywordEmbedder{}, NewMemory(), "guide")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), chunks("london")))

	got, err := s.Query(context.Background(), "london", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_EmptyCollectionReturnsEmptyWithoutEmbedding(t *testing.T) {
	emb := &keywordEmbedder{}
	s, err := New(emb, NewMemory(), "guide")
	require.NoError(t, err)

	require.NoError(t, s.Load(context.Background(), nil))
	got, err := s.Query(context.Background(), "london", 4)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Zero(t, emb.calls)
}

func TestStore_LoadReplacesCollection(t *testing.T) {
	s, err := New(&keywordEmbedder{}, NewMemory(), "guide")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), chunks("london", "food", "flight")))
	require.NoError(t, s.Load(context.Background(), chunks("museum")))

	got, err := s.Query(context.Background(), "london", 4)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "museum", got[0].Text)
}

func TestStore_LoadEmbedError(t *testing.T) {
	boom := errors.New("boom")
	s, err := New(&keywordEmbedder{err: boom}, NewMemory(), "guide")
	require.NoError(t, err)
	require.ErrorIs(t, s.Load(context.Background(), chunks("a")), boom)
}

func TestStore_QueryRejectsNonPositiveK(t *testing.T) {
	s, err := New(&keywordEmbedder{}, NewMemory(), "guide")
	require.NoError(t, err)
	_, err = s.Query(context.Background(), "x", 0)
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, NewMemory(), "c")
	require.Error(t, err)
	_, err = New(&keywordEmbedder{}, nil, "c")
	require.Error(t, err)
	_, err = New(&keywordEmbedder{}, NewMemory(), " ")
	require.Error(t, err)
}

func TestRetriever_UsesK(t *testing.T) {
	s, err := New(&keywordEmbedder{}, NewMemory(), "guide")
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), chunks("london", "london food", "london museum")))

	got, err := Retriever{Store: s, K: 2}.Retrieve(context.Background(), "london")
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = Retriever{}.Retrieve(context.Background(), "london")
	require.Error(t, err)
}

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	require.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}
