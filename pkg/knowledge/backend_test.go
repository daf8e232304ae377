package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ragout-bot/pkg/embedding"
	"ragout-bot/pkg/vectorstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder embeds text as counts of a few marker letters, enough to make
// similarity predictable in tests.
type letterEmbedder struct {
	failOn string
	calls  int
}

func (e *letterEmbedder) Generate(ctx context.Context, text, taskType string) (*embedding.EmbeddingResponse, error) {
	e.calls++
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("embedding backend down")
	}
	vec := make([]float32, 3)
	for _, r := range strings.ToLower(text) {
		switch r {
		case 'x':
			vec[0]++
		case 'y':
			vec[1]++
		case 'z':
			vec[2]++
		}
	}
	return &embedding.EmbeddingResponse{Embedding: embedding.EmbeddingResponseEmbedding{Values: vec}}, nil
}

func TestIndexAndQueryRankOrder(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&letterEmbedder{}, memory.NewStore(), Config{ChunkSize: 10, ChunkOverlap: 0})

	require.NoError(t, svc.Index(ctx, "u1_0", "xxxx xxxx yyyy yyyy zzzz zzzz"))

	got, err := svc.Query(ctx, "u1_0", "yy", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "yyyy yyyy", got[0])
}

func TestQueryUnknownKeyIsNoData(t *testing.T) {
	svc := NewService(&letterEmbedder{}, memory.NewStore(), Config{})

	_, err := svc.Query(context.Background(), "u9_0", "x", 3)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestIndexFailureKeepsPreviousContent(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}
	svc := NewService(emb, memory.NewStore(), Config{ChunkSize: 100})
	require.NoError(t, svc.Index(ctx, "book", "xyz"))

	emb.failOn = "broken"
	err := svc.Index(ctx, "book", "this one is broken")
	require.Error(t, err)

	got, err := svc.Query(ctx, "book", "x", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"xyz"}, got)
}

func TestIndexEmptyText(t *testing.T) {
	svc := NewService(&letterEmbedder{}, memory.NewStore(), Config{})
	assert.Error(t, svc.Index(context.Background(), "u1_0", "   "))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&letterEmbedder{}, memory.NewStore(), Config{})
	require.NoError(t, svc.Index(ctx, "u1_0", "xyz"))

	require.NoError(t, svc.Delete(ctx, "u1_0"))

	keys, err := svc.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
