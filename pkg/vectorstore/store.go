// Package vectorstore defines the storage contract for embedded text chunks,
// partitioned by a store key (one key per indexed document).
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Chunk struct {
	Key      string
	Index    int
	Text     string
	Vector   []float32
	Metadata map[string]string
	// Score is the cosine similarity to the query, set by Search.
	Score float64
}

type Store interface {
	// Upsert replaces every chunk stored under key.
	Upsert(ctx context.Context, key string, chunks []Chunk) error
	// Search returns at most topK chunks of key ordered by decreasing similarity.
	// An unknown key yields an empty result.
	Search(ctx context.Context, key string, vector []float32, topK int) ([]Chunk, error)
	DeleteKey(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// ChunkID derives a stable id so re-indexing a key overwrites the same rows/points.
func ChunkID(key string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("ragout:%s#%d", key, index)))
}
