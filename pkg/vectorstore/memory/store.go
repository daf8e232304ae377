// Package memory is a flat in-process index: exact cosine search over every
// chunk of the requested key.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"ragout-bot/pkg/vectorstore"
)

type Store struct {
	mu     sync.RWMutex
	chunks map[string][]vectorstore.Chunk
}

var _ vectorstore.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{chunks: make(map[string][]vectorstore.Chunk)}
}

func (s *Store) Upsert(ctx context.Context, key string, chunks []vectorstore.Chunk) error {
	stored := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		c.Key = key
		c.Vector = append([]float32(nil), c.Vector...)
		stored[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[key] = stored
	return nil
}

func (s *Store) Search(ctx context.Context, key string, vector []float32, topK int) ([]vectorstore.Chunk, error) {
	s.mu.RLock()
	candidates := s.chunks[key]
	scored := make([]vectorstore.Chunk, len(candidates))
	for i, c := range candidates {
		c.Score = cosine(vector, c.Vector)
		scored[i] = c
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *Store) DeleteKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, key)
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
