// Package knowledge is the embedding/similarity backend: it chunks documents,
// embeds the chunks and answers nearest-neighbour queries per store key.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"ragout-bot/pkg/embedding"
	"ragout-bot/pkg/utils"
	"ragout-bot/pkg/vectorstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoData means the key has no indexed content matching the query.
var ErrNoData = errors.New("no indexed data for key")

type Backend interface {
	Index(ctx context.Context, key, text string) error
	// Query returns chunk texts in rank order.
	Query(ctx context.Context, key, text string, topK int) ([]string, error)
	Delete(ctx context.Context, key string) error
}

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

type Service struct {
	embedder embedding.EmbeddingProvider
	store    vectorstore.Store
	cfg      Config
}

var _ Backend = (*Service)(nil)

var tracer = otel.Tracer("ragout-bot/pkg/knowledge")

func NewService(embedder embedding.EmbeddingProvider, store vectorstore.Store, cfg Config) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	return &Service{embedder: embedder, store: store, cfg: cfg}
}

// Index embeds every chunk before touching the store, so a failed embedding
// leaves any previous content of key intact.
func (s *Service) Index(ctx context.Context, key, text string) (err error) {
	ctx, span := tracer.Start(ctx, "knowledge.Index")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("store.key", key))

	pieces := utils.SplitText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return fmt.Errorf("index %s: document has no text", key)
	}
	span.SetAttributes(attribute.Int("chunks", len(pieces)))

	chunks := make([]vectorstore.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		res, err := s.embedder.Generate(ctx, piece, embedding.TaskRetrievalDocument)
		if err != nil {
			return fmt.Errorf("embed chunk %d of %s: %w", i, key, err)
		}
		chunks = append(chunks, vectorstore.Chunk{
			Key:      key,
			Index:    i,
			Text:     piece,
			Vector:   res.Embedding.Values,
			Metadata: map[string]string{"key": key},
		})
	}

	if err := s.store.Upsert(ctx, key, chunks); err != nil {
		return fmt.Errorf("store chunks of %s: %w", key, err)
	}
	return nil
}

func (s *Service) Query(ctx context.Context, key, text string, topK int) (_ []string, err error) {
	ctx, span := tracer.Start(ctx, "knowledge.Query")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("store.key", key), attribute.Int("top_k", topK))

	res, err := s.embedder.Generate(ctx, text, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	found, err := s.store.Search(ctx, key, res.Embedding.Values, topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", key, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, key)
	}

	texts := make([]string, len(found))
	for i, c := range found {
		texts[i] = c.Text
	}
	return texts, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.DeleteKey(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key with stored content.
func (s *Service) Keys(ctx context.Context) ([]string, error) {
	return s.store.Keys(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
