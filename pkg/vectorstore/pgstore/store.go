package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ragout-bot/internal/model"
	"ragout-bot/pkg/vectorstore"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store keeps chunks in the document_chunks table and ranks them with the
// pgvector cosine distance operator.
type Store struct {
	db *gorm.DB
}

var _ vectorstore.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ErrNotMigrated means the document_chunks table or the vector extension is missing.
var ErrNotMigrated = errors.New("pgstore: schema missing, run cmd/migrate")

// classify maps Postgres schema errors onto ErrNotMigrated.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42704", "42883": // undefined_table, undefined_object, undefined_function
			return fmt.Errorf("%w: %s", ErrNotMigrated, pgErr.Message)
		}
	}
	return err
}

func (s *Store) Upsert(ctx context.Context, key string, chunks []vectorstore.Chunk) error {
	rows := make([]*model.DocumentChunk, len(chunks))
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		rows[i] = &model.DocumentChunk{
			Id:         vectorstore.ChunkID(key, c.Index),
			StoreKey:   key,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Embedding:  pgvector.NewVector(c.Vector),
			Metadata:   datatypes.JSON(meta),
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_key = ?", key).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("delete old chunks: %w", classify(err))
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert chunks: %w", classify(err))
		}
		return nil
	})
}

func (s *Store) Search(ctx context.Context, key string, vector []float32, topK int) ([]vectorstore.Chunk, error) {
	if topK <= 0 {
		topK = 4
	}

	// Cosine distance in pgvector is 1 - cosine_similarity
	type result struct {
		model.DocumentChunk
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)
	err := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, 1 - (embedding <=> ?) AS similarity", queryVector).
		Where("store_key = ?", key).
		Order(gorm.Expr("embedding <=> ?", queryVector)).
		Limit(topK).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", classify(err))
	}

	chunks := make([]vectorstore.Chunk, len(results))
	for i, r := range results {
		meta, err := decodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("chunk %s/%d: %w", r.StoreKey, r.ChunkIndex, err)
		}
		chunks[i] = vectorstore.Chunk{
			Key:      r.StoreKey,
			Index:    r.ChunkIndex,
			Text:     r.Content,
			Vector:   r.Embedding.Slice(),
			Metadata: meta,
			Score:    r.Similarity,
		}
	}
	return chunks, nil
}

func (s *Store) DeleteKey(ctx context.Context, key string) error {
	return classify(s.db.WithContext(ctx).Where("store_key = ?", key).Delete(&model.DocumentChunk{}).Error)
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&model.DocumentChunk{}).
		Distinct("store_key").
		Pluck("store_key", &keys).Error
	return keys, classify(err)
}

func decodeMetadata(raw datatypes.JSON) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return meta, nil
}
