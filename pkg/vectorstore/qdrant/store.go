// Package qdrant stores chunks in a Qdrant collection over its REST API.
// Every point carries its store key in the payload and all operations filter on it.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"ragout-bot/pkg/vectorstore"
)

const payloadKey = "store_key"

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Store struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu      sync.Mutex
	ensured bool
}

var _ vectorstore.Store = (*Store)(nil)

// errNotFound marks a 404 from Qdrant (usually a missing collection).
type errNotFound struct{ path string }

func (e errNotFound) Error() string { return "qdrant: not found: " + e.path }

func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func keyFilter(key string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": payloadKey, "match": map[string]any{"value": key}},
		},
	}
}

// ensureCollection creates the collection and the payload index the first time
// we write. The vector size comes from the first chunk.
func (s *Store) ensureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	path := "/collections/" + s.collection
	err := s.do(ctx, http.MethodGet, path, nil, nil)
	if _, missing := err.(errNotFound); missing {
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
		}
		if err := s.do(ctx, http.MethodPut, path, body, nil); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		index := map[string]any{"field_name": payloadKey, "field_schema": "keyword"}
		if err := s.do(ctx, http.MethodPut, path+"/index?wait=true", index, nil); err != nil {
			return fmt.Errorf("create payload index: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	s.ensured = true
	return nil
}

func (s *Store) Upsert(ctx context.Context, key string, chunks []vectorstore.Chunk) error {
	if len(chunks) > 0 {
		if err := s.ensureCollection(ctx, len(chunks[0].Vector)); err != nil {
			return err
		}
	}
	if err := s.DeleteKey(ctx, key); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]point, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			payloadKey:    key,
			"chunk_index": c.Index,
			"text":        c.Text,
		}
		for k, v := range c.Metadata {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
		points[i] = point{
			ID:      vectorstore.ChunkID(key, c.Index).String(),
			Vector:  c.Vector,
			Payload: payload,
		}
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	if err := s.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, key string, vector []float32, topK int) ([]vectorstore.Chunk, error) {
	if topK <= 0 {
		topK = 4
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       keyFilter(key),
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	err := s.do(ctx, http.MethodPost, path, req, &resp)
	if _, missing := err.(errNotFound); missing {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	chunks := make([]vectorstore.Chunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		c := vectorstore.Chunk{Key: key, Score: r.Score, Metadata: map[string]string{}}
		for k, v := range r.Payload {
			switch k {
			case "text":
				c.Text, _ = v.(string)
			case "chunk_index":
				if f, ok := v.(float64); ok {
					c.Index = int(f)
				}
			case payloadKey:
			default:
				if str, ok := v.(string); ok {
					c.Metadata[k] = str
				}
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (s *Store) DeleteKey(ctx context.Context, key string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection)
	err := s.do(ctx, http.MethodPost, path, map[string]any{"filter": keyFilter(key)}, nil)
	if _, missing := err.(errNotFound); missing {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var keys []string
	var offset any

	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": []string{payloadKey},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []scoredPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}

		path := fmt.Sprintf("/collections/%s/points/scroll", s.collection)
		err := s.do(ctx, http.MethodPost, path, req, &resp)
		if _, missing := err.(errNotFound); missing {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}

		for _, p := range resp.Result.Points {
			if k, ok := p.Payload[payloadKey].(string); ok && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		if resp.Result.NextPageOffset == nil {
			return keys, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound{path: path}
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, path, resp.Status, string(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
