package service

import (
	"context"
	"fmt"
	"strings"

	"ragout-bot/pkg/knowledge"
)

type IRetrievalService interface {
	Compose(ctx context.Context, key, question string) (string, error)
}

// RetrievalService builds the closed-book instruction for a document key.
type RetrievalService struct {
	backend  knowledge.Backend
	topK     int
	template string
}

func NewRetrievalService(backend knowledge.Backend, topK int, template string) *RetrievalService {
	if topK <= 0 {
		topK = 4
	}
	return &RetrievalService{backend: backend, topK: topK, template: template}
}

// Compose joins the top chunks with single spaces in rank order and wraps them
// with the question. A key without content yields knowledge.ErrNoData.
func (r *RetrievalService) Compose(ctx context.Context, key, question string) (string, error) {
	chunks, err := r.backend.Query(ctx, key, question, r.topK)
	if err != nil {
		return "", err
	}

	document := strings.TrimSpace(strings.Join(chunks, " "))
	if document == "" {
		return "", fmt.Errorf("%w: %s", knowledge.ErrNoData, key)
	}

	return strings.NewReplacer(
		"{document}", document,
		"{question}", question,
	).Replace(r.template), nil
}
