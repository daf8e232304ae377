package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/pkg/ingest"

	"github.com/cenkalti/backoff/v5"
)

// BookIndexer is the slice of the knowledge backend used to seed the book.
type BookIndexer interface {
	Index(ctx context.Context, key, text string) error
	Keys(ctx context.Context) ([]string, error)
}

const bookIndexTries = 5

var newBookBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = time.Minute
	b.Reset()
	return b
}

// LoadBook indexes the shared book under constant.BookKey. Persistent stores
// that already hold the key are left alone unless force is set. Embedding
// calls are retried since the first start often races the model server.
func LoadBook(ctx context.Context, path string, backend BookIndexer, log logger.ILogger, force bool) error {
	if !force {
		keys, err := backend.Keys(ctx)
		if err == nil && slices.Contains(keys, constant.BookKey) {
			log.Info(constant.ModuleBook, "Book already indexed", nil)
			return nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read book: %w", err)
	}
	text, err := ingest.ExtractText(raw, path)
	if err != nil {
		return fmt.Errorf("extract book: %w", err)
	}

	started := time.Now()
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := backend.Index(ctx, constant.BookKey, text); err != nil {
			if errors.Is(err, context.Canceled) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(newBookBackOff()),
		backoff.WithMaxTries(bookIndexTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn(constant.ModuleBook, "Book indexing failed, retrying", map[string]interface{}{
				"error": err.Error(),
				"next":  next.String(),
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("index book: %w", err)
	}

	log.Info(constant.ModuleBook, "Book indexed", map[string]interface{}{
		"name":     constant.BookName,
		"chars":    len(text),
		"duration": time.Since(started).String(),
	})
	return nil
}
