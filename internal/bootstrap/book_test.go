package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyIndexer struct {
	failures int
	calls    int
	indexed  map[string]string
	keys     []string
}

func (f *flakyIndexer) Index(ctx context.Context, key, text string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("embedding server not ready")
	}
	if f.indexed == nil {
		f.indexed = map[string]string{}
	}
	f.indexed[key] = text
	return nil
}

func (f *flakyIndexer) Keys(ctx context.Context) ([]string, error) {
	return f.keys, nil
}

func writeBook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(path, []byte("Never talk to strangers."), 0o600))
	return path
}

func fastBackOff(t *testing.T) {
	t.Helper()
	orig := newBookBackOff
	newBookBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	t.Cleanup(func() { newBookBackOff = orig })
}

func TestLoadBookRetriesUntilIndexed(t *testing.T) {
	fastBackOff(t)
	idx := &flakyIndexer{failures: 2}

	require.NoError(t, LoadBook(context.Background(), writeBook(t), idx, logger.NewNopLogger(), false))
	assert.Equal(t, 3, idx.calls)
	assert.Equal(t, "Never talk to strangers.", idx.indexed[constant.BookKey])
}

func TestLoadBookGivesUp(t *testing.T) {
	fastBackOff(t)
	idx := &flakyIndexer{failures: 100}

	err := LoadBook(context.Background(), writeBook(t), idx, logger.NewNopLogger(), false)
	assert.Error(t, err)
	assert.Equal(t, bookIndexTries, idx.calls)
}

func TestLoadBookSkipsExistingKey(t *testing.T) {
	idx := &flakyIndexer{keys: []string{"7_0", constant.BookKey}}

	require.NoError(t, LoadBook(context.Background(), "/does/not/exist", idx, logger.NewNopLogger(), false))
	assert.Zero(t, idx.calls)

	assert.Error(t, LoadBook(context.Background(), "/does/not/exist", idx, logger.NewNopLogger(), true))
}
