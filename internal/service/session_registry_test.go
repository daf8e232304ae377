package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateConversationStartsWithPersona(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	conv, err := rig.registry.GetOrCreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, conv.Len())
	assert.Equal(t, constant.ChatMessageRoleSystem, conv.Messages[0].Role)
	assert.Equal(t, testPersona, conv.Messages[0].Content)

	// The returned state is a copy.
	conv.Messages = append(conv.Messages, entity.Message{Role: "user", Content: "x"})
	again, err := rig.registry.GetOrCreateConversation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len())
}

func TestAppendExchangeGrowsByTwo(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	require.NoError(t, rig.registry.AppendExchange(ctx, "u1", "hi", "hello"))
	require.NoError(t, rig.registry.AppendExchange(ctx, "u1", "how are you", "fine"))

	conv, err := rig.registry.GetOrCreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, conv.Len())
	assert.Equal(t, entity.Message{Role: constant.ChatMessageRoleUser, Content: "hi"}, conv.Messages[1])
	assert.Equal(t, entity.Message{Role: constant.ChatMessageRoleAssistant, Content: "hello"}, conv.Messages[2])
}

func TestConverseCommitsOnlyOnSuccess(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	_, err := rig.registry.Converse(ctx, "u1", func(ctx context.Context, turn *Turn) (Exchange, error) {
		turn.Backoff = 4 * time.Second
		return Exchange{}, errBackendDown
	})
	require.ErrorIs(t, err, errBackendDown)

	conv, _ := rig.registry.GetOrCreateConversation(ctx, "u1")
	assert.Equal(t, 1, conv.Len())
	s, _ := rig.repo.Get("u1")
	assert.Equal(t, 4*time.Second, s.Backoff, "backoff survives a failed exchange")

	reply, err := rig.registry.Converse(ctx, "u1", func(ctx context.Context, turn *Turn) (Exchange, error) {
		assert.Equal(t, constant.BookKey, turn.TargetKey)
		return Exchange{UserMessage: "q", AssistantMessage: "a", GroundedKey: constant.BookKey}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a", reply)

	conv, _ = rig.registry.GetOrCreateConversation(ctx, "u1")
	assert.Equal(t, 3, conv.Len())
	assert.Equal(t, constant.BookKey, conv.GroundedKey)
}

func TestUploadScenario(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	record, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "notes.pdf", "some notes")
	require.NoError(t, err)
	assert.Equal(t, 0, record.Index)
	assert.Equal(t, "u1_0", record.Key)
	assert.True(t, rig.backend.has("u1_0"))

	docs, err := rig.registry.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []DocumentSummary{{Index: 0, Name: "notes.pdf"}}, docs)

	chosen, err := rig.registry.SelectActiveDocument(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", chosen.Name)

	_, err = rig.registry.SelectActiveDocument(ctx, "u1", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSelection))
	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, 5, selErr.Index)

	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Equal(t, []string{"u1_0"}, keys)
}

func TestSelectWithoutSessionFails(t *testing.T) {
	rig := newTestRig()
	_, err := rig.registry.SelectActiveDocument(context.Background(), "ghost", 0)
	assert.ErrorIs(t, err, ErrSelection)
}

func TestDocumentIndicesReusedAfterReset(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	var indices []int
	for _, name := range []string{"a.txt", "b.txt"} {
		rec, err := rig.registry.LoadDocumentCorpus(ctx, "u1", name, "text of "+name)
		require.NoError(t, err)
		indices = append(indices, rec.Index)
	}
	require.NoError(t, rig.registry.ResetUser(ctx, "u1"))
	rec, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "c.txt", "text of c")
	require.NoError(t, err)
	indices = append(indices, rec.Index)

	assert.Equal(t, []int{0, 1, 0}, indices)
}

func TestLoadDocumentFailureCommitsNothing(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.backend.indexErr = errBackendDown

	_, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "broken.pdf", "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngestFailure)
	assert.ErrorIs(t, err, errBackendDown)

	docs, _ := rig.registry.ListDocuments(ctx, "u1")
	assert.Empty(t, docs)
	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Empty(t, keys)
	assert.Contains(t, rig.backend.deleted, "u1_0", "half-built key is dropped")

	// The failed upload did not consume an index.
	rig.backend.indexErr = nil
	rec, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "ok.pdf", "text")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Index)
}

func TestActiveDocumentKeyRouting(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	key, err := rig.registry.ActiveDocumentKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, constant.BookKey, key)

	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "a.txt", "a")
	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "b.txt", "b")
	key, _ = rig.registry.ActiveDocumentKey(ctx, "u1")
	assert.Equal(t, "u1_1", key, "latest upload without a selection")

	_, err = rig.registry.SelectActiveDocument(ctx, "u1", 0)
	require.NoError(t, err)
	key, _ = rig.registry.ActiveDocumentKey(ctx, "u1")
	assert.Equal(t, "u1_0", key)
}

func TestResetClearsConversationAndDocuments(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	rig.backend.chunks[constant.BookKey] = []string{"book text"}
	rig.backend.indexed[constant.BookKey] = "book text"

	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "a.txt", "a")
	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "b.txt", "b")
	_, _ = rig.registry.SelectActiveDocument(ctx, "u1", 1)
	require.NoError(t, rig.registry.AppendExchange(ctx, "u1", "q1", "a1"))
	require.NoError(t, rig.registry.AppendExchange(ctx, "u1", "q2", "a2"))
	conv, _ := rig.registry.GetOrCreateConversation(ctx, "u1")
	require.Equal(t, 5, conv.Len())

	require.NoError(t, rig.registry.ResetUser(ctx, "u1"))

	docs, err := rig.registry.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	conv, err = rig.registry.GetOrCreateConversation(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, conv.Len())
	assert.Equal(t, constant.ChatMessageRoleSystem, conv.Messages[0].Role)
	assert.Empty(t, conv.GroundedKey)

	key, _ := rig.registry.ActiveDocumentKey(ctx, "u1")
	assert.Equal(t, constant.BookKey, key, "selection is cleared")

	assert.False(t, rig.backend.has("u1_0"))
	assert.False(t, rig.backend.has("u1_1"))
	assert.True(t, rig.backend.has(constant.BookKey), "the shared book survives")
	assert.NotContains(t, rig.backend.deleted, constant.BookKey)

	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Empty(t, keys)
}

func TestResetDeletesLedgeredKeysWithoutSession(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()
	require.NoError(t, rig.ledger.Add(ctx, "u1", "u1_3"))
	require.NoError(t, rig.ledger.Add(ctx, "u1", constant.BookKey))

	require.NoError(t, rig.registry.ResetUser(ctx, "u1"))
	assert.Equal(t, []string{"u1_3"}, rig.backend.deleted)
}

func TestResetFailureClearsLocalStateAndQueuesLeftovers(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "a.txt", "a")
	_, _ = rig.registry.LoadDocumentCorpus(ctx, "u1", "b.txt", "b")
	rig.backend.deleteErr["u1_1"] = errBackendDown

	err := rig.registry.ResetUser(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResetFailure)
	assert.ErrorIs(t, err, errBackendDown)

	var resetErr *ResetError
	require.ErrorAs(t, err, &resetErr)
	assert.Equal(t, []string{"u1_1"}, resetErr.Leftover)

	docs, _ := rig.registry.ListDocuments(ctx, "u1")
	assert.Empty(t, docs, "local state is cleared even when the backend fails")
	conv, _ := rig.registry.GetOrCreateConversation(ctx, "u1")
	assert.Equal(t, 1, conv.Len())

	assert.Equal(t, []string{"u1_1"}, rig.cleanup.jobs["u1"])
	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Equal(t, []string{"u1_1"}, keys, "only the surviving key stays ledgered")
}

func TestResetRestoresInitialBackoff(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	_, _ = rig.registry.Converse(ctx, "u1", func(ctx context.Context, turn *Turn) (Exchange, error) {
		turn.Backoff = 16 * time.Second
		return Exchange{}, errBackendDown
	})
	require.NoError(t, rig.registry.ResetUser(ctx, "u1"))

	_, _ = rig.registry.GetOrCreateConversation(ctx, "u1")
	s, found := rig.repo.Get("u1")
	require.True(t, found)
	assert.Equal(t, time.Second, s.Backoff)
}

func TestUserLockHonoursContext(t *testing.T) {
	rig := newTestRig()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = rig.registry.Converse(context.Background(), "u1", func(ctx context.Context, turn *Turn) (Exchange, error) {
			close(entered)
			<-release
			return Exchange{UserMessage: "q", AssistantMessage: "a"}, nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rig.registry.ListDocuments(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other users are not blocked.
	_, err = rig.registry.GetOrCreateConversation(context.Background(), "u2")
	assert.NoError(t, err)

	close(release)
	assert.Eventually(t, func() bool {
		conv, err := rig.registry.GetOrCreateConversation(context.Background(), "u1")
		return err == nil && conv.Len() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentUploadsGetDistinctIndices(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indices []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "doc.txt", "text")
			if assert.NoError(t, err) {
				mu.Lock()
				indices = append(indices, rec.Index)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(indices)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, indices[i])
	}
}

func TestDeleteIfUnused(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	_, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "a.txt", "a")
	require.NoError(t, err)

	removed, err := rig.registry.DeleteIfUnused(ctx, "u1", "u1_0", nil)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, rig.backend.has("u1_0"))

	require.NoError(t, rig.ledger.Add(ctx, "u1", "u1_7"))
	removed, err = rig.registry.DeleteIfUnused(ctx, "u1", "u1_7", nil)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"u1_7"}, rig.backend.deleted)
	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Equal(t, []string{"u1_0"}, keys)

	rig.backend.deleteErr["u1_9"] = errBackendDown
	removed, err = rig.registry.DeleteIfUnused(ctx, "u1", "u1_9", nil)
	assert.ErrorIs(t, err, errBackendDown)
	assert.False(t, removed)
}
