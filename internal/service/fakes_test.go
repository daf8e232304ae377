package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/repository/memory"
	"ragout-bot/pkg/knowledge"
	"ragout-bot/pkg/llm"
)

const testPersona = "You are a helpful assistant. Your name is Ragoût."

type fakeBackend struct {
	mu        sync.Mutex
	indexed   map[string]string
	chunks    map[string][]string
	indexErr  error
	deleteErr map[string]error
	deleted   []string
	queries   []string
	onDelete  func(key string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		indexed:   make(map[string]string),
		chunks:    make(map[string][]string),
		deleteErr: make(map[string]error),
	}
}

func (b *fakeBackend) Index(ctx context.Context, key, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexErr != nil {
		return b.indexErr
	}
	b.indexed[key] = text
	if _, ok := b.chunks[key]; !ok {
		b.chunks[key] = []string{text}
	}
	return nil
}

func (b *fakeBackend) Query(ctx context.Context, key, text string, topK int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, key)
	found, ok := b.chunks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", knowledge.ErrNoData, key)
	}
	return found, nil
}

func (b *fakeBackend) Delete(ctx context.Context, key string) error {
	if hook := b.onDelete; hook != nil {
		b.onDelete = nil
		hook(key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.deleteErr[key]; err != nil {
		return err
	}
	b.deleted = append(b.deleted, key)
	delete(b.indexed, key)
	delete(b.chunks, key)
	return nil
}

func (b *fakeBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.indexed[key]
	return ok
}

// fakeLLM fails with the queued errors first, then answers.
type fakeLLM struct {
	mu        sync.Mutex
	errs      []error
	always    error
	reply     string
	calls     int
	histories [][]llm.Message
	onChat    func()
}

func (f *fakeLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.histories = append(f.histories, append([]llm.Message(nil), history...))
	if f.onChat != nil {
		f.onChat()
	}
	if f.always != nil {
		return "", f.always
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	if f.reply == "" {
		return "answer", nil
	}
	return f.reply, nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}

func (f *fakeLLM) lastHistory() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.histories) == 0 {
		return nil
	}
	return f.histories[len(f.histories)-1]
}

type fakeCleanupQueue struct {
	mu   sync.Mutex
	jobs map[entity.UserID][]string
}

func (q *fakeCleanupQueue) Enqueue(ctx context.Context, user entity.UserID, keys []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = make(map[entity.UserID][]string)
	}
	q.jobs[user] = append(q.jobs[user], keys...)
	return nil
}

type logEntry struct {
	level   string
	module  string
	message string
	details map[string]interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

var _ logger.ILogger = (*recordingLogger)(nil)

func (l *recordingLogger) add(level, module, message string, details map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, module: module, message: message, details: details})
}

func (l *recordingLogger) Debug(module, message string, details map[string]interface{}) {
	l.add("debug", module, message, details)
}

func (l *recordingLogger) Info(module, message string, details map[string]interface{}) {
	l.add("info", module, message, details)
}

func (l *recordingLogger) Warn(module, message string, details map[string]interface{}) {
	l.add("warn", module, message, details)
}

func (l *recordingLogger) Error(module, message string, details map[string]interface{}) {
	l.add("error", module, message, details)
}

func (l *recordingLogger) Sync() error { return nil }

type testRig struct {
	repo     *memory.SessionRepository
	ledger   *memory.KeyLedger
	backend  *fakeBackend
	cleanup  *fakeCleanupQueue
	registry *SessionRegistry
}

func newTestRig() *testRig {
	rig := &testRig{
		repo:    memory.NewSessionRepository(),
		ledger:  memory.NewKeyLedger(),
		backend: newFakeBackend(),
		cleanup: &fakeCleanupQueue{},
	}
	rig.registry = NewSessionRegistry(
		rig.repo,
		rig.backend,
		rig.ledger,
		rig.cleanup,
		nil,
		logger.NewNopLogger(),
		RegistryConfig{Persona: testPersona, InitialBackoff: time.Second},
	)
	return rig
}

var errBackendDown = errors.New("backend down")
