package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/repository/contract"
	"ragout-bot/internal/repository/memory"
	"ragout-bot/pkg/knowledge"
)

// ISessionRegistry is the single owner of per-user conversation and document
// state. Every operation is serialized per user.
type ISessionRegistry interface {
	GetOrCreateConversation(ctx context.Context, user entity.UserID) (entity.ConversationState, error)
	AppendExchange(ctx context.Context, user entity.UserID, userMessage, assistantMessage string) error
	Converse(ctx context.Context, user entity.UserID, fn ExchangeFunc) (string, error)
	LoadDocumentCorpus(ctx context.Context, user entity.UserID, name, rawText string) (entity.DocumentRecord, error)
	ListDocuments(ctx context.Context, user entity.UserID) ([]DocumentSummary, error)
	SelectActiveDocument(ctx context.Context, user entity.UserID, index int) (entity.DocumentRecord, error)
	ActiveDocumentKey(ctx context.Context, user entity.UserID) (string, error)
	DeleteIfUnused(ctx context.Context, user entity.UserID, key string, del DeleteFunc) (bool, error)
	ResetUser(ctx context.Context, user entity.UserID) error
}

type DocumentSummary struct {
	Index int
	Name  string
}

// Turn is what an ExchangeFunc sees of the session. Conversation is a copy;
// Backoff is written back to the session whether the exchange succeeds or not.
type Turn struct {
	User         entity.UserID
	Conversation entity.ConversationState
	TargetKey    string
	Backoff      time.Duration
}

// Exchange is committed to the conversation only when the ExchangeFunc
// returns a nil error.
type Exchange struct {
	UserMessage      string
	AssistantMessage string
	GroundedKey      string
}

type ExchangeFunc func(ctx context.Context, turn *Turn) (Exchange, error)

// DeleteFunc removes one key from the vector backend.
type DeleteFunc func(ctx context.Context, key string) error

// ICleanupQueue takes vector keys a reset failed to delete.
type ICleanupQueue interface {
	Enqueue(ctx context.Context, user entity.UserID, keys []string) error
}

type RegistryConfig struct {
	Persona        string
	InitialBackoff time.Duration
}

type SessionRegistry struct {
	repo    *memory.SessionRepository
	backend knowledge.Backend
	ledger  contract.KeyLedger
	cleanup ICleanupQueue
	events  *EventPublisher
	logger  logger.ILogger
	cfg     RegistryConfig
	locks   userLocks
	now     func() time.Time
}

var _ ISessionRegistry = (*SessionRegistry)(nil)

func NewSessionRegistry(
	repo *memory.SessionRepository,
	backend knowledge.Backend,
	ledger contract.KeyLedger,
	cleanup ICleanupQueue,
	events *EventPublisher,
	log logger.ILogger,
	cfg RegistryConfig,
) *SessionRegistry {
	return &SessionRegistry{
		repo:    repo,
		backend: backend,
		ledger:  ledger,
		cleanup: cleanup,
		events:  events,
		logger:  log,
		cfg:     cfg,
		locks:   userLocks{held: make(map[entity.UserID]chan struct{})},
		now:     time.Now,
	}
}

// userLocks hands out one single-slot semaphore per user. Waiting honours ctx.
type userLocks struct {
	mu   sync.Mutex
	held map[entity.UserID]chan struct{}
}

func (l *userLocks) acquire(ctx context.Context, user entity.UserID) (func(), error) {
	l.mu.Lock()
	slot, ok := l.held[user]
	if !ok {
		slot = make(chan struct{}, 1)
		l.held[user] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *SessionRegistry) sessionLocked(user entity.UserID) *entity.Session {
	if s, found := r.repo.Get(user); found {
		return s
	}
	s := &entity.Session{
		UserID: user,
		Conversation: &entity.ConversationState{
			Messages: []entity.Message{{Role: constant.ChatMessageRoleSystem, Content: r.cfg.Persona}},
		},
		Backoff:   r.cfg.InitialBackoff,
		CreatedAt: r.now(),
	}
	r.repo.Save(s)
	r.logger.Debug(constant.ModuleRegistry, "Session created", map[string]interface{}{"user_id": user})
	return s
}

func (r *SessionRegistry) GetOrCreateConversation(ctx context.Context, user entity.UserID) (entity.ConversationState, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return entity.ConversationState{}, err
	}
	defer release()

	return r.sessionLocked(user).Conversation.Clone(), nil
}

func (r *SessionRegistry) AppendExchange(ctx context.Context, user entity.UserID, userMessage, assistantMessage string) error {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return err
	}
	defer release()

	appendLocked(r.sessionLocked(user), userMessage, assistantMessage)
	return nil
}

func appendLocked(s *entity.Session, userMessage, assistantMessage string) {
	s.Conversation.Messages = append(s.Conversation.Messages,
		entity.Message{Role: constant.ChatMessageRoleUser, Content: userMessage},
		entity.Message{Role: constant.ChatMessageRoleAssistant, Content: assistantMessage},
	)
}

// Converse runs fn with the user's lock held and appends its exchange only if
// fn succeeds.
func (r *SessionRegistry) Converse(ctx context.Context, user entity.UserID, fn ExchangeFunc) (string, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return "", err
	}
	defer release()

	s := r.sessionLocked(user)
	turn := &Turn{
		User:         user,
		Conversation: s.Conversation.Clone(),
		TargetKey:    activeKeyLocked(s),
		Backoff:      s.Backoff,
	}

	ex, err := fn(ctx, turn)
	s.Backoff = turn.Backoff
	if err != nil {
		return "", err
	}

	appendLocked(s, ex.UserMessage, ex.AssistantMessage)
	if ex.GroundedKey != "" {
		s.Conversation.GroundedKey = ex.GroundedKey
	}
	return ex.AssistantMessage, nil
}

func (r *SessionRegistry) LoadDocumentCorpus(ctx context.Context, user entity.UserID, name, rawText string) (entity.DocumentRecord, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return entity.DocumentRecord{}, err
	}
	defer release()

	s := r.sessionLocked(user)
	index := len(s.Documents)
	key := entity.DocumentKey(user, index)

	if err := r.backend.Index(ctx, key, rawText); err != nil {
		// The backend may have stored part of the chunks.
		if delErr := r.backend.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			r.logger.Warn(constant.ModuleRegistry, "Failed to drop half-indexed document", map[string]interface{}{
				"key":   key,
				"error": delErr.Error(),
			})
		}
		return entity.DocumentRecord{}, &IngestError{User: user, Name: name, Err: err}
	}

	if err := r.ledger.Add(ctx, user, key); err != nil {
		r.logger.Warn(constant.ModuleRegistry, "Key ledger add failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	record := entity.DocumentRecord{
		Index:         index,
		Name:          name,
		ExtractedText: rawText,
		Key:           key,
		UploadedAt:    r.now(),
	}
	s.Documents = append(s.Documents, record)

	r.logger.Info(constant.ModuleRegistry, "Document indexed", map[string]interface{}{
		"user_id": user,
		"index":   index,
		"name":    name,
	})
	r.events.Emit(ctx, constant.EventDocumentIngested, map[string]interface{}{
		"user_id": string(user),
		"index":   index,
		"name":    name,
		"key":     key,
		"length":  len([]rune(rawText)),
	})
	return record, nil
}

func (r *SessionRegistry) ListDocuments(ctx context.Context, user entity.UserID) ([]DocumentSummary, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return nil, err
	}
	defer release()

	s, found := r.repo.Get(user)
	if !found {
		return []DocumentSummary{}, nil
	}
	out := make([]DocumentSummary, len(s.Documents))
	for i, d := range s.Documents {
		out[i] = DocumentSummary{Index: d.Index, Name: d.Name}
	}
	return out, nil
}

func (r *SessionRegistry) SelectActiveDocument(ctx context.Context, user entity.UserID, index int) (entity.DocumentRecord, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return entity.DocumentRecord{}, err
	}
	defer release()

	s, found := r.repo.Get(user)
	if !found {
		return entity.DocumentRecord{}, &SelectionError{User: user, Index: index}
	}
	doc, ok := s.Document(index)
	if !ok {
		return entity.DocumentRecord{}, &SelectionError{User: user, Index: index}
	}
	s.Active = &doc.Index
	return doc, nil
}

// ActiveDocumentKey is the key questions are answered from: the selected
// document, else the latest upload, else the shared book.
func (r *SessionRegistry) ActiveDocumentKey(ctx context.Context, user entity.UserID) (string, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return "", err
	}
	defer release()

	s, found := r.repo.Get(user)
	if !found {
		return constant.BookKey, nil
	}
	return activeKeyLocked(s), nil
}

func activeKeyLocked(s *entity.Session) string {
	if s.Active != nil {
		if doc, ok := s.Document(*s.Active); ok {
			return doc.Key
		}
	}
	if n := len(s.Documents); n > 0 {
		return s.Documents[n-1].Key
	}
	return constant.BookKey
}

// DeleteIfUnused deletes key from the backend and the ledger unless a live
// document of user holds it. The user lock is held across the check and both
// removals, so an upload reusing the index waits until the delete is done.
// del defaults to the backend's Delete.
func (r *SessionRegistry) DeleteIfUnused(ctx context.Context, user entity.UserID, key string, del DeleteFunc) (bool, error) {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return false, err
	}
	defer release()

	if r.keyInUseLocked(user, key) {
		return false, nil
	}
	if del == nil {
		del = r.backend.Delete
	}
	if err := del(ctx, key); err != nil {
		return false, err
	}
	if err := r.ledger.Remove(ctx, user, key); err != nil {
		r.logger.Warn(constant.ModuleRegistry, "Key ledger remove failed", map[string]interface{}{
			"user_id": user,
			"key":     key,
			"error":   err.Error(),
		})
	}
	return true, nil
}

func (r *SessionRegistry) keyInUseLocked(user entity.UserID, key string) bool {
	s, found := r.repo.Get(user)
	if !found {
		return false
	}
	for _, d := range s.Documents {
		if d.Key == key {
			return true
		}
	}
	return false
}

// ResetUser always clears the local session. Vector keys that could not be
// deleted are queued for cleanup and reported through *ResetError.
func (r *SessionRegistry) ResetUser(ctx context.Context, user entity.UserID) error {
	release, err := r.locks.acquire(ctx, user)
	if err != nil {
		return err
	}
	defer release()

	keys := r.ownedKeysLocked(ctx, user)
	r.repo.Delete(user)

	var (
		deleted []string
		failed  []string
		errs    []error
	)
	for _, key := range keys {
		if err := r.backend.Delete(ctx, key); err != nil {
			failed = append(failed, key)
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, key)
	}

	if len(deleted) > 0 {
		if err := r.ledger.Remove(ctx, user, deleted...); err != nil {
			r.logger.Warn(constant.ModuleRegistry, "Key ledger remove failed", map[string]interface{}{
				"user_id": user,
				"error":   err.Error(),
			})
		}
	}

	r.events.Emit(ctx, constant.EventUserReset, map[string]interface{}{
		"user_id":  string(user),
		"deleted":  deleted,
		"leftover": failed,
	})

	if len(failed) == 0 {
		r.logger.Info(constant.ModuleRegistry, "User reset", map[string]interface{}{
			"user_id": user,
			"keys":    len(deleted),
		})
		return nil
	}

	r.logger.Error(constant.ModuleRegistry, "User reset left vector keys behind", map[string]interface{}{
		"user_id":  user,
		"leftover": failed,
	})
	if r.cleanup != nil {
		if err := r.cleanup.Enqueue(context.WithoutCancel(ctx), user, failed); err != nil {
			errs = append(errs, err)
		}
	}
	return &ResetError{User: user, Leftover: failed, Err: errors.Join(errs...)}
}

// ownedKeysLocked merges the session's document keys with the ledger. The
// shared book key is never included.
func (r *SessionRegistry) ownedKeysLocked(ctx context.Context, user entity.UserID) []string {
	set := make(map[string]struct{})
	if s, found := r.repo.Get(user); found {
		for _, d := range s.Documents {
			set[d.Key] = struct{}{}
		}
	}

	ledgered, err := r.ledger.Keys(ctx, user)
	if err != nil {
		r.logger.Warn(constant.ModuleRegistry, "Key ledger lookup failed", map[string]interface{}{
			"user_id": user,
			"error":   err.Error(),
		})
	}
	for _, k := range ledgered {
		set[k] = struct{}{}
	}
	delete(set, constant.BookKey)

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
