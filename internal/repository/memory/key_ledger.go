package memory

import (
	"context"
	"sort"
	"sync"

	"ragout-bot/internal/entity"
	"ragout-bot/internal/repository/contract"
)

type KeyLedger struct {
	mu   sync.Mutex
	keys map[entity.UserID]map[string]struct{}
}

var _ contract.KeyLedger = (*KeyLedger)(nil)

func NewKeyLedger() *KeyLedger {
	return &KeyLedger{keys: make(map[entity.UserID]map[string]struct{})}
}

func (l *KeyLedger) Add(ctx context.Context, user entity.UserID, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.keys[user]
	if !ok {
		set = make(map[string]struct{})
		l.keys[user] = set
	}
	set[key] = struct{}{}
	return nil
}

func (l *KeyLedger) Keys(ctx context.Context, user entity.UserID) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.keys[user]))
	for k := range l.keys[user] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (l *KeyLedger) Remove(ctx context.Context, user entity.UserID, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.keys[user]
	for _, k := range keys {
		delete(set, k)
	}
	if len(set) == 0 {
		delete(l.keys, user)
	}
	return nil
}

func (l *KeyLedger) Users(ctx context.Context) ([]entity.UserID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]entity.UserID, 0, len(l.keys))
	for u := range l.keys {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
