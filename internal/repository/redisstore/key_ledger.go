package redisstore

import (
	"context"
	"fmt"
	"sort"

	"ragout-bot/internal/entity"
	"ragout-bot/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

const (
	usersSetKey   = "ragout:ledger:users"
	userKeyPrefix = "ragout:ledger:keys:"
)

// KeyLedger keeps the ledger in Redis sets so it survives restarts and is
// shared by every bot instance.
type KeyLedger struct {
	rdb *redis.Client
}

var _ contract.KeyLedger = (*KeyLedger)(nil)

func NewKeyLedger(rdb *redis.Client) *KeyLedger {
	return &KeyLedger{rdb: rdb}
}

func userSet(user entity.UserID) string {
	return userKeyPrefix + string(user)
}

func (l *KeyLedger) Add(ctx context.Context, user entity.UserID, key string) error {
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, userSet(user), key)
		pipe.SAdd(ctx, usersSetKey, string(user))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger add %s: %w", key, err)
	}
	return nil
}

func (l *KeyLedger) Keys(ctx context.Context, user entity.UserID) ([]string, error) {
	keys, err := l.rdb.SMembers(ctx, userSet(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger keys of %s: %w", user, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *KeyLedger) Remove(ctx context.Context, user entity.UserID, keys ...string) error {
	if len(keys) > 0 {
		members := make([]interface{}, len(keys))
		for i, k := range keys {
			members[i] = k
		}
		if err := l.rdb.SRem(ctx, userSet(user), members...).Err(); err != nil {
			return fmt.Errorf("ledger remove: %w", err)
		}
	}

	left, err := l.rdb.SCard(ctx, userSet(user)).Result()
	if err != nil {
		return fmt.Errorf("ledger count: %w", err)
	}
	if left == 0 {
		if err := l.rdb.SRem(ctx, usersSetKey, string(user)).Err(); err != nil {
			return fmt.Errorf("ledger forget user: %w", err)
		}
	}
	return nil
}

func (l *KeyLedger) Users(ctx context.Context) ([]entity.UserID, error) {
	members, err := l.rdb.SMembers(ctx, usersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger users: %w", err)
	}
	sort.Strings(members)
	users := make([]entity.UserID, len(members))
	for i, m := range members {
		users[i] = entity.UserID(m)
	}
	return users, nil
}
