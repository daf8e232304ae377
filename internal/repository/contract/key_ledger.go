package contract

import (
	"context"

	"ragout-bot/internal/entity"
)

// KeyLedger remembers which vector backend keys each user owns, so a reset
// can delete all of them and a sweep can find keys orphaned by a restart.
type KeyLedger interface {
	Add(ctx context.Context, user entity.UserID, key string) error
	Keys(ctx context.Context, user entity.UserID) ([]string, error)
	Remove(ctx context.Context, user entity.UserID, keys ...string) error
	Users(ctx context.Context) ([]entity.UserID, error)
}
