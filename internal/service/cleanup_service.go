package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/pkg/mailer"
	"ragout-bot/internal/repository/contract"
	"ragout-bot/pkg/knowledge"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
)

// CleanupJob is the payload on the cleanup topic.
type CleanupJob struct {
	UserID    string   `json:"user_id"`
	Keys      []string `json:"keys"`
	Attempt   int      `json:"attempt"`
	LastError string   `json:"last_error,omitempty"`
}

// CleanupQueue publishes keys a reset could not delete.
type CleanupQueue struct {
	publisher message.Publisher
	topic     string
	events    *EventPublisher
}

var _ ICleanupQueue = (*CleanupQueue)(nil)

func NewCleanupQueue(publisher message.Publisher, topic string, events *EventPublisher) *CleanupQueue {
	return &CleanupQueue{publisher: publisher, topic: topic, events: events}
}

func (q *CleanupQueue) Enqueue(ctx context.Context, user entity.UserID, keys []string) error {
	if err := publishJob(q.publisher, q.topic, CleanupJob{UserID: string(user), Keys: keys}); err != nil {
		return err
	}
	q.events.Emit(ctx, constant.EventResetCleanupPending, map[string]interface{}{
		"user_id": string(user),
		"keys":    keys,
	})
	return nil
}

func publishJob(publisher message.Publisher, topic string, job CleanupJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal cleanup job: %w", err)
	}
	if err := publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("publish cleanup job: %w", err)
	}
	return nil
}

// IKeyOwner deletes a leftover key on behalf of its user, skipping keys that a
// new upload reused after the reset that orphaned them.
type IKeyOwner interface {
	DeleteIfUnused(ctx context.Context, user entity.UserID, key string, del DeleteFunc) (bool, error)
}

type CleanupConfig struct {
	Topic       string
	MaxAttempts int
	// RetryInterval is the first delay between delete tries inside one attempt.
	RetryInterval time.Duration
	// RequeueDelay is the first delay before a failed job is published again.
	RequeueDelay time.Duration
}

type ICleanupPubSub interface {
	message.Publisher
	message.Subscriber
}

// CleanupService consumes the cleanup topic and sweeps orphaned keys at start.
type CleanupService struct {
	pubSub  ICleanupPubSub
	backend knowledge.Backend
	ledger  contract.KeyLedger
	owner   IKeyOwner
	mailer  mailer.IEmailService
	events  *EventPublisher
	logger  logger.ILogger
	cfg     CleanupConfig

	afterFunc func(d time.Duration, f func())
}

func NewCleanupService(
	pubSub ICleanupPubSub,
	backend knowledge.Backend,
	ledger contract.KeyLedger,
	owner IKeyOwner,
	alertMailer mailer.IEmailService,
	events *EventPublisher,
	log logger.ILogger,
	cfg CleanupConfig,
) *CleanupService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = 10 * time.Second
	}
	return &CleanupService{
		pubSub:  pubSub,
		backend: backend,
		ledger:  ledger,
		owner:   owner,
		mailer:  alertMailer,
		events:  events,
		logger:  log,
		cfg:     cfg,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (cs *CleanupService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.cfg.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()
	return nil
}

func (cs *CleanupService) processMessage(ctx context.Context, msg *message.Message) {
	var job CleanupJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		cs.logger.Error(constant.ModuleCleanup, "Dropping malformed cleanup job", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack()
		return
	}
	user := entity.UserID(job.UserID)

	var (
		deleted   []string
		remaining []string
		lastErr   error
	)
	for _, key := range job.Keys {
		if key == constant.BookKey {
			continue
		}
		removed, err := cs.owner.DeleteIfUnused(ctx, user, key, cs.deleteWithRetry)
		if err != nil {
			remaining = append(remaining, key)
			lastErr = err
			continue
		}
		if !removed {
			// A new upload reused the index and overwrote the stale chunks.
			cs.logger.Info(constant.ModuleCleanup, "Key reused by a new upload, skipping", map[string]interface{}{
				"key": key,
			})
			continue
		}
		deleted = append(deleted, key)
	}

	if len(remaining) == 0 {
		cs.logger.Info(constant.ModuleCleanup, "Cleanup job done", map[string]interface{}{
			"user_id": user,
			"deleted": deleted,
		})
		msg.Ack()
		return
	}

	next := CleanupJob{
		UserID:    job.UserID,
		Keys:      remaining,
		Attempt:   job.Attempt + 1,
		LastError: lastErr.Error(),
	}

	if next.Attempt >= cs.cfg.MaxAttempts {
		cs.giveUp(ctx, next)
		msg.Ack()
		return
	}

	delay := cs.requeueDelay(next.Attempt)
	cs.logger.Warn(constant.ModuleCleanup, "Cleanup incomplete, requeueing", map[string]interface{}{
		"user_id": user,
		"keys":    remaining,
		"attempt": next.Attempt,
		"delay":   delay.String(),
		"error":   next.LastError,
	})
	cs.afterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := publishJob(cs.pubSub, cs.cfg.Topic, next); err != nil {
			cs.logger.Error(constant.ModuleCleanup, "Requeue failed", map[string]interface{}{
				"user_id": user,
				"error":   err.Error(),
			})
		}
	})
	msg.Ack()
}

func (cs *CleanupService) deleteWithRetry(ctx context.Context, key string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cs.cfg.RetryInterval
	b.MaxInterval = 10 * cs.cfg.RetryInterval
	b.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, cs.backend.Delete(ctx, key)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
	return err
}

// requeueDelay grows exponentially with the attempt number.
func (cs *CleanupService) requeueDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cs.cfg.RequeueDelay
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * time.Minute
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (cs *CleanupService) giveUp(ctx context.Context, job CleanupJob) {
	cs.logger.Error(constant.ModuleCleanup, "Cleanup gave up", map[string]interface{}{
		"user_id":  job.UserID,
		"keys":     job.Keys,
		"attempts": job.Attempt,
		"error":    job.LastError,
	})
	cs.events.Emit(ctx, constant.EventCleanupExhausted, map[string]interface{}{
		"user_id":  job.UserID,
		"keys":     job.Keys,
		"attempts": job.Attempt,
	})
	if cs.mailer == nil {
		return
	}
	if err := cs.mailer.SendCleanupAlert(job.UserID, job.Keys, job.Attempt, job.LastError); err != nil {
		cs.logger.Error(constant.ModuleCleanup, "Alert mail failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// SweepOrphans deletes every ledgered key. Sessions live in memory, so at
// startup no user owns a document and everything in the ledger is orphaned.
func (cs *CleanupService) SweepOrphans(ctx context.Context) (int, error) {
	users, err := cs.ledger.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ledger users: %w", err)
	}

	var (
		swept int
		errs  []error
	)
	for _, user := range users {
		keys, err := cs.ledger.Keys(ctx, user)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		var deleted []string
		for _, key := range keys {
			if key == constant.BookKey {
				continue
			}
			if err := cs.backend.Delete(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			deleted = append(deleted, key)
		}
		if len(deleted) == 0 {
			continue
		}
		if err := cs.ledger.Remove(ctx, user, deleted...); err != nil {
			errs = append(errs, err)
		}
		swept += len(deleted)
	}

	cs.logger.Info(constant.ModuleCleanup, "Orphan sweep finished", map[string]interface{}{
		"users": len(users),
		"swept": swept,
	})
	return swept, errors.Join(errs...)
}
