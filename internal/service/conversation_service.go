package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/pkg/llm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var conversationTracer = otel.Tracer("ragout-bot/internal/service/conversation")

type IConversationService interface {
	Ask(ctx context.Context, user entity.UserID, question string) (string, error)
}

// RetryPolicy bounds how long a rate-limited exchange keeps trying.
type RetryPolicy struct {
	Initial     time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Jitter is the largest random extra wait as a fraction of the backoff.
	Jitter  float64
	Timeout time.Duration
}

type ConversationService struct {
	registry  ISessionRegistry
	retrieval IRetrievalService
	llm       llm.LLMProvider
	policy    RetryPolicy
	logger    logger.ILogger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

var _ IConversationService = (*ConversationService)(nil)

func NewConversationService(
	registry ISessionRegistry,
	retrieval IRetrievalService,
	provider llm.LLMProvider,
	policy RetryPolicy,
	log logger.ILogger,
) *ConversationService {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &ConversationService{
		registry:  registry,
		retrieval: retrieval,
		llm:       provider,
		policy:    policy,
		logger:    log,
		sleep:     sleepCtx,
		jitter:    randomJitter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Ask answers question from the user's current document. The first question
// about a document carries the retrieved passages; later ones are plain turns.
func (s *ConversationService) Ask(ctx context.Context, user entity.UserID, question string) (reply string, err error) {
	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}

	ctx, span := conversationTracer.Start(ctx, "conversation.Ask")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("user.id", string(user)))

	return s.registry.Converse(ctx, user, func(ctx context.Context, turn *Turn) (Exchange, error) {
		span.SetAttributes(attribute.String("document.key", turn.TargetKey))

		userMessage := question
		grounded := turn.Conversation.GroundedKey
		if turn.TargetKey != grounded {
			prompt, err := s.retrieval.Compose(ctx, turn.TargetKey, question)
			if err != nil {
				return Exchange{}, err
			}
			userMessage = prompt
			grounded = turn.TargetKey
		}

		history := make([]llm.Message, 0, turn.Conversation.Len()+1)
		for _, m := range turn.Conversation.Messages {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
		history = append(history, llm.Message{Role: constant.ChatMessageRoleUser, Content: userMessage})

		answer, err := s.generate(ctx, turn, history)
		if err != nil {
			return Exchange{}, err
		}
		return Exchange{UserMessage: userMessage, AssistantMessage: answer, GroundedKey: grounded}, nil
	})
}

// generate retries rate-limited calls. turn.Backoff is the wait before the next
// retry and doubles after each one, up to MaxDelay.
func (s *ConversationService) generate(ctx context.Context, turn *Turn, history []llm.Message) (string, error) {
	for attempt := 1; ; attempt++ {
		answer, err := s.llm.Chat(ctx, history)
		if err == nil {
			return answer, nil
		}
		if !errors.Is(err, llm.ErrRateLimited) {
			return "", fmt.Errorf("generate reply: %w", err)
		}
		if attempt >= s.policy.MaxAttempts {
			return "", &RateLimitedError{Attempts: attempt, Last: err}
		}

		if turn.Backoff <= 0 {
			turn.Backoff = s.policy.Initial
		}
		wait := turn.Backoff + s.jitter(time.Duration(float64(turn.Backoff)*s.policy.Jitter))
		var rle *llm.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > wait {
			wait = rle.RetryAfter
		}

		s.logger.Warn(constant.ModuleConversation, "Rate limited, backing off", map[string]interface{}{
			"user_id": turn.User,
			"attempt": attempt,
			"wait":    wait.String(),
		})
		if err := s.sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("waiting out rate limit: %w", err)
		}

		turn.Backoff *= 2
		if s.policy.MaxDelay > 0 && turn.Backoff > s.policy.MaxDelay {
			turn.Backoff = s.policy.MaxDelay
		}
	}
}
