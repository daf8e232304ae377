package service

import (
	"context"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/pkg/events"
	natsbus "ragout-bot/pkg/nats"
)

const auditDurable = "ragout-audit"

// IEventSource is satisfied by the NATS subscriber.
type IEventSource interface {
	Subscribe(ctx context.Context, subject, durableName string, handler natsbus.EventHandler) error
}

// AuditService copies every bus event into the isolated audit log.
type AuditService struct {
	source IEventSource
	audit  logger.ILogger
}

func NewAuditService(source IEventSource, audit logger.ILogger) *AuditService {
	return &AuditService{source: source, audit: audit}
}

func (s *AuditService) Start(ctx context.Context) error {
	return s.source.Subscribe(ctx, natsbus.SubjectPrefix+">", auditDurable, s.Handle)
}

func (s *AuditService) Handle(ctx context.Context, event events.Event) error {
	details := map[string]interface{}{
		"event_id":    event.EventID(),
		"occurred_at": event.Timestamp(),
	}
	for k, v := range event.Payload() {
		details[k] = v
	}
	s.audit.Info(constant.ModuleAudit, event.EventType(), details)
	return nil
}
