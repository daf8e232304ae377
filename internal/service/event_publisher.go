package service

import (
	"context"
	"time"

	"ragout-bot/internal/pkg/logger"
	"ragout-bot/pkg/events"
)

// IEventBus is satisfied by the NATS publisher.
type IEventBus interface {
	Publish(ctx context.Context, event events.Event) error
}

// EventPublisher emits domain events without ever failing the caller. A nil
// *EventPublisher, or one without a bus, drops events.
type EventPublisher struct {
	bus    IEventBus
	logger logger.ILogger
}

func NewEventPublisher(bus IEventBus, log logger.ILogger) *EventPublisher {
	return &EventPublisher{bus: bus, logger: log}
}

func (p *EventPublisher) Emit(ctx context.Context, eventType string, data map[string]interface{}) {
	if p == nil || p.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := p.bus.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		p.logger.Warn("EVENTS", "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
