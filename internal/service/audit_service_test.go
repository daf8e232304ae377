package service

import (
	"context"
	"errors"
	"testing"

	"ragout-bot/internal/constant"
	"ragout-bot/pkg/events"
	natsbus "ragout-bot/pkg/nats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	subject string
	durable string
	handler natsbus.EventHandler
}

func (s *fakeSource) Subscribe(ctx context.Context, subject, durableName string, handler natsbus.EventHandler) error {
	s.subject, s.durable, s.handler = subject, durableName, handler
	return nil
}

func TestAuditServiceWritesEveryEvent(t *testing.T) {
	source := &fakeSource{}
	audit := &recordingLogger{}
	svc := NewAuditService(source, audit)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, "events.>", source.subject)
	assert.Equal(t, "ragout-audit", source.durable)

	ev := events.NewEvent(constant.EventUserReset, map[string]interface{}{"user_id": "42"})
	require.NoError(t, source.handler(context.Background(), ev))

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, constant.ModuleAudit, entry.module)
	assert.Equal(t, constant.EventUserReset, entry.message)
	assert.Equal(t, "42", entry.details["user_id"])
	assert.Equal(t, ev.ID, entry.details["event_id"])
}

type fakeBus struct {
	published []events.Event
	err       error
}

func (b *fakeBus) Publish(ctx context.Context, event events.Event) error {
	b.published = append(b.published, event)
	return b.err
}

func TestEventPublisherNeverFailsTheCaller(t *testing.T) {
	var nilPublisher *EventPublisher
	assert.NotPanics(t, func() {
		nilPublisher.Emit(context.Background(), constant.EventUserReset, nil)
	})

	bus := &fakeBus{err: errors.New("nats down")}
	log := &recordingLogger{}
	p := NewEventPublisher(bus, log)
	p.Emit(context.Background(), constant.EventDocumentIngested, map[string]interface{}{"key": "u_0"})

	require.Len(t, bus.published, 1)
	assert.Equal(t, constant.EventDocumentIngested, bus.published[0].EventType())
	require.Len(t, log.entries, 1)
	assert.Equal(t, "warn", log.entries[0].level)
}
