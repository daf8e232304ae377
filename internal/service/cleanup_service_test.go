package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPubSub struct {
	mu        sync.Mutex
	published []CleanupJob
}

func (p *recordingPubSub) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		var job CleanupJob
		if err := json.Unmarshal(m.Payload, &job); err != nil {
			return err
		}
		p.published = append(p.published, job)
	}
	return nil
}

func (p *recordingPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (p *recordingPubSub) Close() error { return nil }

type fakeMailer struct {
	alerts [][]string
}

func (m *fakeMailer) SendCleanupAlert(user string, keys []string, attempts int, lastErr string) error {
	m.alerts = append(m.alerts, keys)
	return nil
}

type cleanupRig struct {
	*testRig
	pubSub  *recordingPubSub
	mailer  *fakeMailer
	svc     *CleanupService
	delays  []time.Duration
	pending []func()
}

func newCleanupRig(maxAttempts int) *cleanupRig {
	base := newTestRig()
	rig := &cleanupRig{testRig: base, pubSub: &recordingPubSub{}, mailer: &fakeMailer{}}
	rig.svc = NewCleanupService(rig.pubSub, base.backend, base.ledger, base.registry, rig.mailer, nil,
		logger.NewNopLogger(), CleanupConfig{
			Topic:         "RESET_CLEANUP",
			MaxAttempts:   maxAttempts,
			RetryInterval: time.Millisecond,
			RequeueDelay:  time.Second,
		})
	rig.svc.afterFunc = func(d time.Duration, f func()) {
		rig.delays = append(rig.delays, d)
		rig.pending = append(rig.pending, f)
	}
	return rig
}

func jobMessage(t *testing.T, job CleanupJob) *message.Message {
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload)
}

func acked(msg *message.Message) bool {
	select {
	case <-msg.Acked():
		return true
	default:
		return false
	}
}

func TestCleanupDeletesAndAcks(t *testing.T) {
	rig := newCleanupRig(5)
	ctx := context.Background()
	require.NoError(t, rig.ledger.Add(ctx, "u1", "u1_0"))
	require.NoError(t, rig.ledger.Add(ctx, "u1", "u1_1"))

	msg := jobMessage(t, CleanupJob{UserID: "u1", Keys: []string{"u1_0", "u1_1", constant.BookKey}})
	rig.svc.processMessage(ctx, msg)

	assert.True(t, acked(msg))
	assert.ElementsMatch(t, []string{"u1_0", "u1_1"}, rig.backend.deleted)
	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Empty(t, keys)
	assert.Empty(t, rig.pending)
}

func TestCleanupRequeuesWithNextAttempt(t *testing.T) {
	rig := newCleanupRig(5)
	ctx := context.Background()
	rig.backend.deleteErr["u1_1"] = errBackendDown

	msg := jobMessage(t, CleanupJob{UserID: "u1", Keys: []string{"u1_0", "u1_1"}, Attempt: 1})
	rig.svc.processMessage(ctx, msg)

	assert.True(t, acked(msg))
	require.Len(t, rig.pending, 1)
	assert.Empty(t, rig.pubSub.published, "requeue waits for the delay")

	rig.pending[0]()
	require.Len(t, rig.pubSub.published, 1)
	next := rig.pubSub.published[0]
	assert.Equal(t, []string{"u1_1"}, next.Keys)
	assert.Equal(t, 2, next.Attempt)
	assert.Contains(t, next.LastError, "backend down")
}

func TestCleanupGivesUpAndAlerts(t *testing.T) {
	rig := newCleanupRig(3)
	ctx := context.Background()
	rig.backend.deleteErr["u1_0"] = errBackendDown

	msg := jobMessage(t, CleanupJob{UserID: "u1", Keys: []string{"u1_0"}, Attempt: 2})
	rig.svc.processMessage(ctx, msg)

	assert.True(t, acked(msg))
	assert.Empty(t, rig.pending)
	assert.Equal(t, [][]string{{"u1_0"}}, rig.mailer.alerts)
}

func TestCleanupSkipsKeysReusedByNewUpload(t *testing.T) {
	rig := newCleanupRig(5)
	ctx := context.Background()
	_, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "new.txt", "fresh content")
	require.NoError(t, err)

	msg := jobMessage(t, CleanupJob{UserID: "u1", Keys: []string{"u1_0"}})
	rig.svc.processMessage(ctx, msg)

	assert.True(t, acked(msg))
	assert.Empty(t, rig.backend.deleted)
	assert.True(t, rig.backend.has("u1_0"))
}

func TestCleanupHoldsUserLockAgainstConcurrentUpload(t *testing.T) {
	rig := newCleanupRig(5)
	ctx := context.Background()
	require.NoError(t, rig.ledger.Add(ctx, "u1", "u1_0"))

	uploaded := make(chan error, 1)
	rig.backend.onDelete = func(key string) {
		go func() {
			_, err := rig.registry.LoadDocumentCorpus(ctx, "u1", "new.txt", "fresh content")
			uploaded <- err
		}()
		select {
		case <-uploaded:
			t.Error("upload ran while the stale key was being deleted")
		case <-time.After(20 * time.Millisecond):
		}
	}

	msg := jobMessage(t, CleanupJob{UserID: "u1", Keys: []string{"u1_0"}})
	rig.svc.processMessage(ctx, msg)
	assert.True(t, acked(msg))

	select {
	case err := <-uploaded:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upload never finished")
	}

	docs, err := rig.registry.ListDocuments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []DocumentSummary{{Index: 0, Name: "new.txt"}}, docs)
	assert.True(t, rig.backend.has("u1_0"))
	keys, _ := rig.ledger.Keys(ctx, "u1")
	assert.Equal(t, []string{"u1_0"}, keys)
}

func TestCleanupAcksMalformedJobs(t *testing.T) {
	rig := newCleanupRig(5)
	msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	rig.svc.processMessage(context.Background(), msg)
	assert.True(t, acked(msg))
}

func TestRequeueDelayGrows(t *testing.T) {
	rig := newCleanupRig(5)
	first := rig.svc.requeueDelay(1)
	second := rig.svc.requeueDelay(2)
	third := rig.svc.requeueDelay(3)

	assert.Equal(t, time.Second, first)
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
}

func TestSweepOrphans(t *testing.T) {
	rig := newCleanupRig(5)
	ctx := context.Background()
	for _, k := range []string{"u1_0", "u1_1"} {
		require.NoError(t, rig.ledger.Add(ctx, "u1", k))
	}
	require.NoError(t, rig.ledger.Add(ctx, "u2", "u2_0"))
	rig.backend.deleteErr["u2_0"] = errBackendDown

	swept, err := rig.svc.SweepOrphans(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, swept)

	users, _ := rig.ledger.Users(ctx)
	assert.Equal(t, []entity.UserID{"u2"}, users)
}

func TestCleanupQueueThroughGoChannel(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := newTestRig()
	svc := NewCleanupService(pubSub, base.backend, base.ledger, base.registry, nil, nil,
		logger.NewNopLogger(), CleanupConfig{Topic: "RESET_CLEANUP", RetryInterval: time.Millisecond})
	require.NoError(t, svc.Consume(ctx))

	queue := NewCleanupQueue(pubSub, "RESET_CLEANUP", nil)
	require.NoError(t, queue.Enqueue(ctx, "u9", []string{"u9_0"}))

	assert.Eventually(t, func() bool {
		base.backend.mu.Lock()
		defer base.backend.mu.Unlock()
		return len(base.backend.deleted) == 1 && base.backend.deleted[0] == "u9_0"
	}, time.Second, 5*time.Millisecond)
}
