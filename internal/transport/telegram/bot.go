// Package telegram connects the dispatcher to the Telegram Bot API, either by
// long polling or through a webhook.
package telegram

import (
	"context"
	"sync"
	"time"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/service"

	"golang.org/x/sync/semaphore"
)

// MaxUploadBytes is the largest file the Bot API lets bots download.
const MaxUploadBytes = 20 << 20

type Config struct {
	Workers     int
	PollTimeout int // seconds
}

// Bot processes updates on a bounded pool of workers. Updates of one chat are
// handled one at a time and in arrival order.
type Bot struct {
	client     *Client
	dispatcher service.IDispatcher
	logger     logger.ILogger
	cfg        Config
	sem        *semaphore.Weighted

	mu     sync.Mutex
	queues map[int64][]Update
	wg     sync.WaitGroup
}

func NewBot(client *Client, dispatcher service.IDispatcher, log logger.ILogger, cfg Config) *Bot {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Bot{
		client:     client,
		dispatcher: dispatcher,
		logger:     log,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		queues:     make(map[int64][]Update),
	}
}

// RunPolling long-polls getUpdates until ctx ends, then waits for in-flight
// updates.
func (b *Bot) RunPolling(ctx context.Context) error {
	if err := b.client.DeleteWebhook(ctx); err != nil {
		b.logger.Warn(constant.ModuleTelegram, "deleteWebhook failed", map[string]interface{}{"error": err.Error()})
	}
	b.logger.Info(constant.ModuleTelegram, "Polling started", map[string]interface{}{"workers": b.cfg.Workers})

	var offset int64
	for ctx.Err() == nil {
		updates, err := b.client.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.logger.Warn(constant.ModuleTelegram, "getUpdates failed", map[string]interface{}{"error": err.Error()})
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			b.Enqueue(ctx, u)
		}
	}

	b.wg.Wait()
	b.logger.Info(constant.ModuleTelegram, "Polling stopped", nil)
	return nil
}

// Enqueue schedules u. It returns immediately; the reply is sent by a worker.
func (b *Bot) Enqueue(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	chat := u.Message.Chat.ID

	b.mu.Lock()
	if q, busy := b.queues[chat]; busy {
		b.queues[chat] = append(q, u)
		b.mu.Unlock()
		return
	}
	b.queues[chat] = []Update{}
	b.mu.Unlock()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		b.mu.Lock()
		delete(b.queues, chat)
		b.mu.Unlock()
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.sem.Release(1)

		next := u
		for {
			b.Handle(ctx, next)

			b.mu.Lock()
			q := b.queues[chat]
			if len(q) == 0 {
				delete(b.queues, chat)
				b.mu.Unlock()
				return
			}
			next, b.queues[chat] = q[0], q[1:]
			b.mu.Unlock()
		}
	}()
}

// Wait blocks until every enqueued update was handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// Handle answers one update synchronously.
func (b *Bot) Handle(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	user := senderID(msg)

	var reply string
	if msg.Document != nil {
		reply = b.dispatcher.OnDocumentUploaded(ctx, user, msg.Document.FileName, b.download(ctx, msg.Document))
	} else {
		reply = b.dispatcher.Route(ctx, user, msg.Text)
	}

	if err := b.client.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		b.logger.Error(constant.ModuleTelegram, "sendMessage failed", map[string]interface{}{
			"chat_id": msg.Chat.ID,
			"error":   err.Error(),
		})
	}
}

// senderID keys sessions by the sender, so members of a group chat keep their
// own documents. Channel posts carry no sender and fall back to the chat.
func senderID(msg *Message) entity.UserID {
	if msg.From != nil {
		return entity.TelegramUser(msg.From.ID)
	}
	return entity.TelegramUser(msg.Chat.ID)
}

// download returns nil on any failure; the dispatcher answers an empty upload
// with the upload failure text.
func (b *Bot) download(ctx context.Context, doc *Document) []byte {
	if doc.FileSize > MaxUploadBytes {
		b.logger.Warn(constant.ModuleTelegram, "Upload too large", map[string]interface{}{
			"file": doc.FileName,
			"size": doc.FileSize,
		})
		return nil
	}
	f, err := b.client.GetFile(ctx, doc.FileID)
	if err != nil {
		b.logger.Warn(constant.ModuleTelegram, "getFile failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	data, err := b.client.DownloadFile(ctx, f.FilePath, MaxUploadBytes)
	if err != nil {
		b.logger.Warn(constant.ModuleTelegram, "Download failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return data
}
