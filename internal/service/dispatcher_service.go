package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"ragout-bot/internal/config"
	"ragout-bot/internal/constant"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/pkg/ingest"
	"ragout-bot/pkg/knowledge"
	"ragout-bot/pkg/llm"
)

// IDispatcher is the inbound surface shared by every transport. Each call
// returns exactly one reply text and never fails.
type IDispatcher interface {
	OnStart(ctx context.Context, user entity.UserID) string
	OnHelp(ctx context.Context, user entity.UserID) string
	OnDocumentUploaded(ctx context.Context, user entity.UserID, filename string, raw []byte) string
	OnSelect(ctx context.Context, user entity.UserID) string
	OnDocumentChosen(ctx context.Context, user entity.UserID, index int) string
	OnReset(ctx context.Context, user entity.UserID) string
	OnQuestion(ctx context.Context, user entity.UserID, text string) string
	Route(ctx context.Context, user entity.UserID, text string) string
}

// IDocumentArchive keeps the original uploads. Optional.
type IDocumentArchive interface {
	Store(ctx context.Context, user entity.UserID, index int, filename string, data []byte) error
	RemoveUser(ctx context.Context, user entity.UserID) error
}

type Dispatcher struct {
	registry     ISessionRegistry
	conversation IConversationService
	archive      IDocumentArchive
	msgs         config.Messages
	logger       logger.ILogger
}

var _ IDispatcher = (*Dispatcher)(nil)

func NewDispatcher(
	registry ISessionRegistry,
	conversation IConversationService,
	archive IDocumentArchive,
	msgs config.Messages,
	log logger.ILogger,
) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		conversation: conversation,
		archive:      archive,
		msgs:         msgs,
		logger:       log,
	}
}

// recoverReply turns a panic in a handler into the generic failure text.
func (d *Dispatcher) recoverReply(user entity.UserID, event string, reply *string) {
	if r := recover(); r != nil {
		d.logger.Error(constant.ModuleDispatcher, "Handler panicked", map[string]interface{}{
			"user_id": user,
			"event":   event,
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
		})
		*reply = d.msgs.Failure
	}
}

func fill(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}

func (d *Dispatcher) OnStart(ctx context.Context, user entity.UserID) (reply string) {
	defer d.recoverReply(user, "start", &reply)
	if _, err := d.registry.GetOrCreateConversation(ctx, user); err != nil {
		d.logger.Warn(constant.ModuleDispatcher, "Could not open conversation", map[string]interface{}{
			"user_id": user,
			"error":   err.Error(),
		})
	}
	return d.msgs.Start
}

func (d *Dispatcher) OnHelp(ctx context.Context, user entity.UserID) string {
	return d.msgs.Help
}

func (d *Dispatcher) OnDocumentUploaded(ctx context.Context, user entity.UserID, filename string, raw []byte) (reply string) {
	defer d.recoverReply(user, "upload", &reply)

	text, err := ingest.ExtractText(raw, filename)
	if err != nil {
		d.logger.Warn(constant.ModuleDispatcher, "Document extraction failed", map[string]interface{}{
			"user_id":  user,
			"filename": filename,
			"size":     len(raw),
			"error":    err.Error(),
		})
		return d.msgs.UploadFailed
	}

	record, err := d.registry.LoadDocumentCorpus(ctx, user, filename, text)
	if err != nil {
		d.logger.Error(constant.ModuleDispatcher, "Document indexing failed", map[string]interface{}{
			"user_id":  user,
			"filename": filename,
			"error":    err.Error(),
		})
		return d.msgs.UploadFailed
	}

	if d.archive != nil {
		if err := d.archive.Store(ctx, user, record.Index, filename, raw); err != nil {
			d.logger.Warn(constant.ModuleDispatcher, "Upload archive failed", map[string]interface{}{
				"user_id": user,
				"error":   err.Error(),
			})
		}
	}

	return fill(d.msgs.UploadOK, "{name}", filename)
}

func (d *Dispatcher) OnSelect(ctx context.Context, user entity.UserID) (reply string) {
	defer d.recoverReply(user, "select", &reply)

	docs, err := d.registry.ListDocuments(ctx, user)
	if err != nil {
		return d.failure(user, "select", err)
	}
	if len(docs) == 0 {
		return d.msgs.SelectEmpty
	}

	var b strings.Builder
	b.WriteString(d.msgs.SelectHeader)
	for _, doc := range docs {
		fmt.Fprintf(&b, "\n%d: %s", doc.Index+1, doc.Name)
	}
	return b.String()
}

// OnDocumentChosen takes the 0-based document index.
func (d *Dispatcher) OnDocumentChosen(ctx context.Context, user entity.UserID, index int) (reply string) {
	defer d.recoverReply(user, "choose", &reply)

	doc, err := d.registry.SelectActiveDocument(ctx, user, index)
	if errors.Is(err, ErrSelection) {
		return d.msgs.InvalidSelection
	}
	if err != nil {
		return d.failure(user, "choose", err)
	}
	return fill(d.msgs.Chosen, "{name}", doc.Name)
}

func (d *Dispatcher) OnReset(ctx context.Context, user entity.UserID) (reply string) {
	defer d.recoverReply(user, "reset", &reply)

	err := d.registry.ResetUser(ctx, user)

	if d.archive != nil {
		if archErr := d.archive.RemoveUser(ctx, user); archErr != nil {
			d.logger.Warn(constant.ModuleDispatcher, "Upload archive cleanup failed", map[string]interface{}{
				"user_id": user,
				"error":   archErr.Error(),
			})
		}
	}

	switch {
	case err == nil:
		return d.msgs.Reset
	case errors.Is(err, ErrResetFailure):
		return d.msgs.ResetPartial
	default:
		return d.failure(user, "reset", err)
	}
}

func (d *Dispatcher) OnQuestion(ctx context.Context, user entity.UserID, text string) (reply string) {
	defer d.recoverReply(user, "question", &reply)

	question := strings.TrimSpace(text)
	if question == "" {
		return d.msgs.EmptyQuestion
	}

	answer, err := d.conversation.Ask(ctx, user, question)
	switch {
	case err == nil:
		return answer
	case errors.Is(err, knowledge.ErrNoData):
		return d.msgs.NoData
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn(constant.ModuleDispatcher, "Question gave up", map[string]interface{}{
			"user_id": user,
			"error":   err.Error(),
		})
		return d.msgs.Busy
	default:
		return d.failure(user, "question", err)
	}
}

// Route parses a free-form inbound text: a command, a 1-based document
// number, or a question.
func (d *Dispatcher) Route(ctx context.Context, user entity.UserID, text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "/") {
		command := strings.Fields(text)[0]
		// "/start@ragout_bot" in group chats
		if at := strings.IndexByte(command, '@'); at >= 0 {
			command = command[:at]
		}
		switch strings.ToLower(command) {
		case "/start":
			return d.OnStart(ctx, user)
		case "/help":
			return d.OnHelp(ctx, user)
		case "/select":
			return d.OnSelect(ctx, user)
		case "/reset":
			return d.OnReset(ctx, user)
		default:
			return d.OnHelp(ctx, user)
		}
	}

	if n, err := strconv.Atoi(text); err == nil {
		return d.OnDocumentChosen(ctx, user, n-1)
	}
	return d.OnQuestion(ctx, user, text)
}

func (d *Dispatcher) failure(user entity.UserID, event string, err error) string {
	d.logger.Error(constant.ModuleDispatcher, "Request failed", map[string]interface{}{
		"user_id": user,
		"event":   event,
		"error":   err.Error(),
	})
	return d.msgs.Failure
}
