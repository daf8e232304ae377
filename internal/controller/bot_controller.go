package controller

import (
	"context"
	"io"

	"ragout-bot/internal/dto"
	"ragout-bot/internal/entity"
	"ragout-bot/internal/pkg/serverutils"
	"ragout-bot/internal/service"
	"ragout-bot/internal/transport/telegram"

	"github.com/gofiber/fiber/v2"
)

// IDocumentLister is the read side of the session registry used for listings.
type IDocumentLister interface {
	ListDocuments(ctx context.Context, user entity.UserID) ([]service.DocumentSummary, error)
	ActiveDocumentKey(ctx context.Context, user entity.UserID) (string, error)
}

type IBotController interface {
	RegisterRoutes(r fiber.Router)
	Start(ctx *fiber.Ctx) error
	Help(ctx *fiber.Ctx) error
	UploadDocument(ctx *fiber.Ctx) error
	ListDocuments(ctx *fiber.Ctx) error
	SelectDocument(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
	Ask(ctx *fiber.Ctx) error
}

type botController struct {
	dispatcher service.IDispatcher
	documents  IDocumentLister
	jwtSecret  string
}

func NewBotController(dispatcher service.IDispatcher, documents IDocumentLister, jwtSecret string) IBotController {
	return &botController{
		dispatcher: dispatcher,
		documents:  documents,
		jwtSecret:  jwtSecret,
	}
}

func (c *botController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/bot/v1")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("start", c.Start)
	h.Get("help", c.Help)
	h.Post("documents", c.UploadDocument)
	h.Get("documents", c.ListDocuments)
	h.Post("documents/:number/select", c.SelectDocument)
	h.Post("reset", c.Reset)
	h.Post("questions", c.Ask)
}

func reply(ctx *fiber.Ctx, text string) error {
	return ctx.JSON(serverutils.SuccessResponse("Success", dto.BotReplyResponse{Reply: text}))
}

func (c *botController) Start(ctx *fiber.Ctx) error {
	return reply(ctx, c.dispatcher.OnStart(ctx.UserContext(), serverutils.CurrentUser(ctx)))
}

func (c *botController) Help(ctx *fiber.Ctx) error {
	return reply(ctx, c.dispatcher.OnHelp(ctx.UserContext(), serverutils.CurrentUser(ctx)))
}

// UploadDocument expects a multipart form with a "file" field. Uploads share
// the Telegram size cap so both channels accept the same documents.
func (c *botController) UploadDocument(ctx *fiber.Ctx) error {
	header, err := ctx.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
	}
	if header.Size > telegram.MaxUploadBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "file is too large")
	}

	f, err := header.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, telegram.MaxUploadBytes))
	if err != nil {
		return err
	}

	user := serverutils.CurrentUser(ctx)
	return reply(ctx, c.dispatcher.OnDocumentUploaded(ctx.UserContext(), user, header.Filename, raw))
}

func (c *botController) ListDocuments(ctx *fiber.Ctx) error {
	user := serverutils.CurrentUser(ctx)

	docs, err := c.documents.ListDocuments(ctx.UserContext(), user)
	if err != nil {
		return err
	}
	activeKey, err := c.documents.ActiveDocumentKey(ctx.UserContext(), user)
	if err != nil {
		return err
	}

	res := dto.DocumentListResponse{Documents: make([]dto.DocumentResponse, len(docs))}
	for i, d := range docs {
		res.Documents[i] = dto.DocumentResponse{
			Number: d.Index + 1,
			Name:   d.Name,
			Active: entity.DocumentKey(user, d.Index) == activeKey,
		}
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list documents", res))
}

// SelectDocument takes the 1-based number shown by /select.
func (c *botController) SelectDocument(ctx *fiber.Ctx) error {
	number, err := ctx.ParamsInt("number")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "document number must be an integer")
	}
	return reply(ctx, c.dispatcher.OnDocumentChosen(ctx.UserContext(), serverutils.CurrentUser(ctx), number-1))
}

func (c *botController) Reset(ctx *fiber.Ctx) error {
	return reply(ctx, c.dispatcher.OnReset(ctx.UserContext(), serverutils.CurrentUser(ctx)))
}

func (c *botController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	return reply(ctx, c.dispatcher.OnQuestion(ctx.UserContext(), serverutils.CurrentUser(ctx), req.Text))
}
