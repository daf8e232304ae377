package controller

import (
	"context"
	"crypto/subtle"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/transport/telegram"

	"github.com/gofiber/fiber/v2"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// IUpdateQueue accepts webhook updates for asynchronous handling.
type IUpdateQueue interface {
	Enqueue(ctx context.Context, u telegram.Update)
}

type ITelegramController interface {
	RegisterRoutes(r fiber.Router)
	Webhook(ctx *fiber.Ctx) error
}

type telegramController struct {
	queue  IUpdateQueue
	secret string
	// runCtx outlives the request; handling continues after the 200 is sent.
	runCtx context.Context
	logger logger.ILogger
}

func NewTelegramController(runCtx context.Context, queue IUpdateQueue, secret string, log logger.ILogger) ITelegramController {
	return &telegramController{
		queue:  queue,
		secret: secret,
		runCtx: runCtx,
		logger: log,
	}
}

func (c *telegramController) RegisterRoutes(r fiber.Router) {
	r.Post("/telegram/webhook", c.Webhook)
}

// Webhook acknowledges quickly so Telegram does not redeliver while a slow
// answer is being generated.
func (c *telegramController) Webhook(ctx *fiber.Ctx) error {
	if c.secret != "" {
		got := ctx.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(c.secret)) != 1 {
			c.logger.Warn(constant.ModuleTelegram, "Webhook call with wrong secret", map[string]interface{}{"ip": ctx.IP()})
			return ctx.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var update telegram.Update
	if err := ctx.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid update")
	}

	c.queue.Enqueue(c.runCtx, update)
	return ctx.SendStatus(fiber.StatusOK)
}
