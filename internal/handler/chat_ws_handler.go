package handler

import (
	"context"

	"ragout-bot/internal/constant"
	"ragout-bot/internal/pkg/logger"
	"ragout-bot/internal/pkg/serverutils"
	"ragout-bot/internal/service"
	internalWS "ragout-bot/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ChatHandler serves the browser chat channel. Each text frame is routed
// through the dispatcher like a Telegram message and the reply is pushed
// to every open connection of the same user.
type ChatHandler struct {
	dispatcher service.IDispatcher
	hub        *internalWS.Hub
	jwtSecret  string
	logger     logger.ILogger
}

func NewChatHandler(dispatcher service.IDispatcher, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *ChatHandler {
	return &ChatHandler{
		dispatcher: dispatcher,
		hub:        hub,
		jwtSecret:  jwtSecret,
		logger:     log,
	}
}

// ServeWs authenticates the handshake and upgrades the connection.
// Browsers pass the token as ?token=, other tools use the Authorization header.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c)
	}
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token (Query 'token' or Header 'Authorization')"})
	}

	userID, err := serverutils.ParseUserToken(h.jwtSecret, tokenStr)
	if err != nil {
		h.logger.Warn(constant.ModuleWebsocket, "Invalid token in WS handshake", nil)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(constant.ModuleWebsocket, "Chat session started", map[string]interface{}{"user_id": userID})
		ctx := context.Background()
		internalWS.ServeWs(h.hub, conn, userID, func(text string) {
			reply := h.dispatcher.Route(ctx, userID, text)
			h.hub.Deliver(ctx, userID, internalWS.Frame{Type: "reply", Question: text, Text: reply})
		})
		h.logger.Info(constant.ModuleWebsocket, "Chat session ended", map[string]interface{}{"user_id": userID})
	})(c)
}

func (h *ChatHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/chat", h.ServeWs)
}
