package websocket

import (
	"ragout-bot/internal/entity"

	"github.com/gofiber/websocket/v2"
)

// ServeWs registers the connection and blocks in the read loop.
func ServeWs(hub *Hub, c *websocket.Conn, userID entity.UserID, handle MessageHandler) {
	client := &Client{Hub: hub, Conn: c, UserID: userID, Send: make(chan []byte, 64)}
	if !hub.join(client) {
		c.Close()
		return
	}

	go client.writePump()
	client.readPump(handle)
}
