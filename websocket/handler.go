package websocket

import (
	"net/http"

	"github.com/HSouheill/enrollment_backend/services"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleSessionWebSocket subscribes the browser to the result of one payment
// session. A session that already has a result gets it immediately.
func HandleSessionWebSocket(c echo.Context, hub *Hub, registry *services.SessionRegistry) error {
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		SessionID: sessionID,
		Conn:      conn,
	}

	hub.register <- client

	client.send(Notification{
		Type:      NotificationTypeConnected,
		Message:   "Waiting for the payment result",
		SessionID: sessionID,
	})
	if res, ok := registry.Result(sessionID); ok {
		client.deliver(res)
	}

	// Handle disconnection
	go func() {
		defer func() {
			hub.unregister <- client
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	return nil
}
