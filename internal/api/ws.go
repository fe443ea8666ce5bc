package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/chat-core/internal/service"
)

// clientFrame is what a connected client may send upstream over the
// socket: typing signals and receipt acknowledgements.
type clientFrame struct {
	Action    string `json:"action"` // typing | read | delivered
	MessageID string `json:"message_id,omitempty"`
}

func registerWS(g fiber.Router, svc *service.Service) {
	g.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// per-chat stream: live message/chat events scoped to one chat.
	g.Get("/ws/chats/:chat_id", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		chatID := conn.Params("chat_id")

		sub, err := svc.Open(context.Background(), chatID, userID)
		if err != nil {
			_ = conn.WriteJSON(fiber.Map{"error": err.Error()})
			_ = conn.Close()
			return
		}
		defer sub.Cancel()

		svc.Online(context.Background(), userID)
		defer svc.Offline(context.Background(), userID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame clientFrame
				if err := json.Unmarshal(data, &frame); err != nil {
					continue
				}
				handleFrame(svc, chatID, userID, frame)
			}
		}()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					_ = conn.Close()
					<-done
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))

	// cross-chat stream: everything relevant to the authenticated user.
	g.Get("/ws/me", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)

		sub := svc.Watch(userID)
		defer sub.Cancel()

		svc.Online(context.Background(), userID)
		defer svc.Offline(context.Background(), userID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					_ = conn.Close()
					<-done
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
}

func handleFrame(svc *service.Service, chatID, userID string, frame clientFrame) {
	ctx := context.Background()
	switch frame.Action {
	case "typing":
		_ = svc.Typing(ctx, chatID, userID)
	case "read":
		if frame.MessageID != "" {
			_ = svc.MarkRead(ctx, frame.MessageID, userID)
		}
	case "delivered":
		if frame.MessageID != "" {
			_ = svc.MarkDelivered(ctx, frame.MessageID, userID)
		}
	}
}
