package api

import (
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/chat-core/internal/auth"
	"github.com/fathima-sithara/chat-core/internal/metrics"
	"github.com/fathima-sithara/chat-core/internal/service"
)

// NewServer builds the fiber app: auth on everything under /v1,
// per-sender rate limiting on sends, prometheus on /metrics.
func NewServer(svc *service.Service, jv *auth.Validator, sendRatePerMinute int) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	h := newHandlers(svc)
	limiter := newSenderLimiter(sendRatePerMinute)

	v1 := app.Group("/v1")
	v1.Use(authMiddleware(jv))

	v1.Post("/chats", h.createChat)
	v1.Get("/chats", h.listChats)
	v1.Post("/chats/:chat_id/participants", h.addParticipants)
	v1.Delete("/chats/:chat_id/participants/me", h.leaveChat)
	v1.Patch("/chats/:chat_id/name", h.renameChat)
	v1.Get("/chats/:chat_id/messages", h.listMessages)
	v1.Post("/chats/:chat_id/messages", limiter, h.sendMessage)
	v1.Post("/chats/:chat_id/read", h.markChatRead)
	v1.Post("/chats/:chat_id/typing", h.typing)

	v1.Post("/messages/:msg_id/retry", h.retrySend)
	v1.Post("/messages/:msg_id/read", h.markRead)
	v1.Post("/messages/:msg_id/delivered", h.markDelivered)
	v1.Post("/messages/:msg_id/reactions", h.addReaction)
	v1.Delete("/messages/:msg_id/reactions/:symbol", h.removeReaction)
	v1.Patch("/messages/:msg_id", h.editMessage)
	v1.Delete("/messages/:msg_id", h.deleteForMe)

	v1.Get("/unread", h.unread)
	v1.Post("/signout", h.signOut)

	registerWS(v1, svc)

	return app
}

func authMiddleware(jv *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		token := ""
		switch {
		case strings.HasPrefix(hdr, "Bearer "):
			token = strings.TrimPrefix(hdr, "Bearer ")
		case c.Query("token") != "":
			// websocket clients cannot set headers
			token = c.Query("token")
		default:
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
		}
		userID, err := jv.UserID(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// newSenderLimiter caps message sends per authenticated user.
func newSenderLimiter(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		perMinute = 120
	}
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		mu.Lock()
		l, ok := limiters[userID]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute/4+1)
			limiters[userID] = l
		}
		mu.Unlock()
		if !l.Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
		}
		return c.Next()
	}
}
