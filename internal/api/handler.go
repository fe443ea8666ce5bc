package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/service"
)

type handlers struct {
	svc *service.Service
}

func newHandlers(svc *service.Service) *handlers {
	return &handlers{svc: svc}
}

func currentUser(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

// fail maps the error taxonomy onto HTTP statuses.
func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrPermission):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func (h *handlers) createChat(c *fiber.Ctx) error {
	var req struct {
		Participants []string `json:"participants"`
		IsGroup      bool     `json:"is_group"`
		GroupName    string   `json:"group_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	id, err := h.svc.CreateChat(c.Context(), currentUser(c), req.Participants, req.IsGroup, req.GroupName)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"chat_id": id})
}

func (h *handlers) listChats(c *fiber.Ctx) error {
	chats, err := h.svc.Chats(c.Context(), currentUser(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"chats": chats})
}

func (h *handlers) addParticipants(c *fiber.Ctx) error {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.svc.AddParticipants(c.Context(), c.Params("chat_id"), currentUser(c), req.UserIDs); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) leaveChat(c *fiber.Ctx) error {
	if err := h.svc.Leave(c.Context(), c.Params("chat_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) renameChat(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.svc.RenameChat(c.Context(), c.Params("chat_id"), currentUser(c), req.Name); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) listMessages(c *fiber.Ctx) error {
	msgs, err := h.svc.History(c.Context(), c.Params("chat_id"), currentUser(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (h *handlers) sendMessage(c *fiber.Ctx) error {
	var in service.SendInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	in.ChatID = c.Params("chat_id")
	msg, err := h.svc.Send(c.Context(), currentUser(c), in)
	if err != nil {
		if msg != nil {
			// durable write failed; the message is local in "failed"
			// state and the client may retry it
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": msg, "error": err.Error()})
		}
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

func (h *handlers) retrySend(c *fiber.Ctx) error {
	msg, err := h.svc.RetrySend(c.Context(), c.Params("msg_id"), currentUser(c))
	if err != nil {
		if msg != nil {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": msg, "error": err.Error()})
		}
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": msg})
}

func (h *handlers) markRead(c *fiber.Ctx) error {
	if err := h.svc.MarkRead(c.Context(), c.Params("msg_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) markChatRead(c *fiber.Ctx) error {
	if err := h.svc.MarkChatRead(c.Context(), c.Params("chat_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) markDelivered(c *fiber.Ctx) error {
	if err := h.svc.MarkDelivered(c.Context(), c.Params("msg_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) addReaction(c *fiber.Ctx) error {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.svc.React(c.Context(), c.Params("msg_id"), currentUser(c), req.Symbol); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) removeReaction(c *fiber.Ctx) error {
	if err := h.svc.Unreact(c.Context(), c.Params("msg_id"), currentUser(c), c.Params("symbol")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) editMessage(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.svc.Edit(c.Context(), c.Params("msg_id"), currentUser(c), req.Content); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) deleteForMe(c *fiber.Ctx) error {
	if err := h.svc.DeleteForMe(c.Context(), c.Params("msg_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) typing(c *fiber.Ctx) error {
	if err := h.svc.Typing(c.Context(), c.Params("chat_id"), currentUser(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) unread(c *fiber.Ctx) error {
	counts, total, err := h.svc.Unread(c.Context(), currentUser(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"per_chat": counts, "total": total})
}

func (h *handlers) signOut(c *fiber.Ctx) error {
	h.svc.SignOut(c.Context(), currentUser(c))
	return c.JSON(fiber.Map{"status": "ok"})
}
