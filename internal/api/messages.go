package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ammar1510/chatline/internal/chat"
	"github.com/ammar1510/chatline/internal/models"
)

// ChatService is what the message routes need from the chat package.
type ChatService interface {
	Submit(ctx context.Context, userID, friendID, content, tempID string) ([]*models.Message, error)
	History(ctx context.Context, userID, friendID string, limit, page int) ([]*models.Message, error)
}

// MessageHandler handles message-related routes
type MessageHandler struct {
	Chat ChatService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(svc ChatService) *MessageHandler {
	return &MessageHandler{Chat: svc}
}

// statusFor maps a chat error to an HTTP status.
func statusFor(err error) int {
	switch chat.KindOf(err) {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal causes from clients.
func errorMessage(err error) string {
	var ce *chat.Error
	if errors.As(err, &ce) && ce.Kind != chat.KindInternal {
		return err.Error()
	}
	return "Internal server error"
}

// SendMessage handles the creation of a new message
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := h.Chat.Submit(c.Request.Context(), userID, req.FriendID, req.Content, req.TempID)
	if err != nil {
		c.JSON(statusFor(err), models.SendResult{
			Status:   "error",
			Messages: messages,
			TempID:   req.TempID,
			Error:    errorMessage(err),
		})
		return
	}

	c.JSON(http.StatusCreated, models.SendResult{Status: "success", Messages: messages, TempID: req.TempID})
}

// GetConversation returns one page of messages between the authenticated
// user and :friendId, oldest first. ?page=1 is the newest.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	friendID := c.Param("friendId")

	limit, ok := queryInt(c, "limit", 0, 0)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	page, ok := queryInt(c, "page", 1, 1)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}

	messages, err := h.Chat.History(c.Request.Context(), userID, friendID, limit, page)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": errorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// queryInt parses an optional integer query parameter no smaller than floor.
func queryInt(c *gin.Context, key string, def, floor int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		return 0, false
	}
	return n, true
}
