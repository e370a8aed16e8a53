package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ammar1510/chatline/internal/auth"
	"github.com/ammar1510/chatline/internal/chat"
	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
)

// Frame types
const (
	FrameSendMessage    = "sendMessage"
	FramePing           = "ping"
	FramePong           = "pong"
	FrameAck            = "ack"
	FrameError          = "error"
	FrameTokenRefreshed = "tokenRefreshed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	maxMessagesPerMinute = 60
	maxContentLength     = 1000

	// maxInflightSends bounds the submits one connection runs at once.
	maxInflightSends = 8

	// submitTimeout covers the publish retries and an AI reply.
	submitTimeout = 2 * time.Minute
)

// Submitter accepts a message on behalf of a connected user.
type Submitter interface {
	Submit(ctx context.Context, userID, friendID, content, tempID string) ([]*models.Message, error)
}

// inboundFrame is anything a client sends.
type inboundFrame struct {
	Type     string `json:"type"`
	FriendID string `json:"friendId"`
	Content  string `json:"content"`
	TempID   string `json:"tempId"`
}

type ackFrame struct {
	Type string `json:"type"`
	models.SendResult
}

type errorFrame struct {
	Type   string `json:"type"`
	TempID string `json:"tempId,omitempty"`
	Error  string `json:"error"`
	Kind   string `json:"kind"`
}

type tokenFrame struct {
	Type      string    `json:"type"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type typeFrame struct {
	Type string `json:"type"`
}

// Handler upgrades authenticated requests and serves the chat protocol.
type Handler struct {
	manager  *Manager
	chat     Submitter
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. An empty allowedOrigins accepts any origin.
func NewHandler(manager *Manager, chat Submitter, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		manager: manager,
		chat:    chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				if !ok {
					log.Warn("Rejected websocket origin: %s", origin)
				}
				return ok
			},
		},
	}
}

// accessToken reads the token from the query or an Authorization header.
func accessToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func refreshToken(c *gin.Context) string {
	if token := c.Query("refresh_token"); token != "" {
		return token
	}
	if cookie, err := c.Cookie("refresh_token"); err == nil {
		return cookie
	}
	return ""
}

// authenticate resolves the user for the handshake. When the access token
// has expired and a refresh token is presented, a new access token is
// issued and returned for the client to pick up.
func authenticate(c *gin.Context) (userID string, refreshed *tokenFrame, err error) {
	token := accessToken(c)
	if token == "" {
		return "", nil, auth.ErrInvalidToken
	}

	claims, err := auth.ValidateToken(token)
	if err == nil {
		return claims.UserID, nil, nil
	}
	if !errors.Is(err, auth.ErrTokenExpired) {
		return "", nil, err
	}

	refresh := refreshToken(c)
	if refresh == "" {
		return "", nil, err
	}
	newToken, expiresAt, refreshedUser, rerr := auth.Refresh(refresh)
	if rerr != nil {
		return "", nil, rerr
	}
	if claims != nil && claims.UserID != refreshedUser {
		log.Warn("Refresh token user %s does not match access token user %s", refreshedUser, claims.UserID)
		return "", nil, auth.ErrInvalidToken
	}
	metrics.TokenRefreshes.Inc()
	return refreshedUser, &tokenFrame{Type: FrameTokenRefreshed, Token: newToken, ExpiresAt: expiresAt}, nil
}

// ServeWS handles websocket requests from clients
func (h *Handler) ServeWS(c *gin.Context) {
	userID, refreshed, err := authenticate(c)
	if err != nil {
		log.Warn("Rejecting websocket from %s: %v", c.Request.RemoteAddr, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	log.Debug("User authenticated: %s (IP: %s)", userID, c.Request.RemoteAddr)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := newClient(userID, conn)
	if refreshed != nil {
		data, _ := json.Marshal(refreshed)
		client.Send <- data
		log.Info("Issued refreshed access token to %s", userID)
	}

	if !h.manager.join(client) {
		log.Warn("Manager stopped, closing connection for %s", userID)
		conn.Close()
		return
	}

	go h.readPump(client)
	go client.writePump()
	log.Info("Client %s connected for user %s", client.ID, userID)
}

// readPump reads frames from the connection and answers on the client's
// send channel.
func (h *Handler) readPump(c *Client) {
	defer func() {
		h.manager.leave(c)
		c.Socket.Close()
	}()

	c.Socket.SetReadLimit(maxMessageSize)
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := rate.NewLimiter(rate.Every(time.Minute/maxMessagesPerMinute), maxMessagesPerMinute)
	inflight := make(chan struct{}, maxInflightSends)

	for {
		_, data, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading from client %s: %v", c.ID, err)
			} else {
				log.Debug("Client %s closed connection: %v", c.ID, err)
			}
			return
		}
		if !limiter.Allow() {
			log.Warn("Rate limit exceeded for client %s", c.ID)
			h.sendError(c, "", "Rate limit exceeded", chat.KindValidation)
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(c, "", "Invalid message format", chat.KindValidation)
			continue
		}

		switch frame.Type {
		case FrameSendMessage:
			h.handleSend(c, frame, inflight)
		case FramePing:
			h.send(c, typeFrame{Type: FramePong})
		default:
			log.Warn("Unknown frame type '%s' from client %s", frame.Type, c.ID)
			h.sendError(c, frame.TempID, "Unknown message type", chat.KindValidation)
		}
	}
}

// handleSend validates on the read loop and runs the submit in its own
// goroutine, so a slow publish never holds back later frames.
func (h *Handler) handleSend(c *Client, frame inboundFrame, inflight chan struct{}) {
	if msg := validateFrame(frame); msg != "" {
		h.reject(c, frame.TempID, msg)
		return
	}

	select {
	case inflight <- struct{}{}:
	default:
		log.Warn("Client %s has %d sends in flight, rejecting", c.ID, maxInflightSends)
		h.reject(c, frame.TempID, "Too many messages in flight")
		return
	}

	go func() {
		defer func() { <-inflight }()
		h.submit(c, frame)
	}()
}

func (h *Handler) reject(c *Client, tempID, msg string) {
	h.sendError(c, tempID, msg, chat.KindValidation)
	h.send(c, ackFrame{Type: FrameAck, SendResult: models.SendResult{Status: "error", TempID: tempID, Error: msg}})
}

func (h *Handler) submit(c *Client, frame inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	msgs, err := h.chat.Submit(ctx, c.UserID, frame.FriendID, frame.Content, frame.TempID)
	if err != nil {
		log.Warn("Send from %s to %s failed: %v", c.UserID, frame.FriendID, err)
		h.sendError(c, frame.TempID, err.Error(), chat.KindOf(err))
		h.send(c, ackFrame{Type: FrameAck, SendResult: models.SendResult{
			Status:   "error",
			Messages: msgs,
			TempID:   frame.TempID,
			Error:    err.Error(),
		}})
		return
	}

	h.send(c, ackFrame{Type: FrameAck, SendResult: models.SendResult{Status: "success", Messages: msgs, TempID: frame.TempID}})
}

// validateFrame returns a user-facing reason the frame is rejected, or "".
func validateFrame(frame inboundFrame) string {
	switch n := utf8.RuneCountInString(frame.Content); {
	case strings.TrimSpace(frame.FriendID) == "":
		return "friendId is required"
	case n == 0:
		return "content is required"
	case n > maxContentLength:
		return "content exceeds 1000 characters"
	}
	return ""
}

func (h *Handler) sendError(c *Client, tempID, msg string, kind chat.Kind) {
	h.send(c, errorFrame{Type: FrameError, TempID: tempID, Error: msg, Kind: kind.String()})
}

func (h *Handler) send(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to encode frame for client %s: %v", c.ID, err)
		return
	}
	h.manager.sendToClient(c, data)
}

// writePump pumps messages from the manager to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The manager closed the channel
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
