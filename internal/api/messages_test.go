package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatline/internal/chat"
	"github.com/ammar1510/chatline/internal/models"
)

// MockChat implements ChatService for testing
type MockChat struct {
	mock.Mock
}

func (m *MockChat) Submit(ctx context.Context, userID, friendID, content, tempID string) ([]*models.Message, error) {
	args := m.Called(ctx, userID, friendID, content, tempID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockChat) History(ctx context.Context, userID, friendID string, limit, page int) ([]*models.Message, error) {
	args := m.Called(ctx, userID, friendID, limit, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

// setupMessageRouter mounts the handlers behind a fake auth step
func setupMessageRouter(svc ChatService, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
		c.Next()
	})

	handler := NewMessageHandler(svc)
	router.POST("/api/chat/messages", handler.SendMessage)
	router.GET("/api/chat/:friendId/messages", handler.GetConversation)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	msg := models.NewMessage("alice", "bob", "hello", "tmp-1", false)

	tests := []struct {
		name       string
		userID     string
		body       interface{}
		setupMock  func(*MockChat)
		wantStatus int
		wantResult string
	}{
		{
			name:   "success",
			userID: "alice",
			body:   models.MessageRequest{FriendID: "bob", Content: "hello", TempID: "tmp-1"},
			setupMock: func(m *MockChat) {
				m.On("Submit", mock.Anything, "alice", "bob", "hello", "tmp-1").Return([]*models.Message{msg}, nil)
			},
			wantStatus: http.StatusCreated,
			wantResult: "success",
		},
		{
			name:       "unauthorized",
			body:       models.MessageRequest{FriendID: "bob", Content: "hello"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing friend",
			userID:     "alice",
			body:       map[string]string{"content": "hello"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "content too long",
			userID:     "alice",
			body:       models.MessageRequest{FriendID: "bob", Content: string(make([]byte, 1001))},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "self message",
			userID: "alice",
			body:   models.MessageRequest{FriendID: "alice", Content: "hi"},
			setupMock: func(m *MockChat) {
				m.On("Submit", mock.Anything, "alice", "alice", "hi", "").
					Return(nil, &chat.Error{Kind: chat.KindValidation, Err: chat.ErrSelfMessage})
			},
			wantStatus: http.StatusBadRequest,
			wantResult: "error",
		},
		{
			name:   "not friends",
			userID: "alice",
			body:   models.MessageRequest{FriendID: "mallory", Content: "hi"},
			setupMock: func(m *MockChat) {
				m.On("Submit", mock.Anything, "alice", "mallory", "hi", "").
					Return(nil, &chat.Error{Kind: chat.KindForbidden, Err: chat.ErrNotFriends})
			},
			wantStatus: http.StatusForbidden,
			wantResult: "error",
		},
		{
			name:   "AI failure keeps the user message",
			userID: "alice",
			body:   models.MessageRequest{FriendID: "bob", Content: "/ai hi"},
			setupMock: func(m *MockChat) {
				m.On("Submit", mock.Anything, "alice", "bob", "/ai hi", "").
					Return([]*models.Message{msg}, &chat.Error{Kind: chat.KindUpstream, Msg: "AI generation failed", Err: errors.New("overloaded")})
			},
			wantStatus: http.StatusBadGateway,
			wantResult: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockChat)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			w := postJSON(setupMessageRouter(svc, tt.userID), "/api/chat/messages", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantResult != "" {
				var result models.SendResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
				assert.Equal(t, tt.wantResult, result.Status)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestSendMessageAIFailureBody(t *testing.T) {
	msg := models.NewMessage("alice", "bob", "/ai hi", "tmp-2", false)
	svc := new(MockChat)
	svc.On("Submit", mock.Anything, "alice", "bob", "/ai hi", "tmp-2").
		Return([]*models.Message{msg}, &chat.Error{Kind: chat.KindUpstream, Msg: "AI generation failed", Err: errors.New("overloaded")})

	w := postJSON(setupMessageRouter(svc, "alice"), "/api/chat/messages",
		models.MessageRequest{FriendID: "bob", Content: "/ai hi", TempID: "tmp-2"})

	var result models.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "tmp-2", result.TempID)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, msg.MessageID, result.Messages[0].MessageID)
	assert.Contains(t, result.Error, "AI generation failed")
}

func TestSendMessageHidesInternalErrors(t *testing.T) {
	svc := new(MockChat)
	svc.On("Submit", mock.Anything, "alice", "bob", "hi", "").Return(nil, errors.New("pq: secret detail"))

	w := postJSON(setupMessageRouter(svc, "alice"), "/api/chat/messages", models.MessageRequest{FriendID: "bob", Content: "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}

func TestGetConversation(t *testing.T) {
	history := []*models.Message{
		models.NewMessage("alice", "bob", "one", "", false),
		models.NewMessage("bob", "alice", "two", "", false),
	}

	tests := []struct {
		name       string
		userID     string
		path       string
		setupMock  func(*MockChat)
		wantStatus int
		wantCount  int
	}{
		{
			name:   "default limit",
			userID: "alice",
			path:   "/api/chat/bob/messages",
			setupMock: func(m *MockChat) {
				m.On("History", mock.Anything, "alice", "bob", 0, 1).Return(history, nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:   "explicit limit",
			userID: "alice",
			path:   "/api/chat/bob/messages?limit=5",
			setupMock: func(m *MockChat) {
				m.On("History", mock.Anything, "alice", "bob", 5, 1).Return(history[:1], nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "bad limit",
			userID:     "alice",
			path:       "/api/chat/bob/messages?limit=lots",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative limit",
			userID:     "alice",
			path:       "/api/chat/bob/messages?limit=-3",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "older page",
			userID: "alice",
			path:   "/api/chat/bob/messages?limit=1&page=3",
			setupMock: func(m *MockChat) {
				m.On("History", mock.Anything, "alice", "bob", 1, 3).Return(history[:1], nil)
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "bad page",
			userID:     "alice",
			path:       "/api/chat/bob/messages?page=first",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "page zero",
			userID:     "alice",
			path:       "/api/chat/bob/messages?page=0",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unauthorized",
			path:       "/api/chat/bob/messages",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "not friends",
			userID: "alice",
			path:   "/api/chat/mallory/messages",
			setupMock: func(m *MockChat) {
				m.On("History", mock.Anything, "alice", "mallory", 0, 1).
					Return(nil, &chat.Error{Kind: chat.KindForbidden, Err: chat.ErrNotFriends})
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name:   "store down",
			userID: "alice",
			path:   "/api/chat/bob/messages",
			setupMock: func(m *MockChat) {
				m.On("History", mock.Anything, "alice", "bob", 0, 1).
					Return(nil, &chat.Error{Kind: chat.KindUpstream, Msg: "failed to load history", Err: errors.New("timeout")})
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockChat)
			if tt.setupMock != nil {
				tt.setupMock(svc)
			}

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			setupMessageRouter(svc, tt.userID).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var got []*models.Message
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Len(t, got, tt.wantCount)
			}
			svc.AssertExpectations(t)
		})
	}
}
