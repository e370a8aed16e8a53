package models

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped whenever a field is added to Message.
const SchemaVersion = 1

// AIPartnerID is the sentinel friend id of AI-only conversations.
const AIPartnerID = "ai"

// ErrMissingMessageID is returned when a decoded payload has no messageId.
var ErrMissingMessageID = errors.New("message has no messageId")

// Message represents a chat message in the system.
// A Message is never modified after NewMessage returns it.
type Message struct {
	MessageID string    `json:"messageId"`
	TempID    string    `json:"tempId,omitempty"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	FriendID  string    `json:"friendId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsAI      bool      `json:"isAI"`
	Version   int       `json:"v"`
}

// MessageRequest is the structure for message creation requests
type MessageRequest struct {
	FriendID string `json:"friendId" binding:"required"`
	Content  string `json:"content" binding:"required,min=1,max=1000"`
	TempID   string `json:"tempId"`
}

// SendResult is the acknowledgement returned for a send request
type SendResult struct {
	Status   string     `json:"status"`
	Messages []*Message `json:"messages,omitempty"`
	TempID   string     `json:"tempId,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BufferedFailure is a message parked in the cache after its durable
// enqueue exhausted every retry.
type BufferedFailure struct {
	ChatID  string   `json:"chatId"`
	Message *Message `json:"message"`
}

// ChatID returns the conversation key for an unordered pair of participants.
func ChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(userID, friendID, content, tempID string, isAI bool) *Message {
	return &Message{
		MessageID: uuid.NewString(),
		TempID:    tempID,
		ChatID:    ChatID(userID, friendID),
		UserID:    userID,
		FriendID:  friendID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		IsAI:      isAI,
		Version:   SchemaVersion,
	}
}

// Validate checks the fields a consumer needs to persist the message.
func (m *Message) Validate() error {
	if m == nil || strings.TrimSpace(m.MessageID) == "" {
		return ErrMissingMessageID
	}
	if m.ChatID == "" {
		return errors.New("message has no chatId")
	}
	return nil
}

// SortChronological orders messages oldest-first, breaking timestamp ties
// by messageId so the result is deterministic.
func SortChronological(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].MessageID < msgs[j].MessageID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// Dedupe drops later copies of a messageId, keeping the first occurrence.
func Dedupe(msgs []*Message) []*Message {
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, ok := seen[m.MessageID]; ok {
			continue
		}
		seen[m.MessageID] = struct{}{}
		out = append(out, m)
	}
	return out
}
