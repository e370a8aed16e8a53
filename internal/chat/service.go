// Package chat accepts messages from connected clients, fans them out in
// real time and hands them to the durable pipeline. It also serves
// conversation history.
package chat

import (
	"context"
	"strings"

	"github.com/ammar1510/chatline/internal/ai"
	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
	"github.com/ammar1510/chatline/internal/retry"
)

// EventReceiveMessage is the realtime event carrying a new message.
const EventReceiveMessage = "receiveMessage"

const aiPrefix = "/ai"

var log = logger.New("chat")

// publishRetry drives the durable enqueue. Replaced in tests.
var publishRetry = retry.Do

// Store is the persistent side the service reads from.
type Store interface {
	MutualFriendship(ctx context.Context, userID, friendID string) (bool, error)
	RecentByChat(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error)
}

// Cache holds recent history and parks messages the broker refused.
type Cache interface {
	PushRecent(ctx context.Context, msg *models.Message) error
	Recent(ctx context.Context, chatID string, limit int) ([]*models.Message, bool, error)
	BackfillRecent(ctx context.Context, chatID string, msgs []*models.Message, complete bool) error
	PushFailure(ctx context.Context, msg *models.Message) error
}

// Publisher enqueues a message on the durable log.
type Publisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// Deliverer pushes an event to every connection in a room.
type Deliverer interface {
	Deliver(roomID, event string, msg *models.Message)
}

// Service implements message submission and the read path.
type Service struct {
	store     Store
	cache     Cache
	publisher Publisher
	deliverer Deliverer
	generator ai.Generator

	historyLimit int
}

func NewService(store Store, cache Cache, publisher Publisher, deliverer Deliverer, generator ai.Generator) *Service {
	if generator == nil {
		generator = ai.Disabled{}
	}
	return &Service{
		store:        store,
		cache:        cache,
		publisher:    publisher,
		deliverer:    deliverer,
		generator:    generator,
		historyLimit: DefaultHistoryLimit,
	}
}

// SetHistoryLimit changes the page size used when a read asks for none.
func (s *Service) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = min(n, MaxHistoryLimit)
	}
}

// aiQuery reports whether content addresses the AI and returns the query.
func aiQuery(content string) (string, bool) {
	switch {
	case content == aiPrefix:
		return "", true
	case strings.HasPrefix(content, aiPrefix+" "), strings.HasPrefix(content, aiPrefix+":"):
		return strings.TrimSpace(content[len(aiPrefix)+1:]), true
	}
	return "", false
}

// Submit accepts a message from userID to friendID. It returns the user
// message, followed by the AI reply when the content was an AI query.
//
// Rejections happen before any side effect. Once the user message is
// emitted, broker and cache failures are absorbed; only an AI failure is
// reported back, after the user message has gone out.
func (s *Service) Submit(ctx context.Context, userID, friendID, content, tempID string) ([]*models.Message, error) {
	if userID == friendID {
		metrics.SubmitRejected.WithLabelValues(KindValidation.String()).Inc()
		return nil, newError(KindValidation, "", ErrSelfMessage)
	}

	query, isAIQuery := aiQuery(content)
	if isAIQuery && query == "" {
		metrics.SubmitRejected.WithLabelValues(KindValidation.String()).Inc()
		return nil, newError(KindValidation, "", ErrEmptyAIQuery)
	}

	if !isAIQuery && friendID != models.AIPartnerID {
		if err := s.checkFriendship(ctx, userID, friendID); err != nil {
			metrics.SubmitRejected.WithLabelValues(KindOf(err).String()).Inc()
			return nil, err
		}
	}

	msg := models.NewMessage(userID, friendID, content, tempID, false)
	s.accept(ctx, msg)
	metrics.MessagesSubmitted.WithLabelValues("user").Inc()

	if !isAIQuery {
		return []*models.Message{msg}, nil
	}

	log.Info("AI query in chat %s from %s", msg.ChatID, userID)
	reply, err := s.generator.Generate(ctx, query)
	if err != nil {
		log.Error("AI generation failed for message %s: %v", msg.MessageID, err)
		return []*models.Message{msg}, newError(KindUpstream, "AI generation failed", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("AI returned an empty reply for message %s", msg.MessageID)
		return []*models.Message{msg}, nil
	}

	aiMsg := models.NewMessage(userID, friendID, reply, tempID, true)
	s.accept(ctx, aiMsg)
	metrics.MessagesSubmitted.WithLabelValues("ai").Inc()

	return []*models.Message{msg, aiMsg}, nil
}

func (s *Service) checkFriendship(ctx context.Context, userID, friendID string) error {
	ok, err := s.store.MutualFriendship(ctx, userID, friendID)
	if err != nil {
		log.Error("Friendship lookup failed for %s -> %s: %v", userID, friendID, err)
		return newError(KindUpstream, "friendship lookup failed", err)
	}
	if !ok {
		log.Debug("No friendship between %s and %s", userID, friendID)
		return newError(KindForbidden, "", ErrNotFriends)
	}
	return nil
}

// accept emits msg to both rooms, then enqueues and caches it.
func (s *Service) accept(ctx context.Context, msg *models.Message) {
	s.deliverer.Deliver(msg.UserID, EventReceiveMessage, msg)
	s.deliverer.Deliver(msg.FriendID, EventReceiveMessage, msg)
	metrics.Deliveries.Add(2)

	s.enqueue(ctx, msg)

	if err := s.cache.PushRecent(ctx, msg); err != nil {
		log.Warn("Failed to cache message %s for chat %s: %v", msg.MessageID, msg.ChatID, err)
	}
}

// enqueue publishes msg with retry and parks it in the failure buffer
// when every attempt fails.
func (s *Service) enqueue(ctx context.Context, msg *models.Message) {
	out := publishRetry(ctx, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, msg)
	})
	metrics.PublishOutcomes.WithLabelValues(out.State.String()).Inc()
	if out.State == retry.Succeeded {
		return
	}

	log.Error("Publish of message %s exhausted after %d attempts, buffering: %v", msg.MessageID, out.Attempts, out.Err)
	if err := s.cache.PushFailure(context.WithoutCancel(ctx), msg); err != nil {
		log.Error("Failed to buffer message %s for chat %s: %v", msg.MessageID, msg.ChatID, err)
		return
	}
	metrics.MessagesBuffered.Inc()
}
