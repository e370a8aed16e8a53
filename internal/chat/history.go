package chat

import (
	"context"
	"slices"

	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// History returns one page of the conversation between userID and
// friendID, oldest first. Page 1 holds the newest limit messages, page 2
// the limit before those, and so on.
func (s *Service) History(ctx context.Context, userID, friendID string, limit, page int) ([]*models.Message, error) {
	if userID == friendID {
		return nil, newError(KindValidation, "", ErrSelfMessage)
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	limit = min(limit, MaxHistoryLimit)
	page = max(page, 1)

	if friendID != models.AIPartnerID {
		if err := s.checkFriendship(ctx, userID, friendID); err != nil {
			return nil, err
		}
	}

	chatID := models.ChatID(userID, friendID)
	if page > 1 {
		return s.storedPage(ctx, chatID, limit, (page-1)*limit)
	}
	return s.newestPage(ctx, chatID, limit)
}

// newestPage answers from the recent cache when it holds a full page or
// the whole conversation. Otherwise the store tops it up, and the older
// stored messages are appended to the cache.
func (s *Service) newestPage(ctx context.Context, chatID string, limit int) ([]*models.Message, error) {
	cached, complete, err := s.cache.Recent(ctx, chatID, limit)
	if err != nil {
		log.Warn("Recent cache read failed for chat %s, falling back to store: %v", chatID, err)
		cached, complete = nil, false
	}
	cached = models.Dedupe(cached)

	if len(cached) >= limit || complete {
		metrics.HistoryReads.WithLabelValues("cache").Inc()
		models.SortChronological(cached)
		return cached, nil
	}

	stored, err := s.store.RecentByChat(ctx, chatID, limit, 0)
	if err != nil {
		if len(cached) > 0 {
			log.Warn("Store read failed for chat %s, serving %d cached messages: %v", chatID, len(cached), err)
			models.SortChronological(cached)
			return cached, nil
		}
		log.Error("Failed to load history for chat %s: %v", chatID, err)
		return nil, newError(KindUpstream, "failed to load history", err)
	}

	// a short page means the store has nothing older
	whole := len(stored) < limit
	if err := s.cache.BackfillRecent(ctx, chatID, olderThan(cached, stored), whole); err != nil {
		log.Warn("Failed to back-fill recent cache for chat %s: %v", chatID, err)
	}

	source := "store"
	if len(cached) > 0 {
		source = "merged"
	}
	metrics.HistoryReads.WithLabelValues(source).Inc()

	history := make([]*models.Message, 0, len(cached)+len(stored))
	history = append(append(history, cached...), stored...)
	history = models.Dedupe(history)
	models.SortChronological(history)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (s *Service) storedPage(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error) {
	stored, err := s.store.RecentByChat(ctx, chatID, limit, offset)
	if err != nil {
		log.Error("Failed to load history page for chat %s at offset %d: %v", chatID, offset, err)
		return nil, newError(KindUpstream, "failed to load history", err)
	}
	metrics.HistoryReads.WithLabelValues("store").Inc()

	history := make([]*models.Message, len(stored))
	copy(history, stored)
	slices.Reverse(history)
	return history, nil
}

// olderThan returns the stored messages, newest first, that belong behind
// everything in cached.
func olderThan(cached, stored []*models.Message) []*models.Message {
	if len(cached) == 0 {
		return stored
	}
	seen := make(map[string]struct{}, len(cached))
	oldest := cached[0].Timestamp
	for _, m := range cached {
		seen[m.MessageID] = struct{}{}
		if m.Timestamp.Before(oldest) {
			oldest = m.Timestamp
		}
	}

	var older []*models.Message
	for _, m := range stored {
		if _, ok := seen[m.MessageID]; ok || m.Timestamp.After(oldest) {
			continue
		}
		older = append(older, m)
	}
	return older
}
