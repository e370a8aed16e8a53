// Package recovery re-enqueues messages that were parked in the cache
// failure buffer after their first publish ran out of retries.
package recovery

import (
	"context"
	"time"

	"github.com/ammar1510/chatline/internal/cache"
	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
	"github.com/ammar1510/chatline/internal/retry"
)

const DefaultInterval = time.Minute

var log = logger.New("recovery")

// publishRetry drives each re-enqueue. Replaced in tests.
var publishRetry = retry.Do

// Buffer is the failure buffer held in the cache.
type Buffer interface {
	FailureKeys(ctx context.Context) ([]string, error)
	Failures(ctx context.Context, key string) ([]string, error)
	RemoveFailure(ctx context.Context, key, raw string) error
	DeleteIfEmpty(ctx context.Context, key string) (bool, error)
}

// Publisher enqueues a message on the durable log.
type Publisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// Loop periodically drains the failure buffer.
type Loop struct {
	buffer    Buffer
	publisher Publisher
	interval  time.Duration
}

func New(buffer Buffer, publisher Publisher, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{buffer: buffer, publisher: publisher, interval: interval}
}

// Run makes a pass immediately and then once per interval until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	log.Info("Recovery loop started (every %s)", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info("Recovery loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce walks every failure key once and returns how many messages were
// re-enqueued. Errors are logged and the pass moves on.
func (l *Loop) RunOnce(ctx context.Context) int {
	keys, err := l.buffer.FailureKeys(ctx)
	if err != nil {
		log.Error("Failed to list failure buffers: %v", err)
		return 0
	}

	recovered := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		recovered += l.drain(ctx, key)
	}
	if recovered > 0 {
		log.Info("Recovered %d buffered messages from %d chats", recovered, len(keys))
	}
	return recovered
}

func (l *Loop) drain(ctx context.Context, key string) int {
	klog := log.With("key", key)

	records, err := l.buffer.Failures(ctx, key)
	if err != nil {
		klog.Error("Failed to read failure buffer: %v", err)
		return 0
	}

	recovered := 0
	for _, raw := range records {
		if ctx.Err() != nil {
			return recovered
		}

		rec, err := cache.DecodeFailure(raw)
		if err != nil {
			klog.Warn("Dropping undecodable buffered record: %v", err)
			if err := l.buffer.RemoveFailure(ctx, key, raw); err != nil {
				klog.Error("Failed to remove undecodable record: %v", err)
			}
			continue
		}

		out := publishRetry(ctx, func(ctx context.Context) error {
			return l.publisher.Publish(ctx, rec.Message)
		})
		if out.State != retry.Succeeded {
			klog.Warn("Message %s still unpublishable after %d attempts: %v", rec.Message.MessageID, out.Attempts, out.Err)
			continue
		}

		if err := l.buffer.RemoveFailure(ctx, key, raw); err != nil {
			// left in place; the next pass publishes it again and the
			// store drops the duplicate
			klog.Error("Failed to remove recovered message %s: %v", rec.Message.MessageID, err)
			continue
		}
		metrics.MessagesRecovered.Inc()
		recovered++
	}

	if _, err := l.buffer.DeleteIfEmpty(ctx, key); err != nil {
		klog.Error("Failed to clean up drained buffer: %v", err)
	}
	return recovered
}
