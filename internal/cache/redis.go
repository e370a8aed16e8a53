package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ammar1510/chatline/internal/models"
)

const (
	// RetentionTTL bounds how long recent-cache and failure lists live.
	RetentionTTL = 7 * 24 * time.Hour

	failedPattern = "chat:failed:*"
	scanCount     = 100
)

// deleteIfEmpty removes a list only if nothing was pushed since it drained.
var deleteIfEmpty = redis.NewScript(`
if redis.call("LLEN", KEYS[1]) == 0 then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore handles Redis operations for recent history and the
// failure buffer.
type RedisStore struct {
	client     *redis.Client
	recentSize int64
}

// NewRedisStore creates a new Redis store. recentSize caps each
// conversation's recent list.
func NewRedisStore(ctx context.Context, redisURL string, recentSize int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisStoreFromClient(client, recentSize), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, recentSize int) *RedisStore {
	if recentSize < 1 {
		recentSize = 50
	}
	return &RedisStore{client: client, recentSize: int64(recentSize)}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// recentKey returns the key for a conversation's recent-message list.
func recentKey(chatID string) string {
	return fmt.Sprintf("chat:recent:%s", chatID)
}

// completeKey marks a recent list that was seeded with a conversation's
// entire stored history.
func completeKey(chatID string) string {
	return fmt.Sprintf("chat:recent:complete:%s", chatID)
}

// failedKey returns the key for a conversation's failure buffer.
func failedKey(chatID string) string {
	return fmt.Sprintf("chat:failed:%s", chatID)
}

// PushRecent prepends msg to its conversation's recent list, trims it to
// the configured size and refreshes the expiry.
func (s *RedisStore) PushRecent(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := recentKey(msg.ChatID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.recentSize-1)
		pipe.Expire(ctx, key, RetentionTTL)
		pipe.Expire(ctx, completeKey(msg.ChatID), RetentionTTL)
		return nil
	})
	return err
}

// Recent returns up to limit cached messages, most recent first.
// Entries that fail to decode are skipped. complete reports that the list
// holds the whole conversation: it was seeded from the store and has
// never been trimmed.
func (s *RedisStore) Recent(ctx context.Context, chatID string, limit int) (msgs []*models.Message, complete bool, err error) {
	key := recentKey(chatID)

	var (
		entries *redis.StringSliceCmd
		length  *redis.IntCmd
		seeded  *redis.IntCmd
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		entries = pipe.LRange(ctx, key, 0, int64(limit)-1)
		length = pipe.LLen(ctx, key)
		seeded = pipe.Exists(ctx, completeKey(chatID))
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	results := entries.Val()
	msgs = make([]*models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, seeded.Val() == 1 && length.Val() < s.recentSize, nil
}

// BackfillRecent appends msgs, given most recent first, to the tail of the
// recent list so anything pushed concurrently stays in front of them.
// complete records that msgs together with the list already reach the
// start of the conversation.
func (s *RedisStore) BackfillRecent(ctx context.Context, chatID string, msgs []*models.Message, complete bool) error {
	if len(msgs) == 0 && !complete {
		return nil
	}
	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	key := recentKey(chatID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.LTrim(ctx, key, 0, s.recentSize-1)
			pipe.Expire(ctx, key, RetentionTTL)
		}
		if complete {
			pipe.Set(ctx, completeKey(chatID), 1, RetentionTTL)
		}
		return nil
	})
	return err
}

// PushFailure parks a message whose durable enqueue was exhausted.
func (s *RedisStore) PushFailure(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(models.BufferedFailure{ChatID: msg.ChatID, Message: msg})
	if err != nil {
		return err
	}
	key := failedKey(msg.ChatID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.Expire(ctx, key, RetentionTTL)
		return nil
	})
	return err
}

// FailureKeys returns every failure-buffer key using SCAN so large
// keyspaces are walked incrementally.
func (s *RedisStore) FailureKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, failedPattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Failures returns the raw serialized records held under key.
func (s *RedisStore) Failures(ctx context.Context, key string) ([]string, error) {
	return s.client.LRange(ctx, key, 0, -1).Result()
}

// RemoveFailure removes one occurrence of raw from key by value.
func (s *RedisStore) RemoveFailure(ctx context.Context, key, raw string) error {
	return s.client.LRem(ctx, key, 1, raw).Err()
}

// DeleteIfEmpty deletes key when its list has drained. It reports whether
// the key was deleted.
func (s *RedisStore) DeleteIfEmpty(ctx context.Context, key string) (bool, error) {
	n, err := deleteIfEmpty.Run(ctx, s.client, []string{key}).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DecodeFailure parses a raw failure-buffer element.
func DecodeFailure(raw string) (*models.BufferedFailure, error) {
	var rec models.BufferedFailure
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if err := rec.Message.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
