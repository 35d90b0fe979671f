package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 3 * time.Second

// RedisCache keeps session records and chat history in Redis with TTL.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	history int
}

// NewRedisCache builds a Redis-backed session cache. history caps the
// number of chat turns retained per session.
func NewRedisCache(addr, password string, db int, ttl time.Duration, history int) *RedisCache {
	if history <= 0 {
		history = 50
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl:     ttl,
		history: history,
	}
}

// NewRedisCacheFromClient wraps an existing client. Used by tests.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, history int) *RedisCache {
	if history <= 0 {
		history = 50
	}
	return &RedisCache{client: client, ttl: ttl, history: history}
}

func recordKey(sessionID string) string  { return "pazar:session:" + sessionID }
func historyKey(sessionID string) string { return "pazar:history:" + sessionID }

func (c *RedisCache) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, recordKey(sessionID)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// corrupt record: treat as missing so the caller rebuilds it
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (c *RedisCache) Put(ctx context.Context, rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, recordKey(rec.SessionID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := c.client.Del(ctx, recordKey(sessionID), historyKey(sessionID)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	key := historyKey(sessionID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-c.history), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > c.history {
		limit = c.history
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raws, err := c.client.LRange(ctx, historyKey(sessionID), int64(-limit), -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
