package session

import (
	"context"
	"errors"
	"log/slog"
)

// FallbackCache prefers a primary cache and degrades to a secondary one
// when the primary is unreachable. Reads that miss on the primary do not
// consult the secondary; only availability errors trigger the fallback.
type FallbackCache struct {
	primary   Cache
	secondary Cache
}

// NewFallbackCache wraps primary with secondary as the degraded path.
func NewFallbackCache(primary, secondary Cache) *FallbackCache {
	return &FallbackCache{primary: primary, secondary: secondary}
}

func (c *FallbackCache) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	rec, ok, err := c.primary.Get(ctx, sessionID)
	if errors.Is(err, ErrUnavailable) {
		slog.Warn("session cache degraded", "op", "get", "err", err)
		return c.secondary.Get(ctx, sessionID)
	}
	return rec, ok, err
}

func (c *FallbackCache) Put(ctx context.Context, rec Record) error {
	if err := c.primary.Put(ctx, rec); errors.Is(err, ErrUnavailable) {
		slog.Warn("session cache degraded", "op", "put", "err", err)
		return c.secondary.Put(ctx, rec)
	} else if err != nil {
		return err
	}
	return nil
}

func (c *FallbackCache) Delete(ctx context.Context, sessionID string) error {
	err := c.primary.Delete(ctx, sessionID)
	if errors.Is(err, ErrUnavailable) {
		slog.Warn("session cache degraded", "op", "delete", "err", err)
		return c.secondary.Delete(ctx, sessionID)
	}
	return err
}

func (c *FallbackCache) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	err := c.primary.AppendMessage(ctx, sessionID, msg)
	if errors.Is(err, ErrUnavailable) {
		slog.Warn("session cache degraded", "op", "append", "err", err)
		return c.secondary.AppendMessage(ctx, sessionID, msg)
	}
	return err
}

func (c *FallbackCache) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	msgs, err := c.primary.Messages(ctx, sessionID, limit)
	if errors.Is(err, ErrUnavailable) {
		slog.Warn("session cache degraded", "op", "messages", "err", err)
		return c.secondary.Messages(ctx, sessionID, limit)
	}
	return msgs, err
}
