package session

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache. State is lost on restart, which is
// acceptable because drafts live in the entity store and sessions are
// reconstructed on the next message.
type MemoryCache struct {
	mu      sync.Mutex
	records map[string]Record
	history map[string][]Message
	max     int
}

// NewMemoryCache returns a volatile cache capping history at max turns.
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 50
	}
	return &MemoryCache{
		records: make(map[string]Record),
		history: make(map[string][]Message),
		max:     max,
	}
}

func (c *MemoryCache) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[sessionID]
	return rec, ok, nil
}

func (c *MemoryCache) Put(ctx context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	c.records[rec.SessionID] = rec
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, sessionID)
	delete(c.history, sessionID)
	return nil
}

func (c *MemoryCache) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	msgs := append(c.history[sessionID], msg)
	if len(msgs) > c.max {
		msgs = msgs[len(msgs)-c.max:]
	}
	c.history[sessionID] = msgs
	return nil
}

func (c *MemoryCache) Messages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.history[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
