// Package session keeps per-conversation state: resolved identity, the
// locked intent, the active draft pointer, buffered media, and recent
// search results. Everything here is reconstructible from the entity
// store, so losing a session never loses a draft.
package session

import (
	"context"
	"errors"
	"time"

	"pazarglobal/pkg/domain"
)

// ErrUnavailable signals that the cache backend cannot be reached.
var ErrUnavailable = errors.New("session: cache unavailable")

// Message is one chat-history turn.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Record is the cached state of one conversation.
type Record struct {
	SessionID       string                          `json:"session_id"`
	OwnerID         string                          `json:"owner_id"`
	ContactPhone    string                          `json:"contact_phone,omitempty"`
	SellerName      string                          `json:"seller_name,omitempty"`
	Channel         string                          `json:"channel,omitempty"`
	Intent          domain.Intent                   `json:"intent,omitempty"`
	LockedIntent    domain.Intent                   `json:"locked_intent,omitempty"`
	ActiveDraftID   string                          `json:"active_draft_id,omitempty"`
	PendingMedia    []string                        `json:"pending_media,omitempty"`
	PendingAnalysis map[string]domain.VisionSummary `json:"pending_analysis,omitempty"`
	LastResults     []domain.Listing                `json:"last_results,omitempty"`
	AwaitingConfirm string                          `json:"awaiting_confirm,omitempty"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

// Cache stores session records and a bounded chat history per session.
type Cache interface {
	Get(ctx context.Context, sessionID string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, sessionID string) error
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]Message, error)
}
