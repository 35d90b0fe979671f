package store

import (
	"context"
	"errors"
	"fmt"

	"pazarglobal/pkg/domain"
)

var (
	ErrDraftNotFound   = errors.New("draft not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrNotOwner        = errors.New("listing not owned by requester")
)

// InsufficientCreditsError reports a failed debit with exact amounts so the
// orchestrator can surface them verbatim to the user.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// FieldPatch updates exactly the non-nil fields of a draft. Callers set one
// member per patch; inferred values must never overwrite user-provided ones,
// so the patch carries no merge semantics beyond "set what is non-nil".
type FieldPatch struct {
	Title        *string
	Description  *string
	Price        *float64
	Category     *string
	ContactPhone *string
}

// Empty reports whether the patch would change nothing.
func (p FieldPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil && p.Category == nil && p.ContactPhone == nil
}

// Apply writes the patch onto a field set.
func (p FieldPatch) Apply(f *domain.DraftFields) {
	if p.Title != nil {
		f.Title = *p.Title
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Price != nil {
		price := *p.Price
		f.Price = &price
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	if p.ContactPhone != nil {
		f.ContactPhone = *p.ContactPhone
	}
}

// SearchFilter narrows a listing search. Zero values mean "no constraint".
type SearchFilter struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
	Text     string
	Limit    int
}

// AuditEntry is a best-effort audit record. Writing one must never block or
// fail the primary operation.
type AuditEntry struct {
	Action       string
	ResourceType string
	ResourceID   string
	OwnerID      string
	Metadata     map[string]any
}

// EntityStore defines persistence for drafts, listings, wallets, the audit
// log, and market price snapshots. It is the only authoritative state in the
// system; session caches are a latency optimization on top of it.
type EntityStore interface {
	// drafts
	CreateOrReuseDraft(ctx context.Context, ownerID, contactPhone string) (domain.Draft, error)
	GetDraft(ctx context.Context, draftID string) (domain.Draft, bool, error)
	LatestDraftForOwner(ctx context.Context, ownerID string) (domain.Draft, bool, error)
	PatchDraftField(ctx context.Context, draftID string, patch FieldPatch) error
	ResetDraft(ctx context.Context, draftID string) error
	DeleteDraft(ctx context.Context, draftID string) error
	AppendImage(ctx context.Context, draftID, imageURL string, metadata map[string]any) error
	SetVisionSummary(ctx context.Context, draftID string, summary domain.VisionSummary) error
	SetPending(ctx context.Context, draftID string, pending domain.DraftPending) error

	// listings
	Publish(ctx context.Context, draftID, ownerID string, cost int64, listing domain.Listing) (domain.Listing, error)
	GetListing(ctx context.Context, listingID string) (domain.Listing, bool, error)
	DeleteListing(ctx context.Context, listingID, ownerID string) error
	SearchListings(ctx context.Context, filter SearchFilter) ([]domain.Listing, error)

	// wallet
	WalletBalance(ctx context.Context, ownerID string) (int64, bool, error)
	Debit(ctx context.Context, ownerID string, amount int64, reason string) error

	// side data
	Audit(ctx context.Context, entry AuditEntry) error
	MarketPrices(ctx context.Context, productKey, category string, limit int) ([]domain.MarketPrice, error)
	// RecordMarketPrice folds one observed price into the product's
	// snapshot as a running average.
	RecordMarketPrice(ctx context.Context, productKey, category string, price float64) error
}
