package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"pazarglobal/internal/util"
	"pazarglobal/pkg/domain"
)

// MemoryStore is a mutex-guarded EntityStore for tests and local runs
// without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	drafts   map[string]domain.Draft
	listings map[string]domain.Listing
	wallets  map[string]int64
	audits   []AuditEntry
	prices   []domain.MarketPrice
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:   make(map[string]domain.Draft),
		listings: make(map[string]domain.Listing),
		wallets:  make(map[string]int64),
	}
}

// SetBalance seeds a wallet. Test helper.
func (s *MemoryStore) SetBalance(ownerID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[ownerID] = balance
}

// SeedMarketPrice adds a market snapshot. Test helper.
func (s *MemoryStore) SeedMarketPrice(p domain.MarketPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, p)
}

// AuditEntries returns a copy of recorded audit entries. Test helper.
func (s *MemoryStore) AuditEntries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemoryStore) CreateOrReuseDraft(ctx context.Context, ownerID, contactPhone string) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft, ok := s.latestLocked(ownerID); ok {
		return draft, nil
	}
	now := time.Now().UTC()
	draft := domain.Draft{
		ID:      util.NewID(),
		OwnerID: ownerID,
		State:   domain.DraftInProgress,
		Fields: domain.DraftFields{
			ContactPhone: contactPhone,
		},
		Images:    []domain.DraftImage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.drafts[draft.ID] = draft
	return draft, nil
}

func (s *MemoryStore) latestLocked(ownerID string) (domain.Draft, bool) {
	var latest domain.Draft
	found := false
	for _, draft := range s.drafts {
		if draft.OwnerID != ownerID || draft.State != domain.DraftInProgress {
			continue
		}
		if !found || draft.CreatedAt.After(latest.CreatedAt) {
			latest = draft
			found = true
		}
	}
	return latest, found
}

func (s *MemoryStore) GetDraft(ctx context.Context, draftID string) (domain.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	return draft, ok, nil
}

func (s *MemoryStore) LatestDraftForOwner(ctx context.Context, ownerID string) (domain.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.latestLocked(ownerID)
	return draft, ok, nil
}

func (s *MemoryStore) PatchDraftField(ctx context.Context, draftID string, patch FieldPatch) error {
	if patch.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return ErrDraftNotFound
	}
	patch.Apply(&draft.Fields)
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = draft
	return nil
}

func (s *MemoryStore) ResetDraft(ctx context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return ErrDraftNotFound
	}
	draft.Fields = domain.DraftFields{ContactPhone: draft.Fields.ContactPhone}
	draft.Images = []domain.DraftImage{}
	draft.Vision = nil
	draft.Pending = domain.DraftPending{}
	draft.State = domain.DraftInProgress
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = draft
	return nil
}

func (s *MemoryStore) DeleteDraft(ctx context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, draftID)
	return nil
}

func (s *MemoryStore) AppendImage(ctx context.Context, draftID, imageURL string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return ErrDraftNotFound
	}
	merged := false
	for i, img := range draft.Images {
		if img.ImageURL == imageURL {
			if img.Metadata == nil {
				img.Metadata = map[string]any{}
			}
			for k, v := range metadata {
				img.Metadata[k] = v
			}
			draft.Images[i] = img
			merged = true
			break
		}
	}
	if !merged {
		draft.Images = append(draft.Images, domain.DraftImage{ImageURL: imageURL, Metadata: metadata})
	}
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = draft
	return nil
}

func (s *MemoryStore) SetVisionSummary(ctx context.Context, draftID string, summary domain.VisionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return ErrDraftNotFound
	}
	vs := summary
	draft.Vision = &vs
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = draft
	return nil
}

func (s *MemoryStore) SetPending(ctx context.Context, draftID string, pending domain.DraftPending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[draftID]
	if !ok {
		return ErrDraftNotFound
	}
	draft.Pending = pending
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = draft
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, draftID, ownerID string, cost int64, listing domain.Listing) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drafts[draftID]; !ok {
		return domain.Listing{}, ErrDraftNotFound
	}
	now := time.Now().UTC()
	if listing.ID == "" {
		listing.ID = util.NewID()
	}
	listing.OwnerID = ownerID
	listing.Status = domain.ListingActive
	listing.CreatedAt = now
	listing.UpdatedAt = now
	s.listings[listing.ID] = listing
	if cost > 0 {
		balance, ok := s.wallets[ownerID]
		if !ok || balance < cost {
			// roll back the insert, leave the draft intact
			delete(s.listings, listing.ID)
			return domain.Listing{}, &InsufficientCreditsError{Required: cost, Available: balance}
		}
		s.wallets[ownerID] = balance - cost
	}
	delete(s.drafts, draftID)
	s.audits = append(s.audits, AuditEntry{
		Action:       "publish_listing",
		ResourceType: "listing",
		ResourceID:   listing.ID,
		OwnerID:      ownerID,
		Metadata:     map[string]any{"draft_id": draftID, "cost": cost},
	})
	return listing, nil
}

func (s *MemoryStore) GetListing(ctx context.Context, listingID string) (domain.Listing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[listingID]
	return listing, ok, nil
}

func (s *MemoryStore) DeleteListing(ctx context.Context, listingID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	listing, ok := s.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	if ownerID != "" && listing.OwnerID != ownerID {
		return ErrNotOwner
	}
	delete(s.listings, listingID)
	s.audits = append(s.audits, AuditEntry{
		Action:       "delete_listing",
		ResourceType: "listing",
		ResourceID:   listingID,
		OwnerID:      ownerID,
	})
	return nil
}

func (s *MemoryStore) SearchListings(ctx context.Context, filter SearchFilter) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	text := strings.ToLower(strings.TrimSpace(filter.Text))
	var out []domain.Listing
	for _, listing := range s.listings {
		if listing.Status != domain.ListingActive {
			continue
		}
		if filter.Category != "" && listing.Category != filter.Category {
			continue
		}
		if filter.MinPrice != nil && listing.Price < *filter.MinPrice {
			continue
		}
		if filter.MaxPrice != nil && listing.Price > *filter.MaxPrice {
			continue
		}
		if text != "" {
			haystack := strings.ToLower(listing.Title + " " + listing.Description + " " + listing.Metadata.KeywordsText)
			if !strings.Contains(haystack, text) {
				continue
			}
		}
		out = append(out, listing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) WalletBalance(ctx context.Context, ownerID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.wallets[ownerID]
	return balance, ok, nil
}

func (s *MemoryStore) Debit(ctx context.Context, ownerID string, amount int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.wallets[ownerID]
	if !ok || balance < amount {
		return &InsufficientCreditsError{Required: amount, Available: balance}
	}
	s.wallets[ownerID] = balance - amount
	return nil
}

func (s *MemoryStore) Audit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

func (s *MemoryStore) MarketPrices(ctx context.Context, productKey, category string, limit int) ([]domain.MarketPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 5
	}
	key := strings.ToLower(strings.TrimSpace(productKey))
	var out []domain.MarketPrice
	for _, price := range s.prices {
		if key != "" && !strings.Contains(strings.ToLower(price.ProductKey), key) {
			continue
		}
		if category != "" && price.Category != category {
			continue
		}
		out = append(out, price)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordMarketPrice(ctx context.Context, productKey, category string, price float64) error {
	productKey = strings.ToLower(strings.TrimSpace(productKey))
	if productKey == "" || price <= 0 {
		return errors.New("market price observation requires a product key and positive price")
	}
	category = strings.TrimSpace(category)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.prices {
		if existing.ProductKey != productKey || existing.Category != category {
			continue
		}
		n := existing.SampleCount
		existing.AvgPrice = (existing.AvgPrice*float64(n) + price) / float64(n+1)
		existing.SampleCount = n + 1
		s.prices[i] = existing
		return nil
	}
	s.prices = append(s.prices, domain.MarketPrice{
		ProductKey:  productKey,
		Category:    category,
		AvgPrice:    price,
		SampleCount: 1,
	})
	return nil
}
