package store

import (
	"context"
	"errors"
	"testing"

	"pazarglobal/pkg/domain"
)

func TestCreateOrReuseDraftReturnsLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateOrReuseDraft(ctx, "owner-1", "+905551112233")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	second, err := s.CreateOrReuseDraft(ctx, "owner-1", "+905551112233")
	if err != nil {
		t.Fatalf("reuse draft: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected reuse of draft %s, got new draft %s", first.ID, second.ID)
	}
	if second.Fields.ContactPhone != "+905551112233" {
		t.Fatalf("contact phone not carried: %q", second.Fields.ContactPhone)
	}
}

func TestResetDraftKeepsContactPhone(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	draft, err := s.CreateOrReuseDraft(ctx, "owner-1", "+905551112233")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	title := "iPhone 13 Pro"
	if err := s.PatchDraftField(ctx, draft.ID, FieldPatch{Title: &title}); err != nil {
		t.Fatalf("patch title: %v", err)
	}
	if err := s.AppendImage(ctx, draft.ID, "https://cdn.example/img1.jpg", nil); err != nil {
		t.Fatalf("append image: %v", err)
	}
	if err := s.ResetDraft(ctx, draft.ID); err != nil {
		t.Fatalf("reset draft: %v", err)
	}

	got, ok, err := s.GetDraft(ctx, draft.ID)
	if err != nil || !ok {
		t.Fatalf("get after reset: ok=%v err=%v", ok, err)
	}
	if got.Fields.Title != "" {
		t.Fatalf("title survived reset: %q", got.Fields.Title)
	}
	if len(got.Images) != 0 {
		t.Fatalf("images survived reset: %d", len(got.Images))
	}
	if got.Fields.ContactPhone != "+905551112233" {
		t.Fatalf("contact phone lost on reset: %q", got.Fields.ContactPhone)
	}
	if got.State != domain.DraftInProgress {
		t.Fatalf("unexpected state after reset: %s", got.State)
	}
}

func TestAppendImageDedupesAndMergesMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	draft, _ := s.CreateOrReuseDraft(ctx, "owner-1", "")
	url := "https://cdn.example/img1.jpg"
	if err := s.AppendImage(ctx, draft.ID, url, map[string]any{"source": "whatsapp"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendImage(ctx, draft.ID, url, map[string]any{"analyzed": true}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}

	got, _, _ := s.GetDraft(ctx, draft.ID)
	if len(got.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(got.Images))
	}
	meta := got.Images[0].Metadata
	if meta["source"] != "whatsapp" || meta["analyzed"] != true {
		t.Fatalf("metadata not merged: %v", meta)
	}
}

func TestPublishDebitsWalletAndRemovesDraft(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetBalance("owner-1", 3)

	draft, _ := s.CreateOrReuseDraft(ctx, "owner-1", "+905551112233")
	listing, err := s.Publish(ctx, draft.ID, "owner-1", 1, domain.Listing{
		Title:    "iPhone 13 Pro",
		Price:    25000,
		Category: "Elektronik",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if listing.Status != domain.ListingActive {
		t.Fatalf("listing not active: %s", listing.Status)
	}

	if _, ok, _ := s.GetDraft(ctx, draft.ID); ok {
		t.Fatal("draft survived publish")
	}
	balance, _, _ := s.WalletBalance(ctx, "owner-1")
	if balance != 2 {
		t.Fatalf("expected balance 2, got %d", balance)
	}

	entries := s.AuditEntries()
	if len(entries) != 1 || entries[0].Action != "publish_listing" {
		t.Fatalf("unexpected audit trail: %+v", entries)
	}
}

func TestPublishInsufficientCreditsRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetBalance("owner-1", 0)

	draft, _ := s.CreateOrReuseDraft(ctx, "owner-1", "")
	_, err := s.Publish(ctx, draft.ID, "owner-1", 1, domain.Listing{Title: "Koltuk"})

	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Required != 1 || insufficient.Available != 0 {
		t.Fatalf("wrong error detail: %+v", insufficient)
	}

	// nothing committed: draft intact, no listing inserted
	if _, ok, _ := s.GetDraft(ctx, draft.ID); !ok {
		t.Fatal("draft deleted despite failed debit")
	}
	results, _ := s.SearchListings(ctx, SearchFilter{})
	if len(results) != 0 {
		t.Fatalf("listing leaked past rollback: %d", len(results))
	}
}

func TestDeleteListingEnforcesOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetBalance("owner-1", 5)

	draft, _ := s.CreateOrReuseDraft(ctx, "owner-1", "")
	listing, err := s.Publish(ctx, draft.ID, "owner-1", 1, domain.Listing{Title: "Bisiklet"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := s.DeleteListing(ctx, listing.ID, "owner-2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := s.DeleteListing(ctx, listing.ID, "owner-1"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := s.DeleteListing(ctx, listing.ID, "owner-1"); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestSearchListingsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetBalance("owner-1", 10)

	seed := []domain.Listing{
		{Title: "iPhone 13 Pro", Price: 25000, Category: "Elektronik"},
		{Title: "Samsung TV", Price: 15000, Category: "Elektronik"},
		{Title: "Ahşap Masa", Price: 3000, Category: "Ev & Yaşam"},
	}
	for _, l := range seed {
		draft, _ := s.CreateOrReuseDraft(ctx, "owner-1", "")
		if _, err := s.Publish(ctx, draft.ID, "owner-1", 1, l); err != nil {
			t.Fatalf("seed publish: %v", err)
		}
	}

	max := 20000.0
	results, err := s.SearchListings(ctx, SearchFilter{Category: "Elektronik", MaxPrice: &max})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Samsung TV" {
		t.Fatalf("unexpected results: %+v", results)
	}

	results, err = s.SearchListings(ctx, SearchFilter{Text: "iphone"})
	if err != nil {
		t.Fatalf("text search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "iPhone 13 Pro" {
		t.Fatalf("unexpected text results: %+v", results)
	}
}

func TestRecordMarketPriceRunningAverage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.RecordMarketPrice(ctx, "iPhone 13 Pro", "Elektronik", 20000); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	if err := s.RecordMarketPrice(ctx, "iphone 13 pro", "Elektronik", 30000); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	prices, err := s.MarketPrices(ctx, "iphone 13 pro", "Elektronik", 5)
	if err != nil {
		t.Fatalf("market prices: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("snapshots = %d, want one folded snapshot", len(prices))
	}
	if prices[0].AvgPrice != 25000 || prices[0].SampleCount != 2 {
		t.Fatalf("snapshot = %+v, want avg 25000 over 2 samples", prices[0])
	}

	if err := s.RecordMarketPrice(ctx, "", "Elektronik", 100); err == nil {
		t.Fatal("empty product key accepted")
	}
	if err := s.RecordMarketPrice(ctx, "telefon", "", -5); err == nil {
		t.Fatal("negative price accepted")
	}
}
