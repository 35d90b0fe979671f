package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"pazarglobal/internal/util"
	"pazarglobal/pkg/domain"
)

// GormStore implements EntityStore using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&DraftModel{},
		&ListingModel{},
		&WalletModel{},
		&WalletTransactionModel{},
		&AuditLogModel{},
		&MarketPriceModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateOrReuseDraft returns the owner's latest in-progress draft, creating
// one only when none exists. This is what enforces the one-draft-per-owner
// invariant.
func (s *GormStore) CreateOrReuseDraft(ctx context.Context, ownerID, contactPhone string) (domain.Draft, error) {
	if existing, ok, err := s.LatestDraftForOwner(ctx, ownerID); err != nil {
		return domain.Draft{}, err
	} else if ok {
		return existing, nil
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
	model := draftToModel(draft)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Draft{}, fmt.Errorf("create draft: %w", err)
	}
	return draft, nil
}

// GetDraft retrieves a draft by ID.
func (s *GormStore) GetDraft(ctx context.Context, draftID string) (domain.Draft, bool, error) {
	var model DraftModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", draftID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Draft{}, false, nil
		}
		return domain.Draft{}, false, err
	}
	return draftFromModel(model), true, nil
}

// LatestDraftForOwner returns the most recent in-progress draft for an owner.
func (s *GormStore) LatestDraftForOwner(ctx context.Context, ownerID string) (domain.Draft, bool, error) {
	var model DraftModel
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND state = ?", ownerID, string(domain.DraftInProgress)).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Draft{}, false, nil
		}
		return domain.Draft{}, false, err
	}
	return draftFromModel(model), true, nil
}

// PatchDraftField applies a single-field patch via read-modify-write on the
// JSON fields column. Field-level last-write-wins by design of the caller.
func (s *GormStore) PatchDraftField(ctx context.Context, draftID string, patch FieldPatch) error {
	if patch.Empty() {
		return nil
	}
	draft, ok, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDraftNotFound
	}
	patch.Apply(&draft.Fields)
	raw, _ := json.Marshal(draft.Fields)
	return s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ?", draftID).
		Updates(map[string]any{
			"fields":     raw,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ResetDraft wipes fields and images but keeps the draft in progress, so the
// user can start over without losing draft continuity.
func (s *GormStore) ResetDraft(ctx context.Context, draftID string) error {
	draft, ok, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDraftNotFound
	}
	fields, _ := json.Marshal(domain.DraftFields{ContactPhone: draft.Fields.ContactPhone})
	images, _ := json.Marshal([]domain.DraftImage{})
	pending, _ := json.Marshal(domain.DraftPending{})
	return s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ?", draftID).
		Updates(map[string]any{
			"fields":         fields,
			"images":         images,
			"vision_summary": nil,
			"pending":        pending,
			"state":          string(domain.DraftInProgress),
			"updated_at":     time.Now().UTC(),
		}).Error
}

// DeleteDraft removes a draft entirely.
func (s *GormStore) DeleteDraft(ctx context.Context, draftID string) error {
	return s.db.WithContext(ctx).Delete(&DraftModel{}, "id = ?", draftID).Error
}

// AppendImage adds an image URL to the draft, deduplicating by URL and
// merging metadata instead of overwriting it.
func (s *GormStore) AppendImage(ctx context.Context, draftID, imageURL string, metadata map[string]any) error {
	draft, ok, err := s.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
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
	raw, _ := json.Marshal(draft.Images)
	return s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ?", draftID).
		Updates(map[string]any{
			"images":     raw,
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetVisionSummary stores the latest vision interpretation on the draft.
func (s *GormStore) SetVisionSummary(ctx context.Context, draftID string, summary domain.VisionSummary) error {
	raw, _ := json.Marshal(summary)
	tx := s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ?", draftID).
		Updates(map[string]any{
			"vision_summary": raw,
			"updated_at":     time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// SetPending replaces the draft's side-channel pending state.
func (s *GormStore) SetPending(ctx context.Context, draftID string, pending domain.DraftPending) error {
	raw, _ := json.Marshal(pending)
	tx := s.db.WithContext(ctx).Model(&DraftModel{}).
		Where("id = ?", draftID).
		Updates(map[string]any{
			"pending":    raw,
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// Publish inserts the listing, debits the wallet, and deletes the draft in
// one transaction. A failed debit rolls back the listing insert; publishing
// must never succeed without a successful debit when cost > 0.
func (s *GormStore) Publish(ctx context.Context, draftID, ownerID string, cost int64, listing domain.Listing) (domain.Listing, error) {
	now := time.Now().UTC()
	if listing.ID == "" {
		listing.ID = util.NewID()
	}
	listing.OwnerID = ownerID
	listing.Status = domain.ListingActive
	listing.CreatedAt = now
	listing.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := listingToModel(listing)
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		if cost > 0 {
			if err := debitTx(tx, ownerID, cost, "publish_listing:"+listing.ID); err != nil {
				return err
			}
		}
		if err := tx.Delete(&DraftModel{}, "id = ?", draftID).Error; err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}
	_ = s.Audit(ctx, AuditEntry{
		Action:       "publish_listing",
		ResourceType: "listing",
		ResourceID:   listing.ID,
		OwnerID:      ownerID,
		Metadata:     map[string]any{"draft_id": draftID, "cost": cost},
	})
	return listing, nil
}

// GetListing retrieves one listing.
func (s *GormStore) GetListing(ctx context.Context, listingID string) (domain.Listing, bool, error) {
	var model ListingModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", listingID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Listing{}, false, nil
		}
		return domain.Listing{}, false, err
	}
	return listingFromModel(model), true, nil
}

// DeleteListing removes a listing owned by the requester and audits it.
func (s *GormStore) DeleteListing(ctx context.Context, listingID, ownerID string) error {
	listing, ok, err := s.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if ownerID != "" && listing.OwnerID != ownerID {
		return ErrNotOwner
	}
	if err := s.db.WithContext(ctx).Delete(&ListingModel{}, "id = ?", listingID).Error; err != nil {
		return err
	}
	_ = s.Audit(ctx, AuditEntry{
		Action:       "delete_listing",
		ResourceType: "listing",
		ResourceID:   listingID,
		OwnerID:      ownerID,
		Metadata:     map[string]any{"listing_id": listingID},
	})
	return nil
}

// SearchListings applies category/price/text filters over active listings.
func (s *GormStore) SearchListings(ctx context.Context, filter SearchFilter) ([]domain.Listing, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := s.db.WithContext(ctx).Model(&ListingModel{}).
		Where("status = ?", string(domain.ListingActive))
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.MinPrice != nil {
		query = query.Where("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query = query.Where("price <= ?", *filter.MaxPrice)
	}
	if text := strings.TrimSpace(filter.Text); text != "" {
		like := "%" + text + "%"
		query = query.Where("title ILIKE ? OR description ILIKE ? OR metadata::text ILIKE ?", like, like, like)
	}
	var models []ListingModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	listings := make([]domain.Listing, 0, len(models))
	for _, model := range models {
		listings = append(listings, listingFromModel(model))
	}
	return listings, nil
}

// WalletBalance returns the owner's credit balance.
func (s *GormStore) WalletBalance(ctx context.Context, ownerID string) (int64, bool, error) {
	var model WalletModel
	if err := s.db.WithContext(ctx).First(&model, "owner_id = ?", ownerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.Balance, true, nil
}

// Debit removes credits from the wallet, recording a transaction.
func (s *GormStore) Debit(ctx context.Context, ownerID string, amount int64, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return debitTx(tx, ownerID, amount, reason)
	})
}

func debitTx(tx *gorm.DB, ownerID string, amount int64, reason string) error {
	var wallet WalletModel
	if err := tx.First(&wallet, "owner_id = ?", ownerID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &InsufficientCreditsError{Required: amount, Available: 0}
		}
		return err
	}
	if wallet.Balance < amount {
		return &InsufficientCreditsError{Required: amount, Available: wallet.Balance}
	}
	if err := tx.Model(&WalletModel{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"balance":    wallet.Balance - amount,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	txn := WalletTransactionModel{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Amount:    -amount,
		Kind:      "debit",
		Reference: reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(&txn).Error; err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// Audit writes a best-effort audit record. Failures are logged, never raised.
func (s *GormStore) Audit(ctx context.Context, entry AuditEntry) error {
	meta, _ := json.Marshal(entry.Metadata)
	model := AuditLogModel{
		ID:           util.NewID(),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		OwnerID:      entry.OwnerID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		slog.Warn("audit write failed", "action", entry.Action, "err", err)
		return err
	}
	return nil
}

// MarketPrices returns snapshots matched by product key fragment or category.
func (s *GormStore) MarketPrices(ctx context.Context, productKey, category string, limit int) ([]domain.MarketPrice, error) {
	if limit <= 0 {
		limit = 5
	}
	query := s.db.WithContext(ctx).Model(&MarketPriceModel{})
	if productKey = strings.TrimSpace(productKey); productKey != "" {
		query = query.Where("product_key ILIKE ?", "%"+productKey+"%")
	}
	if category = strings.TrimSpace(category); category != "" {
		query = query.Where("category = ?", category)
	}
	var models []MarketPriceModel
	if err := query.Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	prices := make([]domain.MarketPrice, 0, len(models))
	for _, model := range models {
		prices = append(prices, domain.MarketPrice{
			ProductKey:  model.ProductKey,
			Category:    model.Category,
			AvgPrice:    model.AvgPrice,
			SampleCount: model.SampleCount,
		})
	}
	return prices, nil
}

// RecordMarketPrice folds one observation into the product's snapshot as
// a running average, creating the snapshot on first sight.
func (s *GormStore) RecordMarketPrice(ctx context.Context, productKey, category string, price float64) error {
	productKey = strings.ToLower(strings.TrimSpace(productKey))
	if productKey == "" || price <= 0 {
		return errors.New("market price observation requires a product key and positive price")
	}
	category = strings.TrimSpace(category)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model MarketPriceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("product_key = ? AND category = ?", productKey, category).
			First(&model).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&MarketPriceModel{
				ID:          util.NewID(),
				ProductKey:  productKey,
				Category:    category,
				AvgPrice:    price,
				SampleCount: 1,
			}).Error
		case err != nil:
			return err
		}
		n := model.SampleCount
		model.AvgPrice = (model.AvgPrice*float64(n) + price) / float64(n+1)
		model.SampleCount = n + 1
		return tx.Model(&MarketPriceModel{}).Where("id = ?", model.ID).
			Updates(map[string]any{"avg_price": model.AvgPrice, "sample_count": model.SampleCount}).Error
	})
}
