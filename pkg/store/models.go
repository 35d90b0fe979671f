package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"pazarglobal/pkg/domain"
)

// DraftModel maps the active_drafts table. Field/image/vision/pending blobs
// live in JSONB columns so any instance can resume pending state.
type DraftModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"index"`
	State         string `gorm:"index"`
	ContactPhone  string
	Fields        datatypes.JSON
	Images        datatypes.JSON
	VisionSummary datatypes.JSON
	Pending       datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DraftModel) TableName() string { return "active_drafts" }

// ListingModel maps the listings table.
type ListingModel struct {
	ID          string `gorm:"primaryKey"`
	OwnerID     string `gorm:"index"`
	Title       string
	Description string
	Price       float64
	Category    string `gorm:"index"`
	Status      string `gorm:"index"`
	Images      datatypes.JSON
	Metadata    datatypes.JSON
	SellerName  string
	SellerPhone string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ListingModel) TableName() string { return "listings" }

// WalletModel maps the wallets table. Balance is stored in whole credits.
type WalletModel struct {
	OwnerID   string `gorm:"primaryKey"`
	Balance   int64
	UpdatedAt time.Time
}

func (WalletModel) TableName() string { return "wallets" }

// WalletTransactionModel records every balance movement.
type WalletTransactionModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"index"`
	Amount    int64
	Kind      string
	Reference string
	CreatedAt time.Time
}

func (WalletTransactionModel) TableName() string { return "wallet_transactions" }

// AuditLogModel maps the audit_logs table.
type AuditLogModel struct {
	ID           string `gorm:"primaryKey"`
	Action       string `gorm:"index"`
	ResourceType string
	ResourceID   string
	OwnerID      string `gorm:"index"`
	Metadata     datatypes.JSON
	CreatedAt    time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }

// MarketPriceModel maps the market_price_snapshots table.
type MarketPriceModel struct {
	ID          string `gorm:"primaryKey"`
	ProductKey  string `gorm:"index"`
	Category    string `gorm:"index"`
	AvgPrice    float64
	SampleCount int
	CreatedAt   time.Time
}

func (MarketPriceModel) TableName() string { return "market_price_snapshots" }

func draftToModel(d domain.Draft) DraftModel {
	fields, _ := json.Marshal(d.Fields)
	images, _ := json.Marshal(d.Images)
	pending, _ := json.Marshal(d.Pending)
	var vision datatypes.JSON
	if d.Vision != nil {
		raw, _ := json.Marshal(d.Vision)
		vision = raw
	}
	return DraftModel{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		State:         string(d.State),
		ContactPhone:  d.Fields.ContactPhone,
		Fields:        fields,
		Images:        images,
		VisionSummary: vision,
		Pending:       pending,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func draftFromModel(m DraftModel) domain.Draft {
	d := domain.Draft{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		State:     domain.DraftState(m.State),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Fields) > 0 {
		_ = json.Unmarshal(m.Fields, &d.Fields)
	}
	if len(m.Images) > 0 {
		_ = json.Unmarshal(m.Images, &d.Images)
	}
	if len(m.VisionSummary) > 0 && string(m.VisionSummary) != "null" {
		var vs domain.VisionSummary
		if err := json.Unmarshal(m.VisionSummary, &vs); err == nil {
			d.Vision = &vs
		}
	}
	if len(m.Pending) > 0 {
		_ = json.Unmarshal(m.Pending, &d.Pending)
	}
	if d.Fields.ContactPhone == "" {
		d.Fields.ContactPhone = m.ContactPhone
	}
	return d
}

func listingToModel(l domain.Listing) ListingModel {
	images, _ := json.Marshal(l.Images)
	meta, _ := json.Marshal(l.Metadata)
	return ListingModel{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Title:       l.Title,
		Description: l.Description,
		Price:       l.Price,
		Category:    l.Category,
		Status:      string(l.Status),
		Images:      images,
		Metadata:    meta,
		SellerName:  l.SellerName,
		SellerPhone: l.SellerPhone,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func listingFromModel(m ListingModel) domain.Listing {
	l := domain.Listing{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Title:       m.Title,
		Description: m.Description,
		Price:       m.Price,
		Category:    m.Category,
		Status:      domain.ListingStatus(m.Status),
		SellerName:  m.SellerName,
		SellerPhone: m.SellerPhone,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if len(m.Images) > 0 {
		_ = json.Unmarshal(m.Images, &l.Images)
	}
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &l.Metadata)
	}
	return l
}
