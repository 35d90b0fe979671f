package domain

import "time"

// Intent is a top-level routing decision for an inbound message.
type Intent string

const (
	IntentCreateListing   Intent = "create_listing"
	IntentPublishOrDelete Intent = "publish_or_delete"
	IntentSearchListings  Intent = "search_listings"
	IntentSmallTalk       Intent = "small_talk"
)

// Slot is one of the draft fields the orchestrator fills, in fixed priority order.
type Slot string

const (
	SlotImages      Slot = "images"
	SlotTitle       Slot = "title"
	SlotDescription Slot = "description"
	SlotPrice       Slot = "price"
	SlotCategory    Slot = "category"
)

// SlotOrder is the fixed ask-next priority for draft completion.
var SlotOrder = []Slot{SlotImages, SlotTitle, SlotDescription, SlotPrice, SlotCategory}

type DraftState string

const (
	DraftInProgress DraftState = "in_progress"
)

// DraftFields holds the user-facing listing fields. Empty string / nil price
// means the slot is not yet filled.
type DraftFields struct {
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	Category     string   `json:"category,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`
}

// DraftImage is one uploaded photo, deduplicated by URL.
type DraftImage struct {
	ImageURL string         `json:"image_url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VisionSummary is the model's interpretation of the most recent image set.
// Advisory only: never authoritative for price or category unless confirmed.
type VisionSummary struct {
	Product     string   `json:"product,omitempty"`
	Category    string   `json:"category,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Features    []string `json:"features,omitempty"`
	Description string   `json:"description,omitempty"`
	SafetyFlags []string `json:"safety_flags,omitempty"`
	Raw         string   `json:"raw,omitempty"`
}

// PriceSuggestion is an unconfirmed proposed price awaiting a yes/no/override.
type PriceSuggestion struct {
	Amount      float64   `json:"amount"`
	Source      string    `json:"source"`
	SuggestedAt time.Time `json:"suggestedAt"`
}

// PendingPublish marks a publish confirmation in flight for a draft.
type PendingPublish struct {
	Cost        int64     `json:"cost"`
	Balance     int64     `json:"balance"`
	RequestedAt time.Time `json:"requestedAt"`
}

// DraftPending is the side-channel state stored on the draft itself so that
// any stateless instance can resume a pending confirmation. It is never copied
// into a published Listing.
type DraftPending struct {
	PriceSuggestion *PriceSuggestion `json:"price_suggestion,omitempty"`
	Publish         *PendingPublish  `json:"publish,omitempty"`
}

// Draft is the single mutable in-progress listing record per owner.
type Draft struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	State     DraftState     `json:"state"`
	Fields    DraftFields    `json:"fields"`
	Images    []DraftImage   `json:"images"`
	Vision    *VisionSummary `json:"vision_summary,omitempty"`
	Pending   DraftPending   `json:"pending,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// HasImage reports whether the draft already carries the given image URL.
func (d Draft) HasImage(url string) bool {
	for _, img := range d.Images {
		if img.ImageURL == url {
			return true
		}
	}
	return false
}

// Started reports whether the draft carries any user content yet. A
// freshly created or reset draft is not started; session recovery must
// not re-lock the user into an empty one.
func (d Draft) Started() bool {
	f := d.Fields
	return len(d.Images) > 0 || f.Title != "" || f.Description != "" || f.Price != nil || f.Category != ""
}

// Publishable reports whether the draft satisfies the publishability
// predicate: all five fields plus at least one image.
func (d Draft) Publishable() bool {
	f := d.Fields
	return f.Title != "" && f.Description != "" && f.Price != nil && f.Category != "" && len(d.Images) > 0
}

type ListingStatus string

const (
	ListingActive  ListingStatus = "active"
	ListingDeleted ListingStatus = "deleted"
)

// ListingMetadata carries searchable keywords and provenance for a listing.
type ListingMetadata struct {
	Keywords     []string `json:"keywords,omitempty"`
	KeywordsText string   `json:"keywords_text,omitempty"`
	Provenance   string   `json:"provenance,omitempty"`
}

// Listing is an immutable-once-published catalog entry.
type Listing struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       float64         `json:"price"`
	Category    string          `json:"category"`
	Status      ListingStatus   `json:"status"`
	Images      []string        `json:"images"`
	Metadata    ListingMetadata `json:"metadata"`
	SellerName  string          `json:"sellerName,omitempty"`
	SellerPhone string          `json:"sellerPhone,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// MarketPrice is an external market price snapshot for a product key.
type MarketPrice struct {
	ProductKey  string  `json:"productKey"`
	Category    string  `json:"category,omitempty"`
	AvgPrice    float64 `json:"avgPrice"`
	SampleCount int     `json:"sampleCount"`
}

// Reply is the response envelope every turn handler returns. The transport
// layer always expects a Reply, never a thrown error.
type Reply struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Intent  Intent         `json:"intent,omitempty"`
}
