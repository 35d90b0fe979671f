// Package publish drives the confirm-gated state machine that turns a
// completed draft into a live listing, and the mirror path that deletes a
// listing. Publishing costs wallet credits; nothing goes live without a
// successful debit.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pazarglobal/internal/compose"
	"pazarglobal/internal/intent"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/events"
	"pazarglobal/pkg/keywords"
	"pazarglobal/pkg/store"
)

const deleteConfirmPrefix = "delete_listing:"

// Turn is one publish_or_delete message.
type Turn struct {
	SessionID     string
	OwnerID       string
	Text          string
	ActiveDraftID string
	// ListingID targets a delete at a specific listing, typically picked
	// from recent search results.
	ListingID string
	// AwaitingConfirm is the session's outstanding confirmation token.
	AwaitingConfirm string
	SellerName      string
}

// Result is the flow's answer plus session state updates.
type Result struct {
	Message string
	Data    map[string]any
	// ClearDraft tells the caller to drop the session's draft pointer.
	ClearDraft bool
	// AwaitingConfirm is the new confirmation token ("" clears it).
	AwaitingConfirm string
	ListingID       string
}

// PriceFeed receives the price of every published listing so market
// snapshots track what sellers actually ask.
type PriceFeed interface {
	EnqueuePrice(ctx context.Context, productKey, category string, price float64) error
}

// Flow implements the publish/delete state machine.
type Flow struct {
	store      store.EntityStore
	keywords   *keywords.Generator
	publisher  events.Publisher
	priceFeed  PriceFeed
	cost       int64
	categories []string
}

// NewFlow wires the flow. keywords and publisher may be nil.
func NewFlow(st store.EntityStore, kw *keywords.Generator, publisher events.Publisher, creditCost int64, categories []string) *Flow {
	return &Flow{store: st, keywords: kw, publisher: publisher, cost: creditCost, categories: categories}
}

// SetPriceFeed enables market price observations for published listings.
func (f *Flow) SetPriceFeed(feed PriceFeed) { f.priceFeed = feed }

// HandleTurn advances the state machine by one message.
func (f *Flow) HandleTurn(ctx context.Context, turn Turn) (Result, error) {
	text := strings.TrimSpace(turn.Text)

	if strings.HasPrefix(turn.AwaitingConfirm, deleteConfirmPrefix) {
		return f.resolveDeleteConfirm(ctx, turn, text)
	}

	if intent.IsDeleteCommand(text) {
		return f.startDelete(ctx, turn)
	}

	draft, ok, err := f.resolveDraft(ctx, turn)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "Yayınlanacak bir ilan taslağınız yok. \"ilan oluştur\" yazarak başlayabilirsiniz."}, nil
	}

	if draft.Pending.Publish != nil {
		return f.resolvePendingPublish(ctx, turn, draft, text)
	}
	return f.preview(ctx, draft)
}

func (f *Flow) resolveDraft(ctx context.Context, turn Turn) (domain.Draft, bool, error) {
	if turn.ActiveDraftID != "" {
		if draft, ok, err := f.store.GetDraft(ctx, turn.ActiveDraftID); err != nil {
			return domain.Draft{}, false, err
		} else if ok && draft.OwnerID == turn.OwnerID {
			return draft, true, nil
		}
	}
	return f.store.LatestDraftForOwner(ctx, turn.OwnerID)
}

// preview re-checks publishability, shows the listing with cost and
// balance, and parks the pending publish on the draft.
func (f *Flow) preview(ctx context.Context, draft domain.Draft) (Result, error) {
	if missing := missingSlots(draft); len(missing) > 0 {
		return Result{
			Message: "İlan henüz hazır değil. Eksikler: " + strings.Join(missing, ", ") + ". " + compose.SlotPrompt(compose.NextMissingSlot(draft)),
			Data:    map[string]any{"missing": missing},
		}, nil
	}

	balance, _, err := f.store.WalletBalance(ctx, draft.OwnerID)
	if err != nil {
		return Result{}, err
	}
	pending := draft.Pending
	pending.Publish = &domain.PendingPublish{Cost: f.cost, Balance: balance}
	if err := f.store.SetPending(ctx, draft.ID, pending); err != nil {
		return Result{}, err
	}

	var b strings.Builder
	b.WriteString("📋 Yayınlanacak ilan:\n\n")
	b.WriteString("📝 " + draft.Fields.Title + "\n")
	b.WriteString("📄 " + draft.Fields.Description + "\n")
	if draft.Fields.Price != nil {
		b.WriteString("💰 " + compose.FormatPrice(*draft.Fields.Price) + " TL\n")
	}
	b.WriteString("📁 " + draft.Fields.Category + "\n")
	b.WriteString(fmt.Sprintf("📸 %d fotoğraf\n\n", len(draft.Images)))
	b.WriteString(fmt.Sprintf("💳 Yayınlama ücreti %d kredi (bakiyeniz %d).\n", f.cost, balance))
	b.WriteString("Onaylamak için \"evet\", düzeltmek için \"fiyat: 500\" gibi yazın, vazgeçmek için \"iptal\".")
	return Result{
		Message: b.String(),
		Data:    map[string]any{"cost": f.cost, "balance": balance},
	}, nil
}

// resolvePendingPublish consumes the user's answer to an outstanding
// preview: confirm commits, a field edit re-patches and re-previews,
// cancel clears.
func (f *Flow) resolvePendingPublish(ctx context.Context, turn Turn, draft domain.Draft, text string) (Result, error) {
	if intent.IsCancel(text) {
		pending := draft.Pending
		pending.Publish = nil
		if err := f.store.SetPending(ctx, draft.ID, pending); err != nil {
			return Result{}, err
		}
		return Result{Message: "Tamam, yayınlamadım. Taslağınız duruyor; hazır olunca \"yayınla\" yazın."}, nil
	}
	if field, value, ok := compose.ParseFieldEdit(text); ok {
		if err := f.applyEdit(ctx, draft.ID, field, value); err != nil {
			return Result{}, err
		}
		fresh, _, err := f.store.GetDraft(ctx, draft.ID)
		if err != nil {
			return Result{}, err
		}
		return f.preview(ctx, fresh)
	}
	if intent.IsConfirmation(text) || intent.IsPublishCommand(text) {
		return f.commit(ctx, turn, draft)
	}
	return Result{Message: "Onaylamak için \"evet\", vazgeçmek için \"iptal\" yazın. Bir alanı \"fiyat: 500\" gibi düzeltebilirsiniz."}, nil
}

func (f *Flow) applyEdit(ctx context.Context, draftID, field, value string) error {
	patch := store.FieldPatch{}
	switch field {
	case "title":
		if compose.ValidTitle(value) {
			patch.Title = &value
		}
	case "description":
		if compose.ValidDescription(value) {
			patch.Description = &value
		}
	case "price":
		if price, ok := compose.ParsePrice(value); ok {
			patch.Price = &price
		}
	case "category":
		// category edits funnel through the same synonym table as the
		// slot filler; unknown values are ignored rather than stored raw
		if canonical, ok := compose.NormalizeCategory(value, f.categories); ok {
			patch.Category = &canonical
		}
	}
	if patch.Empty() {
		return nil
	}
	return f.store.PatchDraftField(ctx, draftID, patch)
}

// commit re-checks everything and performs the atomic publish: insert
// listing, debit wallet, delete draft. An insufficient balance surfaces
// with the exact numbers and leaves the draft untouched.
func (f *Flow) commit(ctx context.Context, turn Turn, draft domain.Draft) (Result, error) {
	if missing := missingSlots(draft); len(missing) > 0 {
		return Result{Message: "İlan artık eksik görünüyor: " + strings.Join(missing, ", ")}, nil
	}

	images := make([]string, 0, len(draft.Images))
	for _, img := range draft.Images {
		images = append(images, img.ImageURL)
	}
	meta := domain.ListingMetadata{}
	if f.keywords != nil {
		kw := f.keywords.Generate(ctx, draft.Fields.Title, draft.Fields.Description, draft.Fields.Category)
		meta.Keywords = kw.Keywords
		meta.KeywordsText = strings.Join(kw.Keywords, " ")
		meta.Provenance = kw.Provenance
	}

	listing := domain.Listing{
		Title:       draft.Fields.Title,
		Description: draft.Fields.Description,
		Price:       *draft.Fields.Price,
		Category:    draft.Fields.Category,
		Images:      images,
		Metadata:    meta,
		SellerName:  turn.SellerName,
		SellerPhone: draft.Fields.ContactPhone,
	}

	published, err := f.store.Publish(ctx, draft.ID, turn.OwnerID, f.cost, listing)
	if err != nil {
		var insufficient *store.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return Result{
				Message: fmt.Sprintf("💳 Bakiyeniz yetersiz: %d kredi gerekli, %d krediniz var. Taslağınız duruyor.", insufficient.Required, insufficient.Available),
				Data:    map[string]any{"required": insufficient.Required, "available": insufficient.Available},
			}, nil
		}
		return Result{}, err
	}

	events.Emit(ctx, f.publisher, events.Event{
		Type:       events.TypeListingPublished,
		OwnerID:    turn.OwnerID,
		ResourceID: published.ID,
		Payload:    map[string]any{"title": published.Title, "price": published.Price, "category": published.Category},
	})
	if f.priceFeed != nil {
		if err := f.priceFeed.EnqueuePrice(ctx, published.Title, published.Category, published.Price); err != nil {
			slog.Warn("price observation enqueue failed", "listing_id", published.ID, "err", err)
		}
	}
	return Result{
		Message:    fmt.Sprintf("🎉 İlanınız yayında! \"%s\" — %s TL. İlan no: %s", published.Title, compose.FormatPrice(published.Price), published.ID),
		Data:       map[string]any{"listing": published},
		ClearDraft: true,
		ListingID:  published.ID,
	}, nil
}

// startDelete resolves the delete target. A specific listing needs a
// confirmation round trip; a bare draft is deleted immediately.
func (f *Flow) startDelete(ctx context.Context, turn Turn) (Result, error) {
	if turn.ListingID != "" {
		listing, ok, err := f.store.GetListing(ctx, turn.ListingID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Message: "Böyle bir ilan bulamadım."}, nil
		}
		if listing.OwnerID != turn.OwnerID {
			return Result{Message: "Bu ilan size ait değil, silemezsiniz."}, nil
		}
		return Result{
			Message:         fmt.Sprintf("\"%s\" ilanını silmek istediğinize emin misiniz? Onaylamak için \"evet\" yazın.", listing.Title),
			AwaitingConfirm: deleteConfirmPrefix + listing.ID,
		}, nil
	}

	draft, ok, err := f.resolveDraft(ctx, turn)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Message: "Silinecek bir ilan ya da taslak bulamadım."}, nil
	}
	if err := f.store.DeleteDraft(ctx, draft.ID); err != nil {
		return Result{}, err
	}
	return Result{Message: "🗑️ Taslağınız silindi. Yeni ilan için \"ilan oluştur\" yazabilirsiniz.", ClearDraft: true}, nil
}

func (f *Flow) resolveDeleteConfirm(ctx context.Context, turn Turn, text string) (Result, error) {
	listingID := strings.TrimPrefix(turn.AwaitingConfirm, deleteConfirmPrefix)
	if !intent.IsConfirmation(text) {
		return Result{Message: "Tamam, silmedim.", AwaitingConfirm: ""}, nil
	}
	err := f.store.DeleteListing(ctx, listingID, turn.OwnerID)
	switch {
	case errors.Is(err, store.ErrListingNotFound):
		return Result{Message: "Bu ilan zaten silinmiş.", AwaitingConfirm: ""}, nil
	case errors.Is(err, store.ErrNotOwner):
		return Result{Message: "Bu ilan size ait değil, silemezsiniz.", AwaitingConfirm: ""}, nil
	case err != nil:
		return Result{}, err
	}
	events.Emit(ctx, f.publisher, events.Event{
		Type:       events.TypeListingDeleted,
		OwnerID:    turn.OwnerID,
		ResourceID: listingID,
	})
	return Result{Message: "🗑️ İlanınız silindi.", AwaitingConfirm: ""}, nil
}

func missingSlots(d domain.Draft) []string {
	var missing []string
	if len(d.Images) == 0 {
		missing = append(missing, "fotoğraf")
	}
	if strings.TrimSpace(d.Fields.Title) == "" {
		missing = append(missing, "başlık")
	}
	if strings.TrimSpace(d.Fields.Description) == "" {
		missing = append(missing, "açıklama")
	}
	if d.Fields.Price == nil || *d.Fields.Price <= 0 {
		missing = append(missing, "fiyat")
	}
	if strings.TrimSpace(d.Fields.Category) == "" {
		missing = append(missing, "kategori")
	}
	return missing
}
