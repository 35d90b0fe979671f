package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pazarglobal/internal/intent"
	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/events"
	"pazarglobal/pkg/storage"
	"pazarglobal/pkg/store"
)

// Turn is one create_listing message routed to the orchestrator.
type Turn struct {
	SessionID     string
	OwnerID       string
	ContactPhone  string
	Text          string
	MediaURLs     []string
	ActiveDraftID string
	// MediaAnalysis carries vision summaries computed while the photos
	// were buffered, keyed by source URL, so commit skips re-analysis.
	MediaAnalysis map[string]domain.VisionSummary
}

// Result is the orchestrator's answer plus updated session pointers.
type Result struct {
	Message string
	Data    map[string]any
	DraftID string
}

// Orchestrator drives the slot-filling flow over a draft.
type Orchestrator struct {
	store      store.EntityStore
	workers    []Worker
	vision     ai.VisionAnalyzer
	mirror     storage.MediaMirror
	llm        ai.TextGenerator
	publisher  events.Publisher
	categories []string
}

// NewOrchestrator wires the orchestrator. vision, mirror, llm and publisher
// may be nil; the flow degrades to text-only slot filling.
func NewOrchestrator(st store.EntityStore, workers []Worker, vision ai.VisionAnalyzer, mirror storage.MediaMirror, llm ai.TextGenerator, publisher events.Publisher, categories []string) *Orchestrator {
	if mirror == nil {
		mirror = storage.PassthroughMirror{}
	}
	return &Orchestrator{
		store:      st,
		workers:    workers,
		vision:     vision,
		mirror:     mirror,
		llm:        llm,
		publisher:  publisher,
		categories: categories,
	}
}

// HandleTurn advances the draft by one conversational turn.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn) (Result, error) {
	draft, err := o.resolveDraft(ctx, turn)
	if err != nil {
		return Result{}, err
	}

	if len(turn.MediaURLs) > 0 {
		draft = o.commitMedia(ctx, draft, turn.MediaURLs, turn.MediaAnalysis)
	}

	text := strings.TrimSpace(turn.Text)

	if draft.Pending.PriceSuggestion != nil {
		if res, handled := o.handlePendingSuggestion(ctx, draft, text); handled {
			return res, nil
		}
	}

	if text != "" {
		if handled, err := o.applyDeterministic(ctx, &draft, text); err != nil {
			return Result{}, err
		} else if !handled && !IsFlowCommand(text) {
			if err := o.dispatchWorkers(ctx, &draft, turn, text); err != nil {
				if conflict, ok := err.(*ErrDraftConflict); ok {
					return o.abortConflict(ctx, turn, conflict), nil
				}
				return Result{}, err
			}
		}
	}

	// reload so the response reflects everything this turn wrote
	fresh, ok, err := o.store.GetDraft(ctx, draft.ID)
	if err != nil {
		return Result{}, err
	}
	if ok {
		draft = fresh
	}
	return o.respond(draft), nil
}

// resolveDraft finds the working draft: session pointer first, then the
// owner's latest, then a fresh one. This ordering is what makes recovery
// after a cache wipe idempotent.
func (o *Orchestrator) resolveDraft(ctx context.Context, turn Turn) (domain.Draft, error) {
	if turn.ActiveDraftID != "" {
		if draft, ok, err := o.store.GetDraft(ctx, turn.ActiveDraftID); err != nil {
			return domain.Draft{}, err
		} else if ok && draft.OwnerID == turn.OwnerID {
			return draft, nil
		}
	}
	if draft, ok, err := o.store.LatestDraftForOwner(ctx, turn.OwnerID); err != nil {
		return domain.Draft{}, err
	} else if ok {
		return draft, nil
	}
	return o.store.CreateOrReuseDraft(ctx, turn.OwnerID, turn.ContactPhone)
}

// commitMedia mirrors and persists each new photo before analysis, then
// seeds still-empty fields from the vision summary. Photos analyzed while
// buffered reuse their cached summary. User-provided values are never
// overwritten.
func (o *Orchestrator) commitMedia(ctx context.Context, draft domain.Draft, urls []string, analysis map[string]domain.VisionSummary) domain.Draft {
	for _, src := range urls {
		stored, err := o.mirror.MirrorURL(ctx, src)
		if err != nil {
			slog.Warn("media mirror failed", "draft_id", draft.ID, "err", err)
			stored = src
		}
		if draft.HasImage(stored) {
			continue
		}
		if err := o.store.AppendImage(ctx, draft.ID, stored, map[string]any{
			"source_url": src,
			"added_at":   time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			slog.Warn("image persist failed", "draft_id", draft.ID, "err", err)
			continue
		}
		draft.Images = append(draft.Images, domain.DraftImage{ImageURL: stored})

		summary, cached := analysis[src]
		if !cached {
			if o.vision == nil {
				continue
			}
			summary, err = o.vision.AnalyzeImage(ctx, stored)
			if err != nil {
				slog.Warn("vision analysis failed", "draft_id", draft.ID, "err", err)
				continue
			}
		}
		if err := o.store.SetVisionSummary(ctx, draft.ID, summary); err != nil {
			slog.Warn("vision summary persist failed", "draft_id", draft.ID, "err", err)
		}
		draft.Vision = &summary
		o.seedFromVision(ctx, &draft, summary)
	}
	return draft
}

func (o *Orchestrator) seedFromVision(ctx context.Context, draft *domain.Draft, summary domain.VisionSummary) {
	patch := store.FieldPatch{}
	if strings.TrimSpace(draft.Fields.Title) == "" && ValidTitle(summary.Product) {
		product := strings.TrimSpace(summary.Product)
		patch.Title = &product
	}
	if strings.TrimSpace(draft.Fields.Description) == "" && ValidDescription(summary.Description) {
		desc := strings.TrimSpace(summary.Description)
		patch.Description = &desc
	}
	if strings.TrimSpace(draft.Fields.Category) == "" {
		if canonical, ok := NormalizeCategory(summary.Category, o.categories); ok {
			patch.Category = &canonical
		}
	}
	if patch.Empty() {
		return
	}
	if err := o.store.PatchDraftField(ctx, draft.ID, patch); err != nil {
		slog.Warn("vision seed failed", "draft_id", draft.ID, "err", err)
		return
	}
	patch.Apply(&draft.Fields)
}

func isSuggestionRequest(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range []string{"öner", "oner", "kaç para", "kac para", "ne kadar", "suggest", "piyasa"} {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// handlePendingSuggestion consumes a reply to an outstanding price
// suggestion: confirm applies it, a number overrides it, a refusal clears
// it. Unrelated messages fall through to normal handling.
func (o *Orchestrator) handlePendingSuggestion(ctx context.Context, draft domain.Draft, text string) (Result, bool) {
	suggestion := draft.Pending.PriceSuggestion
	clearPending := func() {
		pending := draft.Pending
		pending.PriceSuggestion = nil
		if err := o.store.SetPending(ctx, draft.ID, pending); err != nil {
			slog.Warn("pending clear failed", "draft_id", draft.ID, "err", err)
		}
	}

	switch {
	case intent.IsConfirmation(text):
		price := suggestion.Amount
		if err := o.store.PatchDraftField(ctx, draft.ID, store.FieldPatch{Price: &price}); err != nil {
			return Result{}, false
		}
		clearPending()
		draft.Fields.Price = &price
		return o.respondAfter(ctx, draft), true
	case intent.IsCancel(text), strings.EqualFold(text, "hayır"), strings.EqualFold(text, "hayir"), strings.EqualFold(text, "no"):
		clearPending()
		return Result{
			Message: "Tamam, önerilen fiyatı kullanmıyorum. " + SlotPrompt(domain.SlotPrice),
			DraftID: draft.ID,
		}, true
	default:
		if price, ok := ParsePrice(text); ok && LooksLikeBarePrice(text) {
			if err := o.store.PatchDraftField(ctx, draft.ID, store.FieldPatch{Price: &price}); err != nil {
				return Result{}, false
			}
			clearPending()
			draft.Fields.Price = &price
			return o.respondAfter(ctx, draft), true
		}
	}
	return Result{}, false
}

// applyDeterministic handles messages the orchestrator can interpret
// without a model call: explicit field edits, bare values for the next
// missing slot, and price suggestion requests.
func (o *Orchestrator) applyDeterministic(ctx context.Context, draft *domain.Draft, text string) (bool, error) {
	if field, value, ok := ParseFieldEdit(text); ok {
		return o.applyFieldEdit(ctx, draft, field, value)
	}

	missing := NextMissingSlot(*draft)

	if missing == domain.SlotPrice && isSuggestionRequest(text) {
		return true, o.suggestPrice(ctx, draft)
	}

	switch missing {
	case domain.SlotPrice:
		if LooksLikeBarePrice(text) {
			price, _ := ParsePrice(text)
			return true, o.patch(ctx, draft, store.FieldPatch{Price: &price})
		}
	case domain.SlotCategory:
		if canonical, ok := NormalizeCategory(text, o.categories); ok {
			return true, o.patch(ctx, draft, store.FieldPatch{Category: &canonical})
		}
	case domain.SlotTitle:
		if ValidTitle(text) && len(strings.Fields(text)) <= 8 {
			value := text
			return true, o.patch(ctx, draft, store.FieldPatch{Title: &value})
		}
	case domain.SlotDescription:
		if ValidDescription(text) {
			value := text
			return true, o.patch(ctx, draft, store.FieldPatch{Description: &value})
		}
	}
	return false, nil
}

func (o *Orchestrator) applyFieldEdit(ctx context.Context, draft *domain.Draft, field, value string) (bool, error) {
	switch field {
	case "title":
		if !ValidTitle(value) {
			return true, nil
		}
		return true, o.patch(ctx, draft, store.FieldPatch{Title: &value})
	case "description":
		if !ValidDescription(value) {
			return true, nil
		}
		return true, o.patch(ctx, draft, store.FieldPatch{Description: &value})
	case "price":
		price, ok := ParsePrice(value)
		if !ok {
			return true, nil
		}
		return true, o.patch(ctx, draft, store.FieldPatch{Price: &price})
	case "category":
		canonical, ok := NormalizeCategory(value, o.categories)
		if !ok {
			return true, nil
		}
		return true, o.patch(ctx, draft, store.FieldPatch{Category: &canonical})
	}
	return false, nil
}

func (o *Orchestrator) patch(ctx context.Context, draft *domain.Draft, patch store.FieldPatch) error {
	if err := o.store.PatchDraftField(ctx, draft.ID, patch); err != nil {
		return err
	}
	patch.Apply(&draft.Fields)
	return nil
}

// suggestPrice averages market snapshots for the product; when no snapshot
// matches, the LLM estimates. The suggestion parks on the draft until the
// user confirms, overrides or refuses it.
func (o *Orchestrator) suggestPrice(ctx context.Context, draft *domain.Draft) error {
	productKey := strings.TrimSpace(draft.Fields.Title)
	if productKey == "" && draft.Vision != nil {
		productKey = strings.TrimSpace(draft.Vision.Product)
	}

	var amount float64
	source := "market"
	if prices, err := o.store.MarketPrices(ctx, productKey, draft.Fields.Category, 5); err == nil && len(prices) > 0 {
		var sum float64
		var n int
		for _, p := range prices {
			if p.AvgPrice > 0 {
				sum += p.AvgPrice
				n++
			}
		}
		if n > 0 {
			amount = sum / float64(n)
		}
	}
	if amount == 0 && o.llm != nil {
		prompt := fmt.Sprintf("Ürün: %s. Kategori: %s. İkinci el piyasa fiyatını TL olarak tahmin et, SADECE sayı yaz.", productKey, draft.Fields.Category)
		if raw, err := o.llm.GenerateText(ctx, "Sen bir ikinci el fiyat uzmanısın.", prompt); err == nil {
			if est, ok := ParsePrice(raw); ok {
				amount = est
				source = "llm"
			}
		}
	}
	if amount == 0 {
		return nil
	}

	pending := draft.Pending
	pending.PriceSuggestion = &domain.PriceSuggestion{
		Amount:      amount,
		Source:      source,
		SuggestedAt: time.Now().UTC(),
	}
	if err := o.store.SetPending(ctx, draft.ID, pending); err != nil {
		return err
	}
	draft.Pending = pending
	return nil
}

func (o *Orchestrator) dispatchWorkers(ctx context.Context, draft *domain.Draft, turn Turn, text string) error {
	if len(o.workers) == 0 {
		return nil
	}
	writes, err := RunBatch(ctx, o.workers, text, WorkerContext{DraftID: draft.ID, OwnerID: turn.OwnerID})
	if err != nil {
		return err
	}
	for _, write := range writes {
		if err := o.patch(ctx, draft, write.Patch); err != nil {
			return err
		}
	}
	return nil
}

// abortConflict records the cross-draft write set once and tells the user
// to restart. Nothing was applied.
func (o *Orchestrator) abortConflict(ctx context.Context, turn Turn, conflict *ErrDraftConflict) Result {
	meta := map[string]any{"draft_ids": conflict.DraftIDs, "session_id": turn.SessionID}
	if err := o.store.Audit(ctx, store.AuditEntry{
		Action:       "draft_conflict",
		ResourceType: "draft",
		ResourceID:   conflict.DraftIDs[0],
		OwnerID:      turn.OwnerID,
		Metadata:     meta,
	}); err != nil {
		slog.Warn("conflict audit failed", "err", err)
	}
	events.Emit(ctx, o.publisher, events.Event{
		Type:    events.TypeDraftConflict,
		OwnerID: turn.OwnerID,
		Payload: meta,
	})
	return Result{
		Message: "⚠️ Bir karışıklık oldu ve bu mesajı uygulayamadım. Lütfen \"iptal\" yazıp baştan başlayın.",
		Data:    map[string]any{"conflict": true},
	}
}

func (o *Orchestrator) respondAfter(ctx context.Context, draft domain.Draft) Result {
	if fresh, ok, err := o.store.GetDraft(ctx, draft.ID); err == nil && ok {
		draft = fresh
	}
	return o.respond(draft)
}

// respond asks for exactly the next missing slot, or shows the full
// summary once the draft is publishable.
func (o *Orchestrator) respond(draft domain.Draft) Result {
	if draft.Pending.PriceSuggestion != nil {
		s := draft.Pending.PriceSuggestion
		return Result{
			Message: fmt.Sprintf("💡 Piyasaya göre önerim: %s TL. Kabul etmek için \"evet\", farklı bir fiyat için sayı yazın.", FormatPrice(s.Amount)),
			Data:    map[string]any{"suggested_price": s.Amount, "source": s.Source},
			DraftID: draft.ID,
		}
	}
	if draft.Publishable() {
		return Result{
			Message: Summary(draft),
			Data:    map[string]any{"draft": draft, "publishable": true},
			DraftID: draft.ID,
		}
	}
	missing := NextMissingSlot(draft)
	return Result{
		Message: SlotPrompt(missing),
		Data:    map[string]any{"missing_slot": string(missing)},
		DraftID: draft.ID,
	}
}
