// Package search answers search_listings turns: it fans out category,
// price and content queries, merges the results, and renders a short
// preview with a market price insight.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"pazarglobal/internal/compose"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/store"
)

// Turn is one search message.
type Turn struct {
	OwnerID string
	Text    string
	// LastResults is the session's cached result set, for "#N" follow-ups.
	LastResults []domain.Listing
}

// Result is the rendered answer plus the result set to cache.
type Result struct {
	Message string
	Data    map[string]any
	// Results replaces the session's cached result set when non-nil.
	Results []domain.Listing
}

// Aggregator runs marketplace searches.
type Aggregator struct {
	store      store.EntityStore
	categories []string
	limit      int
}

// NewAggregator wires the search aggregator. limit caps the preview size.
func NewAggregator(st store.EntityStore, categories []string, limit int) *Aggregator {
	if limit <= 0 {
		limit = 5
	}
	return &Aggregator{store: st, categories: categories, limit: limit}
}

var detailRe = regexp.MustCompile(`#\s*(\d+)`)

// HandleTurn answers one search message.
func (a *Aggregator) HandleTurn(ctx context.Context, turn Turn) (Result, error) {
	text := strings.TrimSpace(turn.Text)

	if m := detailRe.FindStringSubmatch(text); m != nil {
		return a.detail(turn.LastResults, m[1]), nil
	}

	query := parseQuery(text, a.categories)
	listings, total, err := a.fanOut(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if total == 0 {
		return Result{
			Message: "😕 Aradığınız kriterlere uyan ilan bulamadım. Farklı kelimelerle tekrar deneyin.",
			Data:    map[string]any{"total": 0},
			Results: []domain.Listing{},
		}, nil
	}

	preview := listings
	if len(preview) > a.limit {
		preview = preview[:a.limit]
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔍 %d ilan buldum:\n\n", total))
	for i, l := range preview {
		b.WriteString(fmt.Sprintf("%d. %s — %s TL", i+1, l.Title, compose.FormatPrice(l.Price)))
		if l.Category != "" {
			b.WriteString(" (" + l.Category + ")")
		}
		b.WriteString("\n")
	}
	if total > len(preview) {
		b.WriteString(fmt.Sprintf("\n... ve %d ilan daha. Detay için \"#2\" gibi yazın.", total-len(preview)))
	} else {
		b.WriteString("\nDetay için \"#2\" gibi yazın.")
	}
	if insight := a.marketInsight(ctx, query); insight != "" {
		b.WriteString("\n\n" + insight)
	}

	return Result{
		Message: b.String(),
		Data:    map[string]any{"total": total, "shown": len(preview)},
		Results: preview,
	}, nil
}

// detail renders one cached result by its 1-based preview index.
func (a *Aggregator) detail(cached []domain.Listing, rawIndex string) Result {
	n, err := strconv.Atoi(rawIndex)
	if err != nil || n < 1 || n > len(cached) {
		return Result{Message: fmt.Sprintf("Bu numarada bir ilan yok. 1 ile %d arasında seçin.", len(cached))}
	}
	l := cached[n-1]
	var b strings.Builder
	b.WriteString("📋 " + l.Title + "\n\n")
	if l.Description != "" {
		b.WriteString(l.Description + "\n")
	}
	b.WriteString("💰 " + compose.FormatPrice(l.Price) + " TL\n")
	if l.Category != "" {
		b.WriteString("📁 " + l.Category + "\n")
	}
	if l.SellerPhone != "" {
		b.WriteString("📞 İletişim: " + l.SellerPhone + "\n")
	}
	if len(l.Images) > 0 {
		b.WriteString(fmt.Sprintf("📸 %d fotoğraf\n", len(l.Images)))
	}
	return Result{Message: b.String(), Data: map[string]any{"listing": l}}
}

// query is the parsed search intent.
type query struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
	Terms    string
}

var (
	maxPriceRe = regexp.MustCompile(`(?i)([\d][\d.,]*\s*(?:k|bin)?)\s*(?:tl|₺|lira)?\s*(?:altı|alti|altında|altinda|den ucuz|dan ucuz|under|max)`)
	minPriceRe = regexp.MustCompile(`(?i)([\d][\d.,]*\s*(?:k|bin)?)\s*(?:tl|₺|lira)?\s*(?:üstü|ustu|üstünde|ustunde|den pahalı|over|min)`)
)

// parseQuery pulls price bounds and a category out of free text; whatever
// remains becomes the content terms.
func parseQuery(text string, categories []string) query {
	q := query{}
	rest := text

	if m := maxPriceRe.FindStringSubmatch(rest); m != nil {
		if v, ok := compose.ParsePrice(m[1]); ok {
			q.MaxPrice = &v
			rest = strings.Replace(rest, m[0], " ", 1)
		}
	}
	if m := minPriceRe.FindStringSubmatch(rest); m != nil {
		if v, ok := compose.ParsePrice(m[1]); ok {
			q.MinPrice = &v
			rest = strings.Replace(rest, m[0], " ", 1)
		}
	}

	// search verbs carry no content; strip them as whole tokens so
	// "ara" does not eat into "araba"
	noise := map[string]struct{}{
		"arıyorum": {}, "ariyorum": {}, "listele": {}, "göster": {}, "goster": {},
		"search": {}, "find": {}, "ara": {}, "bul": {}, "bakıyorum": {}, "bakiyorum": {},
		"var": {}, "mı": {}, "mi": {},
	}
	var kept []string
	for _, tok := range strings.Fields(strings.ToLower(rest)) {
		if _, skip := noise[tok]; skip {
			continue
		}
		kept = append(kept, tok)
	}
	lowered := strings.Join(kept, " ")

	if cat, ok := compose.NormalizeCategory(lowered, categories); ok {
		q.Category = cat
	}
	q.Terms = strings.Join(strings.Fields(lowered), " ")
	return q
}

// fanOut runs the category, price and content queries concurrently and
// merges them with first-occurrence dedupe. The true total counts unique
// listings, not just the preview.
func (a *Aggregator) fanOut(ctx context.Context, q query) ([]domain.Listing, int, error) {
	filters := []store.SearchFilter{}
	if q.Category != "" {
		filters = append(filters, store.SearchFilter{Category: q.Category, MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, Limit: 50})
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		filters = append(filters, store.SearchFilter{MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, Limit: 50})
	}
	if q.Terms != "" {
		filters = append(filters, store.SearchFilter{Text: q.Terms, MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, Limit: 50})
	}
	if len(filters) == 0 {
		filters = append(filters, store.SearchFilter{Limit: 50})
	}

	// one failed batch only narrows the result set; the search dies only
	// when every batch fails
	batches := make([][]domain.Listing, len(filters))
	errs := make([]error, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range filters {
		i, f := i, f
		g.Go(func() error {
			res, err := a.store.SearchListings(gctx, f)
			if err != nil {
				slog.Warn("search batch failed", "err", err)
				errs[i] = err
				return nil
			}
			batches[i] = res
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(filters) {
		return nil, 0, fmt.Errorf("search fan-out: all %d batches failed: %w", failed, errs[0])
	}

	seen := map[string]struct{}{}
	var merged []domain.Listing
	for _, batch := range batches {
		for _, l := range batch {
			if _, ok := seen[l.ID]; ok {
				continue
			}
			seen[l.ID] = struct{}{}
			merged = append(merged, l)
		}
	}
	return merged, len(merged), nil
}

// marketInsight renders the average of matching market snapshots, when
// any are priced.
func (a *Aggregator) marketInsight(ctx context.Context, q query) string {
	key := q.Terms
	if key == "" {
		key = q.Category
	}
	if key == "" {
		return ""
	}
	prices, err := a.store.MarketPrices(ctx, key, q.Category, 5)
	if err != nil {
		slog.Warn("market price lookup failed", "err", err)
		return ""
	}
	var sum float64
	var n int
	for _, p := range prices {
		if p.AvgPrice > 0 {
			sum += p.AvgPrice
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("💡 Piyasa ortalaması: %s TL", compose.FormatPrice(sum/float64(n)))
}
