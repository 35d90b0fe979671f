// Package app processes one chat message end to end: session recovery,
// identity resolution, intent routing, and the response envelope.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pazarglobal/internal/compose"
	"pazarglobal/internal/identity"
	"pazarglobal/internal/intent"
	"pazarglobal/internal/publish"
	"pazarglobal/internal/search"
	"pazarglobal/internal/util"
	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/domain"
	"pazarglobal/pkg/session"
	"pazarglobal/pkg/store"
)

// Message is one incoming chat message from any transport.
type Message struct {
	SessionID  string
	UserID     string
	Channel    string
	Text       string
	MediaURLs  []string
	SellerName string
}

// App wires the conversational pipeline.
type App struct {
	sessions     session.Cache
	store        store.EntityStore
	identity     *identity.Normalizer
	resolver     *intent.Resolver
	orchestrator *compose.Orchestrator
	publishFlow  *publish.Flow
	searcher     *search.Aggregator
	llm          ai.TextGenerator
	vision       ai.VisionAnalyzer
}

// New builds the App. llm and vision may be nil; small talk then uses
// canned replies and buffered photos skip the upfront analysis.
func New(sessions session.Cache, st store.EntityStore, ident *identity.Normalizer, resolver *intent.Resolver, orch *compose.Orchestrator, flow *publish.Flow, searcher *search.Aggregator, llm ai.TextGenerator, vision ai.VisionAnalyzer) *App {
	return &App{
		sessions:     sessions,
		store:        st,
		identity:     ident,
		resolver:     resolver,
		orchestrator: orch,
		publishFlow:  flow,
		searcher:     searcher,
		llm:          llm,
		vision:       vision,
	}
}

// ProcessMessage handles one turn. It always returns a well-formed reply;
// internal failures surface as a generic retry message, never an empty
// response.
func (a *App) ProcessMessage(ctx context.Context, msg Message) domain.Reply {
	reply, err := a.process(ctx, msg)
	if err != nil {
		util.LoggerFromContext(ctx).Error("turn failed", "session_id", msg.SessionID, "err", err)
		return domain.Reply{
			Success: false,
			Message: "😔 Bir sorun oluştu, lütfen tekrar deneyin.",
			Intent:  domain.IntentSmallTalk,
		}
	}
	return reply
}

func (a *App) process(ctx context.Context, msg Message) (domain.Reply, error) {
	sess, found, err := a.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		slog.Warn("session load failed", "session_id", msg.SessionID, "err", err)
	}
	if !found {
		sess = session.Record{SessionID: msg.SessionID, Channel: msg.Channel}
	}

	if sess.OwnerID == "" || msg.UserID != "" {
		sess.OwnerID = a.identity.Normalize(msg.UserID, msg.SessionID)
	}
	if phone := identity.ContactPhone(msg.UserID); phone != "" {
		sess.ContactPhone = phone
	}
	if msg.SellerName != "" {
		sess.SellerName = msg.SellerName
	}

	// stateless recovery: a cache miss with a started draft resumes the
	// creation flow as if the session had never been lost. An empty draft
	// never re-locks: it may be the remains of a cancelled flow.
	if !found {
		if draft, ok, err := a.store.LatestDraftForOwner(ctx, sess.OwnerID); err == nil && ok && draft.Started() {
			sess.ActiveDraftID = draft.ID
			sess.LockedIntent = domain.IntentCreateListing
		}
	}

	text := strings.TrimSpace(msg.Text)
	if text != "" {
		if err := a.sessions.AppendMessage(ctx, msg.SessionID, session.Message{Role: "user", Content: text}); err != nil {
			slog.Warn("history append failed", "err", err)
		}
	}

	reply, err := a.route(ctx, msg, &sess, text)
	if err != nil {
		return domain.Reply{}, err
	}

	sess.Intent = reply.Intent
	if err := a.sessions.Put(ctx, sess); err != nil {
		slog.Warn("session persist failed", "session_id", msg.SessionID, "err", err)
	}
	if reply.Message != "" {
		if err := a.sessions.AppendMessage(ctx, msg.SessionID, session.Message{Role: "assistant", Content: reply.Message}); err != nil {
			slog.Warn("history append failed", "err", err)
		}
	}
	return reply, nil
}

func (a *App) route(ctx context.Context, msg Message, sess *session.Record, text string) (domain.Reply, error) {
	// outstanding confirmations (publish preview, delete gate) intercept
	// the turn before intent resolution, so a bare "evet" lands in the
	// right flow instead of the classifier
	if sess.AwaitingConfirm != "" {
		return a.runPublishFlow(ctx, msg, sess, text)
	}
	if a.draftAwaitsPublishAnswer(ctx, *sess, text) {
		return a.runPublishFlow(ctx, msg, sess, text)
	}

	res := a.resolver.Resolve(ctx, text, len(msg.MediaURLs) > 0 || len(sess.PendingMedia) > 0, sess.LockedIntent)
	slog.Info("intent resolved", "session_id", msg.SessionID, "intent", res.Intent, "source", res.Source)

	switch res.Outcome {
	case intent.OutcomeCancel:
		return a.cancel(ctx, sess)
	case intent.OutcomeMediaOnly:
		sess.PendingMedia = appendUnique(sess.PendingMedia, msg.MediaURLs)
		a.analyzePendingMedia(ctx, sess, msg.MediaURLs)
		return a.mediaAck(*sess), nil
	case intent.OutcomeLockedHint:
		return domain.Reply{
			Success: true,
			Message: "Şu anda ilan oluşturuyorsunuz. Arama yapmak için önce \"iptal\" yazın.",
			Intent:  domain.IntentCreateListing,
		}, nil
	}

	if res.Lock {
		sess.LockedIntent = res.Intent
	}

	switch res.Intent {
	case domain.IntentCreateListing:
		return a.runCompose(ctx, msg, sess, text)
	case domain.IntentPublishOrDelete:
		return a.runPublishFlow(ctx, msg, sess, text)
	case domain.IntentSearchListings:
		return a.runSearch(ctx, sess, text)
	default:
		return a.smallTalk(ctx, text), nil
	}
}

// draftAwaitsPublishAnswer reports whether the active draft has a parked
// publish preview and the message looks like an answer to it.
func (a *App) draftAwaitsPublishAnswer(ctx context.Context, sess session.Record, text string) bool {
	if sess.ActiveDraftID == "" {
		return false
	}
	if _, _, isEdit := compose.ParseFieldEdit(text); !isEdit && !intent.IsConfirmation(text) && !intent.IsCancel(text) {
		return false
	}
	draft, ok, err := a.store.GetDraft(ctx, sess.ActiveDraftID)
	if err != nil || !ok {
		return false
	}
	return draft.Pending.Publish != nil
}

// analyzePendingMedia runs vision on newly buffered photos so the user
// hears what we saw before any draft exists. Summaries are cached on the
// session and reused when the draft commits the media.
func (a *App) analyzePendingMedia(ctx context.Context, sess *session.Record, urls []string) {
	if a.vision == nil {
		return
	}
	for _, url := range urls {
		if _, done := sess.PendingAnalysis[url]; done {
			continue
		}
		summary, err := a.vision.AnalyzeImage(ctx, url)
		if err != nil {
			slog.Warn("buffered media analysis failed", "session_id", sess.SessionID, "err", err)
			continue
		}
		if sess.PendingAnalysis == nil {
			sess.PendingAnalysis = map[string]domain.VisionSummary{}
		}
		sess.PendingAnalysis[url] = summary
	}
}

// mediaAck acknowledges buffered photos, naming the recognized product
// when analysis produced one.
func (a *App) mediaAck(sess session.Record) domain.Reply {
	const cta = " Satmak için \"ilan oluştur\" yazın, ben de ilanınızı hazırlayayım."
	data := map[string]any{"buffered_media": len(sess.PendingMedia)}
	message := "📸 Fotoğrafı aldım!" + cta
	for i := len(sess.PendingMedia) - 1; i >= 0; i-- {
		summary, ok := sess.PendingAnalysis[sess.PendingMedia[i]]
		if !ok {
			continue
		}
		data["vision"] = summary
		if summary.Product != "" {
			seen := summary.Product
			if summary.Condition != "" {
				seen += ", " + summary.Condition
			}
			message = fmt.Sprintf("📸 Fotoğrafı aldım! Gördüğüm: %s.%s", seen, cta)
		}
		break
	}
	return domain.Reply{Success: true, Message: message, Data: data, Intent: domain.IntentSmallTalk}
}

func (a *App) cancel(ctx context.Context, sess *session.Record) (domain.Reply, error) {
	sess.LockedIntent = ""
	sess.PendingMedia = nil
	sess.PendingAnalysis = nil
	sess.AwaitingConfirm = ""
	if sess.ActiveDraftID != "" {
		if err := a.store.ResetDraft(ctx, sess.ActiveDraftID); err != nil {
			slog.Warn("draft reset failed", "draft_id", sess.ActiveDraftID, "err", err)
		}
	}
	return domain.Reply{
		Success: true,
		Message: "✅ İptal edildi. Yeni bir şey yapmak istediğinizde yazmanız yeterli.",
		Intent:  domain.IntentSmallTalk,
	}, nil
}

func (a *App) runCompose(ctx context.Context, msg Message, sess *session.Record, text string) (domain.Reply, error) {
	media := appendUnique(sess.PendingMedia, msg.MediaURLs)
	res, err := a.orchestrator.HandleTurn(ctx, compose.Turn{
		SessionID:     msg.SessionID,
		OwnerID:       sess.OwnerID,
		ContactPhone:  sess.ContactPhone,
		Text:          text,
		MediaURLs:     media,
		ActiveDraftID: sess.ActiveDraftID,
		MediaAnalysis: sess.PendingAnalysis,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("compose turn: %w", err)
	}
	sess.PendingMedia = nil
	sess.PendingAnalysis = nil
	if res.DraftID != "" {
		sess.ActiveDraftID = res.DraftID
	}
	return domain.Reply{
		Success: true,
		Message: res.Message,
		Data:    res.Data,
		Intent:  domain.IntentCreateListing,
	}, nil
}

func (a *App) runPublishFlow(ctx context.Context, msg Message, sess *session.Record, text string) (domain.Reply, error) {
	res, err := a.publishFlow.HandleTurn(ctx, publish.Turn{
		SessionID:       msg.SessionID,
		OwnerID:         sess.OwnerID,
		Text:            text,
		ActiveDraftID:   sess.ActiveDraftID,
		ListingID:       a.listingFromReference(*sess, text),
		AwaitingConfirm: sess.AwaitingConfirm,
		SellerName:      sess.SellerName,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("publish turn: %w", err)
	}
	sess.AwaitingConfirm = res.AwaitingConfirm
	if res.ClearDraft {
		sess.ActiveDraftID = ""
		sess.LockedIntent = ""
	}
	return domain.Reply{
		Success: true,
		Message: res.Message,
		Data:    res.Data,
		Intent:  domain.IntentPublishOrDelete,
	}, nil
}

// listingFromReference resolves "#N" in a delete command against the
// session's cached search results.
func (a *App) listingFromReference(sess session.Record, text string) string {
	idx := strings.Index(text, "#")
	if idx < 0 || len(sess.LastResults) == 0 {
		return ""
	}
	n := 0
	for _, r := range text[idx+1:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n < 1 || n > len(sess.LastResults) {
		return ""
	}
	return sess.LastResults[n-1].ID
}

func (a *App) runSearch(ctx context.Context, sess *session.Record, text string) (domain.Reply, error) {
	res, err := a.searcher.HandleTurn(ctx, search.Turn{
		OwnerID:     sess.OwnerID,
		Text:        text,
		LastResults: sess.LastResults,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("search turn: %w", err)
	}
	if res.Results != nil {
		sess.LastResults = res.Results
	}
	return domain.Reply{
		Success: true,
		Message: res.Message,
		Data:    res.Data,
		Intent:  domain.IntentSearchListings,
	}, nil
}

const smallTalkSystem = `Sen PazarGlobal pazaryeri asistanısın. Kısa ve samimi
Türkçe yanıt ver. Kullanıcıya ilan oluşturabileceğini ("ilan oluştur") ve
ürün arayabileceğini ("arıyorum") hatırlat.`

func (a *App) smallTalk(ctx context.Context, text string) domain.Reply {
	message := "👋 Merhaba! Bir şey satmak için \"ilan oluştur\", aramak için \"... arıyorum\" yazabilirsiniz."
	if a.llm != nil && text != "" {
		if generated, err := a.llm.GenerateText(ctx, smallTalkSystem, text); err == nil && strings.TrimSpace(generated) != "" {
			message = generated
		}
	}
	return domain.Reply{Success: true, Message: message, Intent: domain.IntentSmallTalk}
}

func appendUnique(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
