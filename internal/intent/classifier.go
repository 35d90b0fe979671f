package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"pazarglobal/pkg/ai"
	"pazarglobal/pkg/domain"
)

const classifierSystem = `Sen bir pazaryeri asistanısın. Kullanıcı mesajını
dört niyetten birine sınıflandır: create_listing (bir şey satmak istiyor),
publish_or_delete (mevcut ilanı yayınlamak veya silmek istiyor),
search_listings (bir şey arıyor), small_talk (diğer her şey).`

var classifierSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "intent": {
      "type": "string",
      "enum": ["create_listing", "publish_or_delete", "search_listings", "small_talk"]
    }
  },
  "required": ["intent"]
}`)

// Classifier resolves ambiguous messages with a single forced tool call.
type Classifier struct {
	caller ai.ToolCaller
}

// NewClassifier builds an LLM-backed classifier. caller may be nil; then
// everything classifies as small_talk.
func NewClassifier(caller ai.ToolCaller) *Classifier {
	return &Classifier{caller: caller}
}

// Classify returns the model's intent, defaulting to small_talk on any
// failure. A failed model call never fails the turn.
func (c *Classifier) Classify(ctx context.Context, text string) domain.Intent {
	if c == nil || c.caller == nil || strings.TrimSpace(text) == "" {
		return domain.IntentSmallTalk
	}
	args, err := c.caller.CallTool(ctx, classifierSystem, text, ai.ToolSpec{
		Name:        "classify_intent",
		Description: "Kullanıcı mesajının niyetini belirle.",
		Parameters:  classifierSchema,
	})
	if err != nil {
		slog.Warn("intent classification failed", "err", err)
		return domain.IntentSmallTalk
	}
	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		slog.Warn("intent arguments unparsable", "raw", string(args))
		return domain.IntentSmallTalk
	}
	switch domain.Intent(parsed.Intent) {
	case domain.IntentCreateListing, domain.IntentPublishOrDelete, domain.IntentSearchListings:
		return domain.Intent(parsed.Intent)
	default:
		return domain.IntentSmallTalk
	}
}
