package intent

import (
	"context"
	"strings"

	"pazarglobal/pkg/domain"
)

// Outcome is the kind of routing decision a turn produced.
type Outcome int

const (
	// OutcomeIntent routes the turn to the resolved intent's handler.
	OutcomeIntent Outcome = iota
	// OutcomeCancel clears the intent lock and resets the active draft.
	OutcomeCancel
	// OutcomeMediaOnly buffers incoming media without choosing a task.
	OutcomeMediaOnly
	// OutcomeLockedHint refuses an intent switch and tells the user how
	// to leave the current flow first.
	OutcomeLockedHint
)

// Resolution is the routing decision for one message.
type Resolution struct {
	Outcome Outcome
	Intent  domain.Intent
	// Lock marks task intents that should persist across turns.
	Lock bool
	// Source records what decided: a keyword override, the lock, the
	// classifier, or the default. Logged for every turn.
	Source string
}

// Resolver applies keyword overrides, the session lock, and finally the
// LLM classifier.
type Resolver struct {
	classifier *Classifier
}

// NewResolver builds a Resolver around a classifier.
func NewResolver(classifier *Classifier) *Resolver {
	return &Resolver{classifier: classifier}
}

// Resolve decides how to route a message. lockedIntent is the intent the
// session is currently locked into, or empty.
func (r *Resolver) Resolve(ctx context.Context, text string, hasMedia bool, lockedIntent domain.Intent) Resolution {
	trimmed := strings.TrimSpace(text)

	// publish/delete commands win over everything, including an active lock
	if IsPublishCommand(trimmed) || IsDeleteCommand(trimmed) {
		return Resolution{Intent: domain.IntentPublishOrDelete, Source: "override:publish_or_delete"}
	}
	if IsCreateCommand(trimmed) {
		return Resolution{Intent: domain.IntentCreateListing, Lock: true, Source: "override:create"}
	}
	if IsSearchCommand(trimmed) {
		// mid-creation searches would silently drop the draft; make the
		// user leave the flow explicitly
		if lockedIntent == domain.IntentCreateListing {
			return Resolution{Outcome: OutcomeLockedHint, Intent: domain.IntentCreateListing, Source: "lock:create"}
		}
		return Resolution{Intent: domain.IntentSearchListings, Lock: true, Source: "override:search"}
	}
	if IsCancel(trimmed) {
		return Resolution{Outcome: OutcomeCancel, Intent: domain.IntentSmallTalk, Source: "override:cancel"}
	}
	if IsPureGreeting(trimmed) {
		return Resolution{Intent: domain.IntentSmallTalk, Source: "override:greeting"}
	}
	if hasMedia && trimmed == "" && lockedIntent == "" {
		return Resolution{Outcome: OutcomeMediaOnly, Source: "media"}
	}
	if lockedIntent != "" {
		return Resolution{Intent: lockedIntent, Lock: true, Source: "lock"}
	}

	classified := r.classifier.Classify(ctx, trimmed)
	res := Resolution{Intent: classified, Source: "llm"}
	if classified == domain.IntentCreateListing || classified == domain.IntentSearchListings {
		res.Lock = true
	}
	return res
}
