// Package intent routes each incoming message to one of the assistant's
// task intents. Deterministic keyword overrides run first so critical
// commands never depend on a model call; the LLM classifier is the last
// resort.
package intent

import (
	"strings"
	"unicode"
)

// Keyword vocabularies. Multi-word entries match as phrases, single words
// match whole tokens only, so "sil" does not fire inside "silgi".
var (
	publishWords = []string{
		"yayınla", "yayinla", "yayına al", "yayinla artık", "publish", "ilanı yayınla",
	}
	deleteWords = []string{
		"sil", "kaldır", "kaldir", "ilanı sil", "ilanımı sil", "delete", "remove listing",
	}
	createWords = []string{
		"ilan oluştur", "ilan olustur", "ilan ver", "satmak istiyorum", "satıyorum",
		"satiyorum", "sat", "sell", "create listing", "yeni ilan",
	}
	searchWords = []string{
		"arıyorum", "ariyorum", "ara", "bul", "listele", "göster", "goster",
		"search", "find", "bakıyorum", "bakiyorum", "var mı", "var mi",
	}
	cancelWords = []string{
		"iptal", "vazgeç", "vazgec", "cancel", "iptal et", "baştan başla", "bastan basla",
	}
	confirmWords = []string{
		"evet", "yes", "onayla", "onaylıyorum", "onayliyorum", "tamam", "confirm", "ok", "okey",
	}
	greetingWords = []string{
		"merhaba", "selam", "selamlar", "hello", "hi", "hey", "günaydın", "gunaydin",
		"iyi akşamlar", "iyi aksamlar", "nasılsın", "nasilsin",
	}
)

// Extend appends operator-supplied words to the keyword vocabularies.
// Known kinds: publish, delete, create, search, cancel, confirm, greeting.
// Unknown kinds are ignored. Call once at startup, before serving traffic.
func Extend(overrides map[string][]string) {
	for kind, words := range overrides {
		var target *[]string
		switch kind {
		case "publish":
			target = &publishWords
		case "delete":
			target = &deleteWords
		case "create":
			target = &createWords
		case "search":
			target = &searchWords
		case "cancel":
			target = &cancelWords
		case "confirm":
			target = &confirmWords
		case "greeting":
			target = &greetingWords
		default:
			continue
		}
		for _, w := range words {
			if w = normalize(w); w != "" {
				*target = append(*target, w)
			}
		}
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// matchesAny reports whether the normalized text contains any vocabulary
// entry: phrase containment for multi-word entries, exact token match for
// single words.
func matchesAny(text string, vocab []string) bool {
	tokens := tokenize(text)
	for _, entry := range vocab {
		if strings.Contains(entry, " ") {
			if strings.Contains(text, entry) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == entry {
				return true
			}
		}
	}
	return false
}

// IsPublishCommand reports a publish keyword.
func IsPublishCommand(text string) bool { return matchesAny(normalize(text), publishWords) }

// IsDeleteCommand reports a delete keyword.
func IsDeleteCommand(text string) bool { return matchesAny(normalize(text), deleteWords) }

// IsCreateCommand reports a create/sell keyword.
func IsCreateCommand(text string) bool { return matchesAny(normalize(text), createWords) }

// IsSearchCommand reports a search keyword.
func IsSearchCommand(text string) bool { return matchesAny(normalize(text), searchWords) }

// IsCancel reports a cancel keyword.
func IsCancel(text string) bool { return matchesAny(normalize(text), cancelWords) }

// IsConfirmation reports an affirmative keyword. Used by flows waiting on
// a yes/no answer.
func IsConfirmation(text string) bool { return matchesAny(normalize(text), confirmWords) }

// IsPureGreeting reports a message that is only a greeting, with no task
// content attached.
func IsPureGreeting(text string) bool {
	text = normalize(text)
	if text == "" {
		return false
	}
	if !matchesAny(text, greetingWords) {
		return false
	}
	// a greeting plus task words is a task, not small talk
	if matchesAny(text, publishWords) || matchesAny(text, deleteWords) ||
		matchesAny(text, createWords) || matchesAny(text, searchWords) {
		return false
	}
	return len(tokenize(text)) <= 4
}
