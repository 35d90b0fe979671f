// Package keywords derives search keywords for a listing, preferring the
// LLM and degrading to deterministic tokenization when it is unavailable.
package keywords

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"pazarglobal/pkg/ai"
)

const systemPrompt = `İkinci el ilanı için arama anahtar kelimeleri üret.
SADECE JSON dizi döndür, örn: ["iphone","telefon","elektronik"].
En fazla 12 kelime, hepsi küçük harf Türkçe.`

// Result carries the keywords plus where they came from.
type Result struct {
	Keywords   []string
	Provenance string // "llm" or "fallback"
}

// Generator produces keywords for a title/description/category triple.
type Generator struct {
	llm ai.TextGenerator
	max int
}

// NewGenerator builds a keyword generator. llm may be nil, in which case
// only the deterministic fallback is used.
func NewGenerator(llm ai.TextGenerator) *Generator {
	return &Generator{llm: llm, max: 12}
}

// Generate returns keywords for the listing text. LLM failures are not
// errors; the fallback always yields something usable.
func (g *Generator) Generate(ctx context.Context, title, description, category string) Result {
	if g.llm != nil {
		prompt := "Başlık: " + title + "\nAçıklama: " + description + "\nKategori: " + category
		if raw, err := g.llm.GenerateText(ctx, systemPrompt, prompt); err == nil {
			if kws := parseKeywordJSON(raw, g.max); len(kws) > 0 {
				return Result{Keywords: kws, Provenance: "llm"}
			}
		}
	}
	return Result{Keywords: Tokenize(title+" "+description+" "+category, g.max), Provenance: "fallback"}
}

func parseKeywordJSON(raw string, max int) []string {
	raw = strings.TrimSpace(raw)
	// tolerate fenced responses
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil
	}
	return dedupe(parsed, max)
}

// turkish stopwords that add no search value
var stopwords = map[string]struct{}{
	"ve": {}, "ile": {}, "bir": {}, "bu": {}, "için": {}, "çok": {},
	"az": {}, "gibi": {}, "daha": {}, "the": {}, "and": {}, "for": {},
}

// Tokenize lowercases, strips punctuation, drops stopwords and short
// tokens, and dedupes preserving order.
func Tokenize(text string, max int) []string {
	fields := strings.FieldsFunc(strings.ToLowerSpecial(unicode.TurkishCase, text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var tokens []string
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return dedupe(tokens, max)
}

func dedupe(in []string, max int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(strings.ToLowerSpecial(unicode.TurkishCase, s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}
