package keywords

import (
	"context"
	"errors"
	"testing"
)

type stubGenerator struct {
	text string
	err  error
}

func (s stubGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.text, s.err
}

func TestGenerateUsesLLMKeywords(t *testing.T) {
	g := NewGenerator(stubGenerator{text: `["iphone","telefon","Elektronik","iphone"]`})

	res := g.Generate(context.Background(), "iPhone 13 Pro", "Temiz telefon", "Elektronik")
	if res.Provenance != "llm" {
		t.Fatalf("expected llm provenance, got %q", res.Provenance)
	}
	want := []string{"iphone", "telefon", "elektronik"}
	if len(res.Keywords) != len(want) {
		t.Fatalf("keywords: %v", res.Keywords)
	}
	for i, kw := range want {
		if res.Keywords[i] != kw {
			t.Fatalf("keyword %d: got %q want %q", i, res.Keywords[i], kw)
		}
	}
}

func TestGenerateFallsBackOnLLMError(t *testing.T) {
	g := NewGenerator(stubGenerator{err: errors.New("provider down")})

	res := g.Generate(context.Background(), "Ahşap Yemek Masası", "6 kişilik ve temiz", "Ev & Yaşam")
	if res.Provenance != "fallback" {
		t.Fatalf("expected fallback, got %q", res.Provenance)
	}
	if len(res.Keywords) == 0 {
		t.Fatal("fallback produced no keywords")
	}
	for _, kw := range res.Keywords {
		if kw == "ve" {
			t.Fatal("stopword survived tokenization")
		}
	}
}

func TestGenerateFallsBackOnGarbageJSON(t *testing.T) {
	g := NewGenerator(stubGenerator{text: "elbette, işte kelimeler"})

	res := g.Generate(context.Background(), "Bisiklet", "Dağ bisikleti", "Spor")
	if res.Provenance != "fallback" {
		t.Fatalf("expected fallback, got %q", res.Provenance)
	}
}

func TestTokenizeTurkishLowercasing(t *testing.T) {
	tokens := Tokenize("IPhone KILIF", 10)
	// Turkish casing maps I to ı, not i
	if len(tokens) != 2 || tokens[0] != "ıphone" || tokens[1] != "kılıf" {
		t.Fatalf("tokens: %v", tokens)
	}
}
