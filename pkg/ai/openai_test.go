package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallToolReturnsForcedToolArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["tool_choice"] == nil {
			t.Fatal("tool_choice not forced")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"tool_calls": []map[string]any{{
						"function": map[string]any{
							"name":      "classify_intent",
							"arguments": `{"intent":"create_listing"}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-test", "")
	args, err := client.CallTool(context.Background(), "sys", "satmak istiyorum", ToolSpec{
		Name:       "classify_intent",
		Parameters: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		t.Fatalf("unmarshal arguments: %v", err)
	}
	if parsed.Intent != "create_listing" {
		t.Fatalf("wrong arguments: %s", args)
	}
}

func TestCallToolErrorsWhenToolNotCalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "I cannot do that"},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-test", "")
	if _, err := client.CallTool(context.Background(), "", "hi", ToolSpec{Name: "classify_intent"}); err == nil {
		t.Fatal("expected error when model skips the tool")
	}
}

func TestAnalyzeImageParsesSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					ImageURL *struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		foundImage := false
		for _, part := range req.Messages[0].Content {
			if part.Type == "image_url" && part.ImageURL != nil && part.ImageURL.URL == "https://cdn.example/a.jpg" {
				foundImage = true
			}
		}
		if !foundImage {
			t.Fatal("image url part missing from request")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": `{"product":"iPhone 13 Pro","category":"Elektronik","condition":"az kullanılmış","features":["128GB"],"description":"Temiz telefon"}`,
				},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-test", "gpt-vision-test")
	summary, err := client.AnalyzeImage(context.Background(), "https://cdn.example/a.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if summary.Product != "iPhone 13 Pro" || summary.Category != "Elektronik" {
		t.Fatalf("summary mismatch: %+v", summary)
	}
	if len(summary.Features) != 1 || summary.Features[0] != "128GB" {
		t.Fatalf("features mismatch: %+v", summary.Features)
	}
}

func TestAnalyzeImageKeepsRawOnNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"content": "Bu bir telefon fotoğrafı."},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", "gpt-test", "")
	summary, err := client.AnalyzeImage(context.Background(), "https://cdn.example/a.jpg")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if summary.Raw != "Bu bir telefon fotoğrafı." {
		t.Fatalf("raw text lost: %+v", summary)
	}
}
