// Package ai defines the LLM provider interfaces the assistant depends on
// and an OpenAI-compatible implementation of all of them.
package ai

import (
	"context"
	"encoding/json"

	"pazarglobal/pkg/domain"
)

// TextGenerator generates free text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ToolSpec describes a single function tool the model is forced to call.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object for the tool arguments.
	Parameters json.RawMessage
}

// ToolCaller runs a chat completion with a single forced tool and returns
// the raw JSON arguments the model produced for it.
type ToolCaller interface {
	CallTool(ctx context.Context, systemPrompt, userPrompt string, tool ToolSpec) (json.RawMessage, error)
}

// VisionAnalyzer interprets a product photo into a structured summary.
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageURL string) (domain.VisionSummary, error)
}
