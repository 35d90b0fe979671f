package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pazarglobal/pkg/domain"
)

// OpenAIClient calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with the OpenAI API itself, vLLM, LiteLLM, OpenRouter and other
// self-hosted gateways. One client serves text, tool and vision calls.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	visionModel string
	httpClient  *http.Client
}

// NewOpenAIClient builds an OpenAI-compatible client. baseURL should include
// the /v1 prefix, e.g. "https://api.openai.com/v1". visionModel may equal
// model when the provider is multimodal.
func NewOpenAIClient(baseURL, apiKey, model, visionModel string) *OpenAIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if visionModel = strings.TrimSpace(visionModel); visionModel == "" {
		visionModel = strings.TrimSpace(model)
	}
	return &OpenAIClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(apiKey),
		model:       strings.TrimSpace(model),
		visionModel: visionModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateText implements TextGenerator.
func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	resp, err := c.chat(ctx, oaiChatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.firstContent())
	if text == "" {
		return "", fmt.Errorf("empty response from chat api")
	}
	return text, nil
}

// CallTool implements ToolCaller by forcing the model to invoke the given
// function and returning its raw arguments.
func (c *OpenAIClient) CallTool(ctx context.Context, systemPrompt, userPrompt string, tool ToolSpec) (json.RawMessage, error) {
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	req := oaiChatRequest{
		Model:    c.model,
		Messages: messages,
		Tools: []oaiTool{{
			Type: "function",
			Function: oaiFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}},
		ToolChoice: &oaiToolChoice{
			Type:     "function",
			Function: oaiToolChoiceFunction{Name: tool.Name},
		},
	}
	resp, err := c.chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from chat api")
	}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == tool.Name {
			return json.RawMessage(call.Function.Arguments), nil
		}
	}
	return nil, fmt.Errorf("model did not call tool %q", tool.Name)
}

const visionPrompt = `Ürün fotoğrafını analiz et ve SADECE geçerli JSON döndür:
{"product":"","category":"","condition":"","features":[],"description":"","safety_flags":[]}
Türkçe yaz. Kategori, ürünün satış kategorisidir. safety_flags yalnızca
yasaklı veya şüpheli içerik gördüğünde doldurulur.`

// AnalyzeImage implements VisionAnalyzer using multimodal chat content parts
// with a JSON response format. When the provider returns prose instead of
// JSON, the raw text is preserved so the caller can still show something.
func (c *OpenAIClient) AnalyzeImage(ctx context.Context, imageURL string) (domain.VisionSummary, error) {
	req := oaiChatRequest{
		Model: c.visionModel,
		Messages: []oaiMessage{{
			Role: "user",
			Parts: []oaiContentPart{
				{Type: "text", Text: visionPrompt},
				{Type: "image_url", ImageURL: &oaiImageURL{URL: imageURL}},
			},
		}},
		ResponseFormat: &oaiResponseFormat{Type: "json_object"},
	}
	resp, err := c.chat(ctx, req)
	if err != nil {
		return domain.VisionSummary{}, err
	}
	text := strings.TrimSpace(resp.firstContent())
	if text == "" {
		return domain.VisionSummary{}, fmt.Errorf("empty response from vision api")
	}

	var summary domain.VisionSummary
	if err := json.Unmarshal([]byte(text), &summary); err != nil {
		return domain.VisionSummary{Raw: text}, nil
	}
	summary.Raw = text
	return summary, nil
}

func (c *OpenAIClient) chat(ctx context.Context, reqBody oaiChatRequest) (*oaiChatResponse, error) {
	if reqBody.Model == "" {
		return nil, fmt.Errorf("chat model required")
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("chat api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("chat api error: %s", resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("chat decode: %w", err)
	}
	return &chatResp, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string           `json:"role"`
	Content string           `json:"content,omitempty"`
	Parts   []oaiContentPart `json:"-"`
}

// MarshalJSON emits multimodal content parts when present, otherwise the
// plain string content the API also accepts.
func (m oaiMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string           `json:"role"`
			Content []oaiContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiToolChoiceFunction struct {
	Name string `json:"name"`
}

type oaiToolChoice struct {
	Type     string                `json:"type"`
	Function oaiToolChoiceFunction `json:"function"`
}

type oaiResponseFormat struct {
	Type string `json:"type"`
}

type oaiChatRequest struct {
	Model          string             `json:"model"`
	Messages       []oaiMessage       `json:"messages"`
	Tools          []oaiTool          `json:"tools,omitempty"`
	ToolChoice     *oaiToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat *oaiResponseFormat `json:"response_format,omitempty"`
}

type oaiToolCall struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string        `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *oaiChatResponse) firstContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
