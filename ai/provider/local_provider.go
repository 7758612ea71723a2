package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/errors"
)

// LocalProvider talks to a local inference server
// Supports Ollama, LocalAI, or any OpenAI-compatible local endpoint
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewLocalProvider creates a provider for local inference.
// Local servers live on loopback, so this client does not block private addresses.
func NewLocalProvider(baseURL, model string, timeout time.Duration, logger *zap.SugaredLogger) *LocalProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LocalProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ChatCompletionRequest matches OpenAI API format (Ollama is compatible)
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// ChatMessage is one OpenAI-style message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse matches OpenAI API format
type ChatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *openrouter.Usage `json:"usage,omitempty"`
}

// Chat sends one chat completion to the local server
func (lp *LocalProvider) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	model := lp.model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	var messages []ChatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.UserPrompt})

	body := ChatCompletionRequest{Model: model, Messages: messages}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	// OpenAI-compatible endpoint (works for Ollama, LocalAI, etc.)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, lp.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "local inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(excerpt))
	}

	var completion ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	out := &openrouter.ChatResponse{
		Content:  strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:    model,
		Provider: string(ProviderLocal),
	}
	// Local inference has no API cost; token counts are kept when the server reports them
	if completion.Usage != nil {
		out.Usage = *completion.Usage
	}
	lp.logger.Debugw("Local inference response", "model", model, "content_length", len(out.Content))
	return out, nil
}

// GetModelName returns the configured local model name
func (lp *LocalProvider) GetModelName() string {
	return lp.model
}
