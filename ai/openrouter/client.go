package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/courseforge/ai/tracker"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultImageModel is an OpenRouter model that can return images
	DefaultImageModel = "google/gemini-2.5-flash-image-preview"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	providerName = "openrouter"
)

// Client represents an OpenRouter.ai API client
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	ImageModel    string
	Temperature   *float64 // nil = use default (0.7)
	MaxTokens     *int     // nil = use default (4000)
	Logger        *zap.SugaredLogger     // Structured logger (nil = nop logger)
	Tracker       *tracker.UsageTracker // Usage/cost persistence (nil = untracked)
	OperationType string                // Operation type for tracking context (e.g., "outline")
}

// NewClient creates a new OpenRouter.ai client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ImageModel == "" {
		config.ImageModel = DefaultImageModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		defaultTemp := 0.7
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 4000
		config.MaxTokens = &defaultTokens
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   httpclient.NewSaferClient(120 * time.Second),
		config:       config,
		usageTracker: config.Tracker,
		logger:       logger,
	}
}

// ResponseFormat asks the model for a specific output shape
type ResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
}

// ChatRequest represents a high-level request to the AI.
// It is the request type shared by every provider client.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
	JSONMode     bool     // Ask for a JSON object response
	EntityID     string   // Usage tracking context (job id)
}

// ChatResponse represents the AI response
type ChatResponse struct {
	Content  string
	Model    string
	Provider string
	Usage    Usage
	CostUSD  float64
}

// Message represents a message in a chat completion.
// Content is json.RawMessage so it can be a plain string or a parts array.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Images  []ImagePart     `json:"images,omitempty"`
}

// ImagePart is an image returned by an image-capable model
type ImagePart struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

// NewTextMessage creates a Message with plain text content (serialized as a JSON string).
func NewTextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

// TextContent extracts the plain text from Content.
func (m Message) TextContent() string {
	if len(m.Content) == 0 || string(m.Content) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return string(m.Content)
	}
	return s
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChatCompletion sends a chat completion request to OpenRouter
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	// X-Title shows up in the OpenRouter dashboard
	if c.config.OperationType != "" {
		httpReq.Header.Set("X-Title", fmt.Sprintf("courseforge/%s", c.config.OperationType))
	} else {
		httpReq.Header.Set("X-Title", "courseforge")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		excerpt := string(respBody)
		if len(excerpt) > 512 {
			excerpt = excerpt[:512]
		}
		return nil, errors.Newf("API request failed with status %d: %s", resp.StatusCode, excerpt)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends one chat completion. Failures are returned as-is, never retried.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("OpenRouter API key not configured")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	c.logger.Debugw("AI Chat Request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"json_mode", req.JSONMode,
		"prompt_length", len(req.UserPrompt),
	)

	messages := []Message{NewTextMessage("user", req.UserPrompt)}
	if req.SystemPrompt != "" {
		messages = append([]Message{NewTextMessage("system", req.SystemPrompt)}, messages...)
	}

	openrouterReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		openrouterReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	requestTime := time.Now()
	resp, err := c.CreateChatCompletion(ctx, openrouterReq)
	if err != nil {
		c.logger.Warnw("OpenRouter API error", "error", err, "model", model)
		c.track(ctx, req.EntityID, model, tracker.NewModelConfig(&temperature, &maxTokens, req.JSONMode), requestTime, nil, err, 0)
		return nil, errors.Wrap(err, "OpenRouter API error")
	}

	if len(resp.Choices) == 0 {
		err := errors.New("no response choices from OpenRouter")
		c.track(ctx, req.EntityID, model, nil, requestTime, nil, err, 0)
		return nil, err
	}

	responseText := resp.Choices[0].Message.TextContent()
	cost := CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	c.logger.Debugw("OpenRouter response",
		"content_length", len(responseText),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	c.track(ctx, req.EntityID, model, tracker.NewModelConfig(&temperature, &maxTokens, req.JSONMode), requestTime, &resp.Usage, nil, 0)

	return &ChatResponse{
		Content:  strings.TrimSpace(responseText),
		Model:    model,
		Provider: providerName,
		Usage:    resp.Usage,
		CostUSD:  cost,
	}, nil
}

// ImageRequest asks an image-capable model for one picture
type ImageRequest struct {
	Prompt   string
	Model    string // empty = configured image model
	EntityID string
}

// ImageResponse holds the first image returned, as a URL or data URI
type ImageResponse struct {
	URL   string
	Model string
}

// GenerateImage requests an image through the chat endpoint with image modality
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("OpenRouter API key not configured")
	}
	model := req.Model
	if model == "" {
		model = c.config.ImageModel
	}

	requestTime := time.Now()
	resp, err := c.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model:      model,
		Messages:   []Message{NewTextMessage("user", req.Prompt)},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		c.track(ctx, req.EntityID, model, nil, requestTime, nil, err, 0)
		return nil, errors.Wrap(err, "OpenRouter image error")
	}

	for _, choice := range resp.Choices {
		for _, img := range choice.Message.Images {
			if img.ImageURL.URL != "" {
				c.track(ctx, req.EntityID, model, nil, requestTime, &resp.Usage, nil, 1)
				return &ImageResponse{URL: img.ImageURL.URL, Model: model}, nil
			}
		}
	}

	err = errors.New("no image returned by model")
	c.track(ctx, req.EntityID, model, nil, requestTime, nil, err, 0)
	return nil, err
}

// track records one call in ai_model_usage; tracking failures are only logged
func (c *Client) track(ctx context.Context, entityID, model string, modelConfig *string, requestTime time.Time, usage *Usage, callErr error, images int) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	record := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        "job",
		EntityID:          entityID,
		ModelName:         model,
		ModelProvider:     providerName,
		ModelConfig:       modelConfig,
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           callErr == nil,
	}
	if usage != nil {
		tokens := usage.TotalTokens
		cost := CalculateCost(model, usage.PromptTokens, usage.CompletionTokens) + ImageCost(model, images)
		record.TokensUsed = &tokens
		record.Cost = &cost
	}
	if callErr != nil {
		msg := callErr.Error()
		record.ErrorMessage = &msg
	}

	if err := c.usageTracker.TrackUsage(ctx, record); err != nil {
		// Always log tracking errors (budget system relies on this data)
		c.logger.Warnw("Failed to track usage", "error", err, "model", model)
	}
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
