package anthropic

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
	"github.com/teranos/courseforge/ai/tracker"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/internal/httpclient"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	// jsonInstruction is appended to the system prompt in JSON mode.
	// The Messages API has no response_format switch.
	jsonInstruction = "Respond with a single JSON object and nothing else."
)

// Client represents an Anthropic API client
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float64
	MaxTokens     int
	Logger        *zap.SugaredLogger
	Tracker       *tracker.UsageTracker // Usage/cost persistence (nil = untracked)
	OperationType string                // Operation type for tracking context
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096 // Higher default for Claude
	}
	if config.BaseURL == "" {
		config.BaseURL = BaseURL
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

// MessagesRequest represents a request to the Anthropic Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat implements the shared chat interface for Anthropic.
// Failures are returned as-is, never retried.
func (c *Client) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("Anthropic API key not configured")
	}

	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	system := req.SystemPrompt
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}

	c.logger.Debugw("Anthropic Chat Request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"json_mode", req.JSONMode,
	)

	requestTime := time.Now()
	resp, err := c.createMessages(ctx, MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      system,
		Messages:    []Message{{Role: "user", Content: req.UserPrompt}},
	})
	modelConfig := tracker.NewModelConfig(&temperature, &maxTokens, req.JSONMode)
	if err != nil {
		c.logger.Warnw("Anthropic API error", "error", err, "model", model)
		c.track(ctx, req.EntityID, model, modelConfig, requestTime, nil, err)
		return nil, errors.Wrap(err, "Anthropic API error")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	c.track(ctx, req.EntityID, model, modelConfig, requestTime, &resp.Usage, nil)

	return &openrouter.ChatResponse{
		Content:  strings.TrimSpace(content.String()),
		Model:    model,
		Provider: "anthropic",
		Usage: openrouter.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		CostUSD: CalculateCost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// createMessages sends a request to the Anthropic Messages API
func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &messagesResp, nil
}

func (c *Client) track(ctx context.Context, entityID, model string, modelConfig *string, requestTime time.Time, usage *Usage, callErr error) {
	if c.usageTracker == nil {
		return
	}
	responseTime := time.Now()
	record := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        "job",
		EntityID:          entityID,
		ModelName:         model,
		ModelProvider:     "anthropic",
		ModelConfig:       modelConfig,
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           callErr == nil,
	}
	if usage != nil {
		total := usage.InputTokens + usage.OutputTokens
		cost := CalculateCost(model, usage.InputTokens, usage.OutputTokens)
		record.TokensUsed = &total
		record.Cost = &cost
	}
	if callErr != nil {
		msg := callErr.Error()
		record.ErrorMessage = &msg
	}
	if err := c.usageTracker.TrackUsage(ctx, record); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", model)
	}
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
