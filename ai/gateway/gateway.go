// Package gateway is the single entry point for model calls.
//
// It fronts a provider.AIClient with a bounded response cache and collapses
// identical in-flight requests. Every call passes the operator spend guard
// and the provider rate limiter first; structured output is extracted from
// fenced or prose-wrapped replies.
// It never retries: a failed call is reported once as ErrProviderError and
// the caller decides what to do with the job.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/ai/provider"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/pulse/budget"
)

// DefaultEstimatedCostUSD is the per-call estimate handed to the spend guard
const DefaultEstimatedCostUSD = 0.01

// DefaultSharedCallTimeout bounds a collapsed provider call once it no longer
// follows any single caller's context.
const DefaultSharedCallTimeout = 3 * time.Minute

// Request is one text generation call
type Request struct {
	Model        string // empty = provider default
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64
	MaxTokens    *int
	JSON         bool
	EntityID     string // usage attribution, not part of the cache key
}

// Response is a generated text
type Response struct {
	Content  string  `json:"content"`
	Model    string  `json:"model"`
	Provider string  `json:"provider"`
	CostUSD  float64 `json:"cost_usd"`
	Cached   bool    `json:"cached"`
}

// ImageRef points at a generated image (URL or data URI)
type ImageRef struct {
	URL    string `json:"url"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

// Config wires a Gateway. Only Chat is required.
type Config struct {
	Chat             provider.AIClient
	Images           provider.ImageClient // nil = image generation unavailable
	Cache            *Cache               // nil = no caching
	Budget           *budget.Tracker      // nil = no spend guard
	Limiter          *budget.Limiter      // nil = unlimited
	Metrics          *metrics.Metrics
	Logger           *zap.SugaredLogger
	ProviderName     string
	EstimatedCostUSD float64
	SharedTimeout    time.Duration // 0 = DefaultSharedCallTimeout
}

// Gateway is safe for concurrent use
type Gateway struct {
	chat     provider.AIClient
	images   provider.ImageClient
	cache    *Cache
	budget   *budget.Tracker
	limiter  *budget.Limiter
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	provider string
	estimate float64
	shared   time.Duration
	group    singleflight.Group
}

// New creates a Gateway
func New(cfg Config) *Gateway {
	g := &Gateway{
		chat:     cfg.Chat,
		images:   cfg.Images,
		cache:    cfg.Cache,
		budget:   cfg.Budget,
		limiter:  cfg.Limiter,
		metrics:  cfg.Metrics,
		logger:   logger.OrGlobal(cfg.Logger, "gateway"),
		provider: cfg.ProviderName,
		estimate: cfg.EstimatedCostUSD,
		shared:   cfg.SharedTimeout,
	}
	if g.shared <= 0 {
		g.shared = DefaultSharedCallTimeout
	}
	if g.provider == "" {
		g.provider = "model"
	}
	if g.estimate <= 0 {
		g.estimate = DefaultEstimatedCostUSD
	}
	if g.cache != nil {
		m := g.metrics
		g.cache.OnEvict(func(string) { m.CacheEvict() })
	}
	return g
}

// Generate returns the model's text for req, from cache when possible
func (g *Gateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, errors.NewInvalidRequestError("generation prompt cannot be empty")
	}
	if g.cache == nil {
		return g.call(ctx, req)
	}

	key := CacheKey(req)
	if resp, ok := g.cache.Get(key); ok {
		g.metrics.CacheHit()
		hit := *resp
		hit.Cached = true
		return &hit, nil
	}
	g.metrics.CacheMiss()

	// The shared call runs detached from whichever caller started it; each
	// caller still stops waiting when its own context ends.
	ch := g.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.shared)
		defer cancel()
		resp, err := g.call(callCtx, req)
		if err != nil {
			return nil, err
		}
		g.cache.Put(key, resp)
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			g.logger.Debugw("Collapsed identical model request", logger.FieldEntityID, req.EntityID)
		}
		resp := *res.Val.(*Response)
		return &resp, nil
	case <-ctx.Done():
		return nil, errors.MarkProvider(ctx.Err(), "model generation abandoned")
	}
}

// GenerateJSON generates with JSON mode on and decodes the reply into out.
// A reply that cannot be decoded is evicted so the next attempt asks again.
func (g *Gateway) GenerateJSON(ctx context.Context, req Request, out any) error {
	req.JSON = true
	resp, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := DecodeJSON(resp.Content, out); err != nil {
		if g.cache != nil {
			g.cache.Remove(CacheKey(req))
		}
		return errors.WithDetail(err, "Model: "+resp.Model)
	}
	return nil
}

// GenerateImage renders prompt in style. Images are not cached.
func (g *Gateway) GenerateImage(ctx context.Context, prompt, style string, entityID string) (*ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.NewInvalidRequestError("image prompt cannot be empty")
	}
	if g.images == nil {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "image generation is not configured"),
			"Set openrouter.api_key to enable image generation",
		)
	}
	if err := g.admit(ctx); err != nil {
		return nil, err
	}

	full := prompt
	if style != "" {
		full = prompt + "\n\nStyle: " + style
	}

	start := time.Now()
	resp, err := g.images.GenerateImage(ctx, openrouter.ImageRequest{Prompt: full, EntityID: entityID})
	if err != nil {
		g.metrics.ProviderCall(g.provider, "error", time.Since(start))
		return nil, errors.MarkProvider(err, "image generation failed")
	}
	g.metrics.ProviderCall(g.provider, "ok", time.Since(start))
	return &ImageRef{URL: resp.URL, Model: resp.Model, Prompt: prompt, Style: style}, nil
}

// call performs one uncached provider round trip
func (g *Gateway) call(ctx context.Context, req Request) (*Response, error) {
	if err := g.admit(ctx); err != nil {
		return nil, err
	}

	chatReq := openrouter.ChatRequest{
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		JSONMode:     req.JSON,
		EntityID:     req.EntityID,
	}
	if req.Model != "" {
		model := req.Model
		chatReq.Model = &model
	}

	start := time.Now()
	resp, err := g.chat.Chat(ctx, chatReq)
	elapsed := time.Since(start)
	if err != nil {
		g.metrics.ProviderCall(g.provider, "error", elapsed)
		g.logger.Warnw("Model call failed",
			logger.FieldEntityID, req.EntityID,
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, err)
		return nil, errors.MarkProvider(err, "model generation failed")
	}
	g.metrics.ProviderCall(g.provider, "ok", elapsed)

	if strings.TrimSpace(resp.Content) == "" {
		return nil, errors.Mark(errors.New("model returned an empty response"), errors.ErrProviderError)
	}

	return &Response{
		Content:  resp.Content,
		Model:    resp.Model,
		Provider: resp.Provider,
		CostUSD:  resp.CostUSD,
	}, nil
}

// admit consults the spend guard and waits for a rate limiter slot
func (g *Gateway) admit(ctx context.Context) error {
	if g.budget != nil {
		if err := g.budget.CheckBudget(ctx, g.estimate); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				return errors.Mark(err, errors.ErrProviderError)
			}
			return errors.Wrap(err, "failed to check operator budget")
		}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return errors.MarkProvider(err, "rate limiter wait aborted")
	}
	return nil
}

// cacheKeyPayload is the canonical request shape hashed into the cache key.
// Field order is fixed by the struct so equal requests marshal identically.
type cacheKeyPayload struct {
	System      string   `json:"system"`
	User        string   `json:"user"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	JSON        bool     `json:"json"`
}

// CacheKey hashes the model id with the normalized request payload
func CacheKey(req Request) string {
	payload, _ := json.Marshal(cacheKeyPayload{
		System:      normalize(req.SystemPrompt),
		User:        normalize(req.UserPrompt),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSON:        req.JSON,
	})
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// normalize trims and collapses runs of whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
