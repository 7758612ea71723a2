// Package gatewaytest provides scripted provider clients for tests that drive
// the model gateway without a network.
package gatewaytest

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/errors"
)

// Responder produces the reply text (or an error) for one chat request
type Responder func(req openrouter.ChatRequest) (string, error)

// FakeChat is a provider.AIClient that records every request
type FakeChat struct {
	Respond Responder
	Delay   time.Duration // simulated latency, honours ctx

	mu       sync.Mutex
	requests []openrouter.ChatRequest
	inFlight int
	peak     int
}

// Reply returns a FakeChat that always answers text
func Reply(text string) *FakeChat {
	return &FakeChat{Respond: func(openrouter.ChatRequest) (string, error) { return text, nil }}
}

// Failing returns a FakeChat whose every call fails with msg
func Failing(msg string) *FakeChat {
	return &FakeChat{Respond: func(openrouter.ChatRequest) (string, error) { return "", errors.New(msg) }}
}

// Chat implements provider.AIClient
func (f *FakeChat) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text, err := f.Respond(req)
	if err != nil {
		return nil, err
	}
	model := "fake/model"
	if req.Model != nil {
		model = *req.Model
	}
	return &openrouter.ChatResponse{
		Content:  text,
		Model:    model,
		Provider: "fake",
		Usage:    openrouter.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

// Calls reports how many requests reached the provider
func (f *FakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every recorded request
func (f *FakeChat) Requests() []openrouter.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]openrouter.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// PeakConcurrency reports the most calls observed in flight at once
func (f *FakeChat) PeakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// FakeImages is a provider.ImageClient returning a fixed URL
type FakeImages struct {
	URL string
	Err error

	mu      sync.Mutex
	prompts []string
}

// GenerateImage implements provider.ImageClient
func (f *FakeImages) GenerateImage(_ context.Context, req openrouter.ImageRequest) (*openrouter.ImageResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &openrouter.ImageResponse{URL: f.URL, Model: "fake/image"}, nil
}

// Prompts returns every prompt received
func (f *FakeImages) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}
