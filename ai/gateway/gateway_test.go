package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/courseforge/ai/gateway/gatewaytest"
	"github.com/teranos/courseforge/ai/openrouter"
	"github.com/teranos/courseforge/errors"
	cftest "github.com/teranos/courseforge/internal/testing"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/pulse/budget"
)

func TestGenerateCachesSuccessfulResponses(t *testing.T) {
	chat := gatewaytest.Reply("A course on tidal energy.")
	m := metrics.NewMetrics(prometheus.NewRegistry())
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute), Metrics: m})
	ctx := context.Background()

	first, err := g.Generate(ctx, Request{UserPrompt: "Describe tidal energy"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Same payload modulo whitespace hits the cache
	second, err := g.Generate(ctx, Request{UserPrompt: "  Describe   tidal\nenergy "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, chat.Calls())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestGenerateKeyIncludesModel(t *testing.T) {
	chat := gatewaytest.Reply("ok")
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})
	ctx := context.Background()

	_, err := g.Generate(ctx, Request{Model: "a/one", UserPrompt: "same"})
	require.NoError(t, err)
	_, err = g.Generate(ctx, Request{Model: "b/two", UserPrompt: "same"})
	require.NoError(t, err)

	assert.Equal(t, 2, chat.Calls())
	assert.NotEqual(t, CacheKey(Request{Model: "a/one", UserPrompt: "same"}), CacheKey(Request{Model: "b/two", UserPrompt: "same"}))
	assert.Equal(t, CacheKey(Request{UserPrompt: "same", EntityID: "j1"}), CacheKey(Request{UserPrompt: "same", EntityID: "j2"}))
}

func TestGenerateWithoutCache(t *testing.T) {
	chat := gatewaytest.Reply("ok")
	g := New(Config{Chat: chat})

	for i := 0; i < 3; i++ {
		resp, err := g.Generate(context.Background(), Request{UserPrompt: "same"})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
	}
	assert.Equal(t, 3, chat.Calls(), "bypassing the cache must still work")
}

func TestGenerateProviderErrorIsNotRetriedOrCached(t *testing.T) {
	chat := gatewaytest.Failing("upstream timeout")
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})

	_, err := g.Generate(context.Background(), Request{UserPrompt: "outline"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProviderError))
	assert.Contains(t, err.Error(), "upstream timeout")
	assert.Equal(t, 1, chat.Calls(), "no internal retry")
	assert.Equal(t, 0, g.cache.Len())
}

func TestGenerateEmptyResponse(t *testing.T) {
	g := New(Config{Chat: gatewaytest.Reply("   ")})
	_, err := g.Generate(context.Background(), Request{UserPrompt: "outline"})
	require.Error(t, err)
	assert.Equal(t, errors.KindProviderError, errors.KindOf(err))
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	chat := gatewaytest.Reply("ok")
	g := New(Config{Chat: chat})
	_, err := g.Generate(context.Background(), Request{UserPrompt: "  "})
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Equal(t, 0, chat.Calls())
}

func TestGenerateCollapsesConcurrentMisses(t *testing.T) {
	chat := gatewaytest.Reply("shared")
	chat.Delay = 50 * time.Millisecond
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := g.Generate(context.Background(), Request{UserPrompt: "identical"})
			assert.NoError(t, err)
			assert.Equal(t, "shared", resp.Content)
		}()
	}
	wg.Wait()

	// Either collapsed or served from cache; never more calls than callers
	assert.LessOrEqual(t, chat.Calls(), 8)
	assert.GreaterOrEqual(t, chat.Calls(), 1)
}

func TestCollapsedCallSurvivesLeaderCancellation(t *testing.T) {
	chat := gatewaytest.Reply("shared")
	chat.Delay = 100 * time.Millisecond
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := g.Generate(leaderCtx, Request{UserPrompt: "identical"})
		leaderErr <- err
	}()

	// Let the leader reach the provider before anyone joins
	require.Eventually(t, func() bool { return chat.Calls() == 1 }, time.Second, time.Millisecond)

	follower := make(chan *Response, 1)
	followerErr := make(chan error, 1)
	go func() {
		resp, err := g.Generate(context.Background(), Request{UserPrompt: "identical"})
		follower <- resp
		followerErr <- err
	}()

	cancelLeader()
	err := <-leaderErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	resp := <-follower
	require.NoError(t, <-followerErr)
	assert.Equal(t, "shared", resp.Content)
	assert.Equal(t, 1, chat.Calls(), "the follower joined the leader's call")

	cached, err := g.Generate(context.Background(), Request{UserPrompt: "identical"})
	require.NoError(t, err)
	assert.True(t, cached.Cached, "the detached call still fills the cache")
}

func TestGenerateJSON(t *testing.T) {
	chat := gatewaytest.Reply("Sure! ```json\n{\"title\":\"Bees\",\"count\":3}\n```")
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})

	var out titled
	require.NoError(t, g.GenerateJSON(context.Background(), Request{UserPrompt: "bees"}, &out))
	assert.Equal(t, titled{"Bees", 3}, out)
	require.Len(t, chat.Requests(), 1)
	assert.True(t, chat.Requests()[0].JSONMode)
}

func TestGenerateJSONMalformedIsEvicted(t *testing.T) {
	chat := gatewaytest.Reply("I'd rather write a poem.")
	g := New(Config{Chat: chat, Cache: NewCache(10, time.Minute)})
	ctx := context.Background()

	var out titled
	err := g.GenerateJSON(ctx, Request{UserPrompt: "bees"}, &out)
	require.Error(t, err)
	assert.Equal(t, errors.KindMalformedResponse, errors.KindOf(err))
	assert.Equal(t, 0, g.cache.Len())

	_ = g.GenerateJSON(ctx, Request{UserPrompt: "bees"}, &out)
	assert.Equal(t, 2, chat.Calls(), "a malformed reply is asked for again")
}

func TestGenerateRespectsBudget(t *testing.T) {
	db := cftest.CreateTestDB(t)
	_, err := db.Exec(`
		INSERT INTO ai_model_usage (operation_type, entity_type, entity_id, model_name, model_provider,
			request_timestamp, cost, success)
		VALUES ('outline', 'job', 'job-1', 'gpt-4o-mini', 'openrouter', ?, 5.0, 1)`, time.Now().UTC())
	require.NoError(t, err)

	chat := gatewaytest.Reply("ok")
	g := New(Config{
		Chat:   chat,
		Budget: budget.NewTracker(db, budget.Config{DailyBudgetUSD: 5}),
	})

	_, err = g.Generate(context.Background(), Request{UserPrompt: "outline"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProviderError))
	assert.True(t, errors.Is(err, budget.ErrBudgetExceeded))
	assert.Equal(t, 0, chat.Calls())
}

func TestGenerateWaitsForLimiter(t *testing.T) {
	chat := gatewaytest.Reply("ok")
	g := New(Config{Chat: chat, Limiter: budget.NewLimiter(1)})

	_, err := g.Generate(context.Background(), Request{UserPrompt: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, Request{UserPrompt: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProviderError))
	assert.Equal(t, 1, chat.Calls())
}

func TestGenerateImage(t *testing.T) {
	images := &gatewaytest.FakeImages{URL: "https://img.example/1.png"}
	g := New(Config{Chat: gatewaytest.Reply("unused"), Images: images})

	ref, err := g.GenerateImage(context.Background(), "A lighthouse at dusk", "watercolor", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", ref.URL)
	assert.Equal(t, "watercolor", ref.Style)
	require.Len(t, images.Prompts(), 1)
	assert.Contains(t, images.Prompts()[0], "Style: watercolor")
}

func TestGenerateImageFailures(t *testing.T) {
	g := New(Config{Chat: gatewaytest.Reply("unused")})
	_, err := g.GenerateImage(context.Background(), "x", "", "")
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))

	g = New(Config{Chat: gatewaytest.Reply("unused"), Images: &gatewaytest.FakeImages{Err: errors.New("no image returned by model")}})
	_, err = g.GenerateImage(context.Background(), "x", "", "")
	assert.True(t, errors.Is(err, errors.ErrProviderError))
}

func TestRequestModelOverride(t *testing.T) {
	chat := gatewaytest.Reply("ok")
	g := New(Config{Chat: chat})

	resp, err := g.Generate(context.Background(), Request{Model: "anthropic/claude-haiku", UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-haiku", resp.Model)

	var req openrouter.ChatRequest = chat.Requests()[0]
	require.NotNil(t, req.Model)
	assert.Equal(t, "anthropic/claude-haiku", *req.Model)
}
