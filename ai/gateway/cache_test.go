package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func TestCacheDefaults(t *testing.T) {
	c := NewCache(0, 0)
	assert.Equal(t, DefaultCacheEntries, c.Capacity())
	assert.Equal(t, DefaultCacheTTL, c.ttl)
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	c := NewCache(50, time.Minute)
	for i := 0; i < 200; i++ {
		c.Put(fmt.Sprintf("k%d", i), &Response{Content: fmt.Sprint(i)})
		require.LessOrEqual(t, c.Len(), 50)
	}
	assert.Equal(t, 50, c.Len())
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	var evicted []string
	c := NewCache(3, time.Minute).OnEvict(func(key string) { evicted = append(evicted, key) })

	c.Put("a", &Response{Content: "A"})
	c.Put("b", &Response{Content: "B"})
	c.Put("c", &Response{Content: "C"})

	// Reads do not protect an entry: this is FIFO, not LRU
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", &Response{Content: "D"})

	_, ok = c.Get("a")
	assert.False(t, ok, "oldest entry must be gone after overflow")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
	assert.Equal(t, []string{"a"}, evicted)
}

func TestCacheReinsertKeepsPosition(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put("a", &Response{Content: "first"})
	c.Put("b", &Response{Content: "B"})
	c.Put("a", &Response{Content: "second"})

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "second", got.Content, "last write wins")
	assert.Equal(t, 2, c.Len())

	c.Put("c", &Response{Content: "C"})
	_, ok = c.Get("a")
	assert.False(t, ok, "re-insert does not move a to the back")
}

func TestCacheTTL(t *testing.T) {
	clock := newStepClock()
	c := NewCache(10, 10*time.Minute).WithClock(clock.Now)

	c.Put("a", &Response{Content: "A"})
	clock.Advance(9 * time.Minute)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry expires at its TTL")
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on read")
}

func TestCacheReinsertRefreshesTTL(t *testing.T) {
	clock := newStepClock()
	c := NewCache(10, 10*time.Minute).WithClock(clock.Now)

	c.Put("a", &Response{Content: "A"})
	clock.Advance(8 * time.Minute)
	c.Put("a", &Response{Content: "A2"})
	clock.Advance(8 * time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A2", got.Content)
}

func TestCacheRemoveAndPurge(t *testing.T) {
	c := NewCache(5, time.Minute)
	c.Put("a", &Response{})
	c.Put("b", &Response{})

	c.Remove("a")
	c.Remove("missing")
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestCacheConcurrentWriters(t *testing.T) {
	c := NewCache(8, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Put(fmt.Sprintf("w%d-%d", w, i%12), &Response{Content: "x"})
				c.Get(fmt.Sprintf("w%d-%d", (w+1)%8, i%12))
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 8)
}
