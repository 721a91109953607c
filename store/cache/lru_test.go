package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache[string, string](16, time.Minute)

	c.Set("greeting", "привет", 0)
	got, ok := c.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "привет", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Set("greeting", "здарова", 0)
	got, ok = c.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "здарова", got)
	assert.Equal(t, 1, c.Size())
}

func TestLRUCachePointerValues(t *testing.T) {
	type cachedChat struct {
		title string
	}
	c := NewLRUCache[int64, *cachedChat](8, time.Minute)

	c.Set(42, &cachedChat{title: "ops"}, 0)

	got, ok := c.Get(42)
	require.True(t, ok)
	assert.Equal(t, "ops", got.title)

	missing, ok := c.Get(7)
	assert.False(t, ok)
	assert.Nil(t, missing)
}

func TestLRUCacheDefaultCapacity(t *testing.T) {
	c := NewLRUCache[string, int](0, 0)

	assert.Equal(t, 1000, c.Capacity())

	c.Set("key", 1, 0)
	_, ok := c.Get("key")
	assert.True(t, ok)
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache[string, string](16, 50*time.Millisecond)

	c.Set("default", "1", 0)
	c.SetWithDefaultTTL("also-default", "2")
	c.Set("long", "3", time.Minute)

	_, ok := c.Get("default")
	require.True(t, ok, "entry should live until its TTL")

	time.Sleep(70 * time.Millisecond)

	_, ok = c.Get("default")
	assert.False(t, ok, "default TTL should have expired")
	_, ok = c.Get("also-default")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok, "explicit TTL overrides the default")
}

func TestLRUCacheGetDropsExpired(t *testing.T) {
	c := NewLRUCache[string, string](16, time.Minute)

	c.Set("gone", "x", 50*time.Millisecond)
	require.Equal(t, 1, c.Size())

	time.Sleep(60 * time.Millisecond)

	_, ok := c.Get("gone")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry should be dropped on read")
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, string](3, time.Minute)

	c.Set("k1", "1", 0)
	c.Set("k2", "2", 0)
	c.Set("k3", "3", 0)

	// Reading k1 promotes it, so k2 becomes the eviction victim.
	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Set("k4", "4", 0)

	assert.Equal(t, 3, c.Size())
	_, ok = c.Get("k2")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestLRUCacheOverwritePromotes(t *testing.T) {
	c := NewLRUCache[string, string](3, time.Minute)

	c.Set("k1", "1", 0)
	c.Set("k2", "2", 0)
	c.Set("k3", "3", 0)

	c.Set("k1", "1-updated", 0)
	c.Set("k4", "4", 0)

	_, ok := c.Get("k2")
	assert.False(t, ok, "oldest untouched entry should be evicted")
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "1-updated", got)
}

func TestLRUCacheContains(t *testing.T) {
	c := NewLRUCache[string, string](3, time.Minute)

	c.Set("k1", "1", 0)
	c.Set("k2", "2", 0)
	c.Set("k3", "3", 0)

	assert.True(t, c.Contains("k1"))
	assert.False(t, c.Contains("missing"))

	// Contains does not promote, so k1 is still the eviction victim.
	c.Set("k4", "4", 0)
	assert.False(t, c.Contains("k1"))
}

func TestLRUCacheContainsExpired(t *testing.T) {
	c := NewLRUCache[string, string](16, time.Minute)

	c.Set("stale", "x", 50*time.Millisecond)
	require.True(t, c.Contains("stale"))

	time.Sleep(60 * time.Millisecond)

	assert.False(t, c.Contains("stale"))
}

func TestLRUCacheRemove(t *testing.T) {
	c := NewLRUCache[string, string](16, time.Minute)

	c.Set("key", "value", 0)

	assert.True(t, c.Remove("key"))
	_, ok := c.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())

	assert.False(t, c.Remove("key"), "second remove should report a miss")
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache[string, int](16, time.Minute)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 0)
	}
	require.Equal(t, 5, c.Size())

	c.Clear()

	assert.Equal(t, 0, c.Size())
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestLRUCacheCleanupExpired(t *testing.T) {
	c := NewLRUCache[string, string](16, time.Minute)

	c.Set("e1", "1", 50*time.Millisecond)
	c.Set("e2", "2", 50*time.Millisecond)
	c.Set("live", "3", time.Minute)

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("live")
	assert.True(t, ok)
}

func TestLRUCacheExpiredMakeRoom(t *testing.T) {
	c := NewLRUCache[string, string](2, time.Minute)

	c.Set("old", "x", 50*time.Millisecond)
	c.Set("keep", "y", time.Minute)

	time.Sleep(60 * time.Millisecond)

	// The write at capacity sweeps expired entries first, so the live
	// entry is not evicted.
	c.Set("new", "z", time.Minute)

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get("keep")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
	_, ok = c.Get("old")
	assert.False(t, ok)
}

func TestLRUCacheConcurrentAccess(t *testing.T) {
	c := NewLRUCache[string, int](64, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Set(fmt.Sprintf("k%d", n%16), n, 0)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Get(fmt.Sprintf("k%d", n%16))
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Remove(fmt.Sprintf("k%d", n%16))
		}(i)
	}

	wg.Wait()
}
