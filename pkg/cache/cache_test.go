package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	defer c.Close()

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1, 0)
	c.Set("b", 2, 10*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(11 * time.Second)
	_, ok = c.Get("b")
	assert.False(t, ok, "b 已过期")
	_, ok = c.Get("a")
	assert.True(t, ok)

	c.cleanup()
	c.mu.RLock()
	assert.Len(t, c.items, 1, "cleanup 只移除过期项")
	c.mu.RUnlock()
}

func TestInMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewInMemoryCache[string, string](time.Second)
	c.Close()
	c.Close()
}
