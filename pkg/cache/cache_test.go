package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewTTLCacheWithClock(10, 5*time.Minute, clock)
	c.Set("a", "hello")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	// 时间推进到 TTL 之后，条目过期
	now = now.Add(6 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheCapacityEviction(t *testing.T) {
	c := NewTTLCache(3, time.Hour)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// 访问 k0 使其成为最近使用，随后插入新条目应淘汰 k1
	_, ok := c.Get("k0")
	assert.True(t, ok)

	c.Set("k3", 3)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k0")
	assert.True(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestTTLCacheDeleteAndOverwrite(t *testing.T) {
	c := NewTTLCache(2, time.Hour)
	c.Set("a", 1)
	c.Set("a", 2)
	assert.Equal(t, 1, c.Len())

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}
