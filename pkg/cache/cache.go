package cache

import (
	"container/list"
	"sync"
	"time"
)

// Clock 可注入时钟，测试时替换为固定时间
type Clock func() time.Time

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// TTLCache 带容量上限和过期时间的内存缓存。
// 超出容量时淘汰最久未使用的条目；读取命中会刷新使用顺序。
type TTLCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    Clock

	order *list.List               // 最近使用的在队首
	items map[string]*list.Element // key -> *entry 所在节点
}

func NewTTLCache(capacity int, ttl time.Duration) *TTLCache {
	return NewTTLCacheWithClock(capacity, ttl, time.Now)
}

func NewTTLCacheWithClock(capacity int, ttl time.Duration, clock Clock) *TTLCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &TTLCache{
		capacity: capacity,
		ttl:      ttl,
		clock:    clock,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.clock().After(ent.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return ent.value, true
}

func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock().Add(c.ttl)

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	elem := c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *TTLCache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.order.Remove(elem)
}
