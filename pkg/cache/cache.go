package cache

import (
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Clear()
	Size() int
}

// InMemoryCache 内存缓存实现
type InMemoryCache[K comparable, V any] struct {
	items      map[K]*cacheItem[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
	onEvict    func(K, V)
	now        func() time.Time

	stopOnce sync.Once
	stopC    chan struct{}
}

// cacheItem 缓存项
type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache 创建新的内存缓存，并启动后台清理（调用 Stop 结束）
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	c := &InMemoryCache[K, V]{
		items:      make(map[K]*cacheItem[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopC:      make(chan struct{}),
	}
	go c.startCleanup(time.Minute)
	return c
}

// OnEvict 设置过期/删除回调（在锁外调用）
func (c *InMemoryCache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get 获取缓存值，过期项视为不存在
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	expired := exists && c.now().After(item.expiresAt)
	c.mu.RUnlock()

	if !exists {
		var zero V
		return zero, false
	}
	if expired {
		c.Delete(key)
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值，ttl==0 使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = &cacheItem[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// GetOrLoad 缓存未命中时调用 load 并写入缓存；load 出错不缓存
func (c *InMemoryCache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v, 0)
	return v, nil
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	item, ok := c.items[key]
	delete(c.items, key)
	fn := c.onEvict
	c.mu.Unlock()
	if ok && fn != nil {
		fn(key, item.value)
	}
}

// Clear 清空缓存（对每一项触发回调）
func (c *InMemoryCache[K, V]) Clear() {
	c.mu.Lock()
	old := c.items
	c.items = make(map[K]*cacheItem[V])
	fn := c.onEvict
	c.mu.Unlock()
	if fn != nil {
		for k, it := range old {
			fn(k, it.value)
		}
	}
}

// Size 获取缓存大小
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stop 停止后台清理 goroutine
func (c *InMemoryCache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopC) })
}

// startCleanup 定期清理过期项
func (c *InMemoryCache[K, V]) startCleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopC:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup 清理过期项
func (c *InMemoryCache[K, V]) cleanup() {
	c.mu.Lock()
	now := c.now()
	var evicted []K
	var values []V
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			evicted = append(evicted, key)
			values = append(values, item.value)
			delete(c.items, key)
		}
	}
	fn := c.onEvict
	c.mu.Unlock()

	if fn != nil {
		for i := range evicted {
			fn(evicted[i], values[i])
		}
	}
}
