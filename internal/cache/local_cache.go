package cache

import (
	"sync"
	"time"
)

// LocalCache 带过期时间和容量上限的本地内存缓存
//
// 用于保存邮件内容解析结果，避免重复调用 postcat。
// 达到容量上限时先清理过期条目，仍然不足则淘汰最早过期的条目。
type LocalCache[V any] struct {
	mu      sync.Mutex
	data    map[string]cacheEntry[V]
	maxSize int
	ttl     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，小于等于 0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	c := &LocalCache[V]{
		data:    make(map[string]cacheEntry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}

	go c.cleanupLoop(time.Minute)

	return c
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.data[key]
	if !ok {
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return zero, false
	}
	return entry.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (c *LocalCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked(time.Now())
	}
	c.data[key] = cacheEntry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Clear 清空所有缓存
func (c *LocalCache[V]) Clear() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}

// Len 返回当前条目数（包含尚未清理的过期条目）
func (c *LocalCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Close 停止后台清理
func (c *LocalCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// evictLocked 清理过期条目，仍满时淘汰最早过期的一条
func (c *LocalCache[V]) evictLocked(now time.Time) {
	c.removeExpiredLocked(now)
	if len(c.data) < c.maxSize {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range c.data {
		if oldestKey == "" || entry.expiresAt.Before(oldest) {
			oldestKey, oldest = key, entry.expiresAt
		}
	}
	delete(c.data, oldestKey)
}

func (c *LocalCache[V]) removeExpiredLocked(now time.Time) {
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			c.removeExpiredLocked(now)
			c.mu.Unlock()
		}
	}
}
