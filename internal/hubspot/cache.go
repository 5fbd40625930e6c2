package hubspot

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// defaultCacheTTL определяет срок жизни закэшированных ответов HubSpot
const defaultCacheTTL = 5 * time.Minute

// cacheEntry представляет одну запись кэша
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ttlCache реализует простой кэш с ограниченным сроком жизни записей.
// Это единственное разделяемое локальное состояние во всем сервисе.
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

// newTTLCache создает новый кэш с указанным TTL
func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Get возвращает значение по ключу, если оно еще не истекло
func (c *ttlCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set сохраняет значение по ключу
func (c *ttlCache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Delete удаляет запись по ключу
func (c *ttlCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// cacheKey строит ключ кэша из префикса и хэша значения поиска
func cacheKey(prefix, value string) string {
	sum := md5.Sum([]byte(value))
	return prefix + "_" + hex.EncodeToString(sum[:])
}
