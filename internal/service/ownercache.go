// ownercache.go — LRU-кэш соответствия id записи → ключ партиции.
// Обёртка над hashicorp/golang-lru/v2/expirable.
// Позволяет обращаться к записи по id без кросс-партиционного Locate.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	ownerCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_owner_cache_hits_total",
		Help: "Общее количество попаданий в кэш ключей партиций.",
	})
	ownerCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "im_owner_cache_misses_total",
		Help: "Общее количество промахов кэша ключей партиций.",
	})
)

// OwnerCache — кэш id → ownerKey с TTL. Каждый экземпляр сервиса имеет свой кэш.
type OwnerCache struct {
	cache *expirable.LRU[string, string]
}

// NewOwnerCache создаёт кэш. maxSize ≤ 0 — без ограничения размера.
func NewOwnerCache(maxSize int, ttl time.Duration) *OwnerCache {
	return &OwnerCache{cache: expirable.NewLRU[string, string](maxSize, nil, ttl)}
}

// Get возвращает ключ партиции записи id.
func (c *OwnerCache) Get(id string) (string, bool) {
	ownerKey, ok := c.cache.Get(id)
	if ok {
		ownerCacheHitsTotal.Inc()
		return ownerKey, true
	}
	ownerCacheMissesTotal.Inc()
	return "", false
}

// Set запоминает ключ партиции записи.
func (c *OwnerCache) Set(id, ownerKey string) {
	c.cache.Add(id, ownerKey)
}

// Delete удаляет запись из кэша.
func (c *OwnerCache) Delete(id string) {
	c.cache.Remove(id)
}

// Len возвращает число записей в кэше.
func (c *OwnerCache) Len() int {
	return c.cache.Len()
}
