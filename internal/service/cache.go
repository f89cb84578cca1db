// CacheService — LRU-кэш с TTL поверх hashicorp/golang-lru/v2/expirable.
// Используется для справочника доменов и средних оценок датасетов.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэшей.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nd_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nd_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша.",
	}, []string{"cache"})
)

// CacheService — именованный LRU-кэш с автоматическим TTL.
// Кэш локален для процесса: несколько экземпляров не синхронизируются.
type CacheService[V any] struct {
	name  string
	cache *expirable.LRU[string, V]
}

// NewCacheService создаёт LRU-кэш.
// name — метка cache в метриках, maxSize — максимальное число записей,
// ttl — время жизни записи после добавления.
func NewCacheService[V any](name string, maxSize int, ttl time.Duration) *CacheService[V] {
	return &CacheService[V]{
		name:  name,
		cache: expirable.NewLRU[string, V](maxSize, nil, ttl),
	}
}

// Get возвращает значение по ключу и признак попадания.
func (c *CacheService[V]) Get(key string) (V, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.WithLabelValues(c.name).Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues(c.name).Inc()
	return val, false
}

// Set добавляет или обновляет запись.
func (c *CacheService[V]) Set(key string, val V) {
	c.cache.Add(key, val)
}

// Delete удаляет запись (инвалидация).
func (c *CacheService[V]) Delete(key string) {
	c.cache.Remove(key)
}

// Purge очищает кэш целиком.
func (c *CacheService[V]) Purge() {
	c.cache.Purge()
}
