package cache

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_weight_cache_hits_total",
		Help: "Total number of spectral weight vectors served from cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_weight_cache_misses_total",
		Help: "Total number of spectral weight vectors computed",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spectra_weight_cache_evictions_total",
		Help: "Total number of spectral weight vectors evicted to stay within capacity",
	})
)

// WeightCache defines a generic interface for caching spectral weights.
type WeightCache interface {
	// Get retrieves a weight vector from the cache.
	Get(key string) ([]complex128, bool)
	// Put stores a weight vector in the cache.
	Put(key string, w []complex128)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is an in-memory WeightCache holding at most capacity entries.
// When full, the least recently used entry is evicted.
type MapCache struct {
	capacity int
	data     map[string]*list.Element
	order    *list.List // front is most recently used
	mu       sync.Mutex
}

type entry struct {
	key string
	w   []complex128
}

// NewMapCache returns a cache bounded to capacity entries. A capacity
// below one is treated as one.
func NewMapCache(capacity int) *MapCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MapCache{
		capacity: capacity,
		data:     make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *MapCache) Get(key string) ([]complex128, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Return copy to avoid modification of cached value
	if el, ok := c.data[key]; ok {
		cacheHits.Inc()
		c.order.MoveToFront(el)
		v := el.Value.(*entry).w
		dst := make([]complex128, len(v))
		copy(dst, v)
		return dst, true
	}
	cacheMisses.Inc()
	return nil, false
}

func (c *MapCache) Put(key string, w []complex128) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy
	dst := make([]complex128, len(w))
	copy(dst, w)
	if el, ok := c.data[key]; ok {
		el.Value.(*entry).w = dst
		c.order.MoveToFront(el)
		return
	}
	c.data[key] = c.order.PushFront(&entry{key: key, w: dst})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.data, oldest.Value.(*entry).key)
		cacheEvictions.Inc()
	}
}

func (c *MapCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *MapCache) Capacity() int {
	return c.capacity
}

// GetOrCompute returns the cached vector for key, computing and storing it
// on a miss.
func GetOrCompute(c WeightCache, key string, compute func() []complex128) []complex128 {
	if w, ok := c.Get(key); ok {
		return w
	}
	w := compute()
	c.Put(key, w)
	return w
}
