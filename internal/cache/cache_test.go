package cache

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestMapCache(t *testing.T) {
	c := NewMapCache(8)

	startHits := getMetricValue(cacheHits)
	startMisses := getMetricValue(cacheMisses)

	_, ok := c.Get("a")
	assert.False(t, ok)

	w := []complex128{1, 2i}
	c.Put("a", w)
	w[0] = 99 // stored value is a copy

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []complex128{1, 2i}, got)

	got[1] = 0 // returned value is a copy
	again, _ := c.Get("a")
	assert.Equal(t, []complex128{1, 2i}, again)

	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 2.0, getMetricValue(cacheHits)-startHits)
	assert.Equal(t, 1.0, getMetricValue(cacheMisses)-startMisses)
}

func TestGetOrCompute(t *testing.T) {
	c := NewMapCache(8)
	calls := 0
	compute := func() []complex128 {
		calls++
		return []complex128{3}
	}

	assert.Equal(t, []complex128{3}, GetOrCompute(c, "k", compute))
	assert.Equal(t, []complex128{3}, GetOrCompute(c, "k", compute))
	assert.Equal(t, 1, calls)
}

func TestMapCache_Bounded(t *testing.T) {
	c := NewMapCache(3)
	startEvictions := getMetricValue(cacheEvictions)

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("period/%d", i), make([]complex128, 16))
		assert.LessOrEqual(t, c.Size(), 3)
	}
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, 97.0, getMetricValue(cacheEvictions)-startEvictions)

	_, ok := c.Get("period/0")
	assert.False(t, ok)
	_, ok = c.Get("period/99")
	assert.True(t, ok)
}

func TestMapCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMapCache(2)
	c.Put("a", []complex128{1})
	c.Put("b", []complex128{2})

	_, ok := c.Get("a") // a is now more recent than b
	assert.True(t, ok)

	c.Put("c", []complex128{3})
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	c.Put("a", []complex128{4}) // overwrite keeps size
	got, _ := c.Get("a")
	assert.Equal(t, []complex128{4}, got)
	assert.Equal(t, 2, c.Size())

	assert.Equal(t, 1, NewMapCache(0).Capacity())
}
