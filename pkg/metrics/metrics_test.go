package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_CountersIncrement(t *testing.T) {
	r := New()
	r.IncSearchQueries()
	r.IncSearchQueries()
	r.IncSearchCacheHits()
	r.IncIndexBuilds()
	r.IncIndexBuildErrors()

	snap := r.Snapshot()
	assert.Equal(t, uint64(2), snap.Counters.SearchQueriesTotal)
	assert.Equal(t, uint64(1), snap.Counters.SearchCacheHitsTotal)
	assert.Equal(t, uint64(1), snap.Counters.IndexBuildsTotal)
	assert.Equal(t, uint64(1), snap.Counters.IndexBuildErrorsTotal)
}

func TestRegistry_HistogramSnapshot(t *testing.T) {
	r := New()
	for _, v := range []float64{10, 20, 30, 40, 50} {
		r.ObserveSearchResponseTimeMs(v)
	}

	snap := r.Snapshot().SearchResponseTimeMs
	assert.Equal(t, uint64(5), snap.Count)
	assert.Equal(t, 10.0, snap.Min)
	assert.Equal(t, 50.0, snap.Max)
	assert.Equal(t, 150.0, snap.Sum)
}

func TestRegistry_EmptyHistogram(t *testing.T) {
	r := New()
	snap := r.Snapshot().IndexBuildTimeSeconds
	assert.Equal(t, uint64(0), snap.Count)
}

func TestRegistry_ConcurrentIncrements(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncSearchQueries()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), r.Snapshot().Counters.SearchQueriesTotal)
}
