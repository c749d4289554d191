// cache.go
package main

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/jnesss/diagview/types"
)

// cellEntry is what the tracker remembers about a cell it already reported
type cellEntry struct {
	ID        int
	FirstSeen time.Time
	Seen      int
}

// cellKey identifies a cell independent of the ARFCN it was heard on
func cellKey(rat types.RAT, mcc, mnc, lac, cid int) string {
	return fmt.Sprintf("%d/%d-%d-%d-%d", rat, mcc, mnc, lac, cid)
}

// CellCache wraps Ristretto cache for observed cells
type CellCache struct {
	cache   *ristretto.Cache
	maxSize int64
}

// NewCellCache creates a new Ristretto-backed cell cache holding at most maxSize cells
func NewCellCache(maxSize int64) (*CellCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cell cache size must be positive, got %d", maxSize)
	}

	cfg := &ristretto.Config{
		NumCounters: maxSize * 10,
		MaxCost:     maxSize,
		BufferItems: 64,
		Metrics:     true,
		Cost: func(value interface{}) int64 {
			return 1
		},
		IgnoreInternalCost: true,
	}

	cache, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}

	return &CellCache{
		cache:   cache,
		maxSize: maxSize,
	}, nil
}

// Get retrieves a cell from the cache
func (cc *CellCache) Get(key string) (*cellEntry, bool) {
	value, found := cc.cache.Get(key)
	if !found {
		return nil, false
	}
	return value.(*cellEntry), true
}

// Set adds or updates a cell. Ristretto applies sets asynchronously; call Wait before relying on Get.
func (cc *CellCache) Set(key string, entry *cellEntry) bool {
	return cc.cache.Set(key, entry, 1)
}

func (cc *CellCache) Delete(key string) {
	cc.cache.Del(key)
}

func (cc *CellCache) Clear() {
	cc.cache.Clear()
}

func (cc *CellCache) MaxSize() int64 {
	return cc.maxSize
}

// GetSize returns current number of cells in cache
func (cc *CellCache) GetSize() uint64 {
	if cc.cache == nil {
		return 0
	}
	metrics := cc.cache.Metrics
	if metrics == nil {
		return 0
	}
	return metrics.KeysAdded() - metrics.KeysEvicted()
}

func (cc *CellCache) GetMetrics() *ristretto.Metrics {
	return cc.cache.Metrics
}

// Wait ensures all pending operations are complete
func (cc *CellCache) Wait() {
	cc.cache.Wait()
}

func (cc *CellCache) Close() {
	cc.cache.Close()
}
