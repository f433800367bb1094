// Package location implements the client-side range locator: an LRU cache
// from (table_id, row_key) to range-location records, and the two-level
// metadata resolver that populates it (spec §3, §4.3).
package location

import (
	"container/list"
	"sort"
	"sync"

	"github.com/kuerant/hypertable/internal/metrics"
)

// RangeLocationInfo is immutable once inserted into the cache; it is
// replaced atomically on invalidation-and-refresh (spec §3).
type RangeLocationInfo struct {
	StartRow string
	EndRow   string
	Address  string
}

// covers reports whether rowKey falls in (StartRow, EndRow] — ranges are
// identified by their exclusive start / inclusive end (spec GLOSSARY:
// "Range ... identified by [start_row, end_row]"; the metadata row key is
// keyed by end_row, so a range covers every key up to and including it).
func (r RangeLocationInfo) covers(rowKey string) bool {
	return rowKey > r.StartRow && rowKey <= r.EndRow
}

type cacheEntry struct {
	tableID int64
	info    RangeLocationInfo
	lruElem *list.Element
}

// LocationCache is an LRU map from (table_id, row_key_upper_bound) to a
// RangeLocationInfo, with non-overlapping [start_row, end_row] intervals
// per table (spec §3).
type LocationCache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List // front = most recently used
	byTable  map[int64][]*cacheEntry
}

func NewLocationCache(capacity int) *LocationCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocationCache{
		capacity: capacity,
		lru:      list.New(),
		byTable:  make(map[int64][]*cacheEntry),
	}
}

// Lookup returns the cached entry covering rowKey for tableID, if any.
func (c *LocationCache) Lookup(tableID int64, rowKey string) (RangeLocationInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byTable[tableID]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].info.EndRow >= rowKey })
	if idx == len(entries) || !entries[idx].info.covers(rowKey) {
		metrics.ObserveCacheMiss()
		return RangeLocationInfo{}, false
	}
	e := entries[idx]
	c.lru.MoveToFront(e.lruElem)
	metrics.ObserveCacheHit()
	return e.info, true
}

// Insert adds info to the cache for tableID, evicting the least-recently-
// used entry if the cache is at capacity. Callers are expected to have
// already invalidated any overlapping entry.
func (c *LocationCache) Insert(tableID int64, info RangeLocationInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &cacheEntry{tableID: tableID, info: info}
	e.lruElem = c.lru.PushFront(e)

	entries := c.byTable[tableID]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].info.EndRow >= info.EndRow })
	entries = append(entries, nil)
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = e
	c.byTable[tableID] = entries

	if c.lru.Len() > c.capacity {
		c.evictOldest()
	}
}

// Invalidate removes the entry covering rowKey for tableID, reporting
// whether one was removed (spec §4.3: invalidate).
func (c *LocationCache) Invalidate(tableID int64, rowKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byTable[tableID]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].info.EndRow >= rowKey })
	if idx == len(entries) || !entries[idx].info.covers(rowKey) {
		return false
	}
	c.removeAt(tableID, idx)
	return true
}

func (c *LocationCache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*cacheEntry)
	entries := c.byTable[e.tableID]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].info.EndRow >= e.info.EndRow })
	if idx < len(entries) && entries[idx] == e {
		c.removeAt(e.tableID, idx)
	}
}

// removeAt must be called with c.mu held; it removes entries[tableID][idx]
// from both the per-table slice and the LRU list.
func (c *LocationCache) removeAt(tableID int64, idx int) {
	entries := c.byTable[tableID]
	e := entries[idx]
	c.lru.Remove(e.lruElem)
	entries = append(entries[:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		delete(c.byTable, tableID)
	} else {
		c.byTable[tableID] = entries
	}
}

// Len returns the number of cached entries across all tables.
func (c *LocationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
