package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/metadata"
	"github.com/kuerant/hypertable/internal/metrics"
	"github.com/kuerant/hypertable/util"
)

// MaxErrorQueueLength bounds the locator's postmortem error ring
// (spec §8 I7, §4.3 step 5).
const MaxErrorQueueLength = 32

// NamespaceClient is the subset of namespace.Session the locator depends
// on: opening /hypertable/root and reading its Location attribute. A
// narrow local interface, not namespace.Session itself, keeps this
// package free to be exercised with a fake in tests and avoids the
// locator depending on namespace's full lock/keepalive surface.
type NamespaceClient interface {
	Open(path string, flags int32) (int64, error)
	AttrGet(handle int64, attr string) ([]byte, error)
	Close(handle int64) error
}

// MetadataScanner is the out-of-scope range-server read path the locator
// drives: a scan against a METADATA range returning the first row at or
// after fromRowKey and its column values (spec §4.3 steps 3-4). Scanning
// and the storage engine behind it are named out of scope (spec §1); this
// interface is the collaborator boundary.
type MetadataScanner interface {
	ScanRow(ctx context.Context, addr string, tableID int64, fromRowKey string) (row string, columns map[string]string, err error)
}

// RangeLocator is the client-side two-level metadata resolver
// (spec §4.3).
type RangeLocator struct {
	ns      NamespaceClient
	scanner MetadataScanner
	cache   *LocationCache

	rootHandle int64

	mu        sync.Mutex
	rootAddr  string
	rootStale bool
	errors    []*nserrors.Exception
}

// NewRangeLocator opens /hypertable/root, reads its Location attribute,
// and constructs a RangeLocator anchored on that address (spec §4.3
// Construction). Callers are expected to also arrange a watch on
// /hypertable/root (via the namespace session's event mask) that calls
// SetRootStale on change; watch wiring itself lives with the session's
// keepalive channel, outside this package's narrow NamespaceClient view.
func NewRangeLocator(ns NamespaceClient, scanner MetadataScanner, cacheCapacity int) (*RangeLocator, error) {
	const openFlagRead = 1
	handle, err := ns.Open("/hypertable/root", openFlagRead)
	if err != nil {
		return nil, err
	}

	addr, err := ns.AttrGet(handle, metadata.ColumnLocation)
	if err != nil {
		return nil, err
	}

	return &RangeLocator{
		ns:         ns,
		scanner:    scanner,
		cache:      NewLocationCache(cacheCapacity),
		rootHandle: handle,
		rootAddr:   decodeLocation(string(addr)),
	}, nil
}

// decodeLocation converts a location_id to a dialable comm address via the
// same pure string parse internal/master uses when admitting range servers
// (spec §4.2 step 4; §4.3's construction step reads the Location attribute
// and "decodes it to an address"): format "<ip>_<port>". Location_ids that
// carry no underscore (test fixtures, or any id that is already an address)
// pass through unchanged.
func decodeLocation(locationID string) string {
	for i := len(locationID) - 1; i >= 0; i-- {
		if locationID[i] == '_' {
			return locationID[:i] + ":" + locationID[i+1:]
		}
	}
	return locationID
}

// SetRootStale flips the root-stale flag; the next Find call re-reads
// /hypertable/root lazily (spec §4.3 step 2, §9 design notes: the
// one-scan staleness window is an accepted, documented optimization).
func (l *RangeLocator) SetRootStale() {
	l.mu.Lock()
	l.rootStale = true
	l.mu.Unlock()
}

func (l *RangeLocator) refreshRootIfStale() error {
	l.mu.Lock()
	stale := l.rootStale
	l.mu.Unlock()
	if !stale {
		return nil
	}

	addr, err := l.ns.AttrGet(l.rootHandle, metadata.ColumnLocation)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.rootAddr = decodeLocation(string(addr))
	l.rootStale = false
	l.mu.Unlock()
	return nil
}

func (l *RangeLocator) rootAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rootAddr
}

// Find resolves tableID/rowKey to a RangeLocationInfo (spec §4.3 find).
// hard forces a cache bypass and fresh metadata scan.
func (l *RangeLocator) Find(ctx context.Context, tableID int64, rowKey string, hard bool) (RangeLocationInfo, error) {
	if !hard {
		if info, ok := l.cache.Lookup(tableID, rowKey); ok {
			return info, nil
		}
	}

	if err := l.refreshRootIfStale(); err != nil {
		l.recordError(err)
		return RangeLocationInfo{}, err
	}

	rootRow := metadata.RowKey(metadata.TableID, formatTableBoundary(tableID))
	_, rootCols, err := l.scanner.ScanRow(ctx, l.rootAddress(), metadata.TableID, rootRow)
	if err != nil {
		l.recordError(err)
		return RangeLocationInfo{}, err
	}
	secondLevelLocation, ok := rootCols[metadata.ColumnLocation]
	if !ok {
		err := nserrors.Newf(nserrors.INVALID_METADATA, "root scan for table %d row %q carries no Location cell", tableID, rowKey)
		l.recordError(err)
		return RangeLocationInfo{}, err
	}
	secondLevelAddr := decodeLocation(secondLevelLocation)

	targetRow := metadata.RowKey(tableID, rowKey)
	row, cols, err := l.scanner.ScanRow(ctx, secondLevelAddr, tableID, targetRow)
	if err != nil {
		l.recordError(err)
		return RangeLocationInfo{}, err
	}

	_, endRow, ok := metadata.ParseRowKey(row)
	if !ok {
		err := nserrors.Newf(nserrors.INVALID_METADATA, "malformed metadata row %q", row)
		l.recordError(err)
		return RangeLocationInfo{}, err
	}

	info := RangeLocationInfo{
		StartRow: cols[metadata.ColumnStartRow],
		EndRow:   endRow,
		Address:  decodeLocation(cols[metadata.ColumnLocation]),
	}
	l.cache.Insert(tableID, info)
	return info, nil
}

// FindLoop retries Find under a deadline, re-reading root on transient
// errors, and re-raises the last recorded error once the deadline expires
// (spec §4.3 find_loop). It is the retrying entry point callers outside
// this package use; Find itself makes exactly one attempt.
func (l *RangeLocator) FindLoop(ctx context.Context, tableID int64, rowKey string, hard bool, timeout time.Duration) (RangeLocationInfo, error) {
	var info RangeLocationInfo
	err := util.RetryDuration(timeout, func() error {
		var findErr error
		info, findErr = l.Find(ctx, tableID, rowKey, hard)
		if findErr != nil {
			l.SetRootStale()
		}
		return findErr
	})
	return info, err
}

// Invalidate removes tableID/rowKey's covering cache entry
// (spec §4.3 invalidate).
func (l *RangeLocator) Invalidate(tableID int64, rowKey string) bool {
	return l.cache.Invalidate(tableID, rowKey)
}

// DumpErrorHistory returns the bounded ring of recent find() failures for
// postmortem (spec §4.3 step 5, §7).
func (l *RangeLocator) DumpErrorHistory() []*nserrors.Exception {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*nserrors.Exception, len(l.errors))
	copy(out, l.errors)
	return out
}

// ClearErrorHistory empties the error ring.
func (l *RangeLocator) ClearErrorHistory() {
	l.mu.Lock()
	l.errors = nil
	l.mu.Unlock()
}

func (l *RangeLocator) recordError(err error) {
	e, ok := err.(*nserrors.Exception)
	if !ok {
		e = nserrors.New(nserrors.FAILED_EXPECTATION, err.Error())
	}
	l.mu.Lock()
	l.errors = append(l.errors, e)
	if len(l.errors) > MaxErrorQueueLength {
		l.errors = l.errors[len(l.errors)-MaxErrorQueueLength:]
	}
	l.mu.Unlock()
	metrics.LocatorFindErrors.Inc()
}

// formatTableBoundary zero-pads tableID so that lexicographic row-key
// comparison in the root range matches numeric table-id order: the root
// range only needs to know which second-level range owns tableID, keyed
// by the highest table id each second-level range covers (spec §4.3
// step 3: "0:" + encoded(table.id, row_key)").
func formatTableBoundary(tableID int64) string {
	return fmt.Sprintf("%020d", tableID)
}
