package location

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/metadata"
)

type fakeNamespace struct {
	rootLocation string
	openCalls    int
}

func (f *fakeNamespace) Open(path string, flags int32) (int64, error) {
	f.openCalls++
	return 1, nil
}

func (f *fakeNamespace) AttrGet(handle int64, attr string) ([]byte, error) {
	if attr == metadata.ColumnLocation {
		return []byte(f.rootLocation), nil
	}
	return nil, nserrors.New(nserrors.NAMESPACE_ATTR_NOT_FOUND, attr)
}

func (f *fakeNamespace) Close(handle int64) error { return nil }

// fakeScanner models a two-level METADATA hierarchy: the root range (served
// at rootAddr) maps table boundaries to second-level range servers, and
// each second-level range server serves rows for exactly the tables routed
// to it.
type fakeScanner struct {
	rootAddr string
	// rootRows maps a formatted table boundary to the second-level server
	// address responsible for it.
	rootRows map[string]string
	// rows maps a metadata.RowKey to its StartRow/Location columns, served
	// by any second-level server named in rootRows; the Location cell names
	// the range server that holds the user range.
	rows map[string]map[string]string

	calls []string
}

func (f *fakeScanner) ScanRow(ctx context.Context, addr string, tableID int64, fromRowKey string) (string, map[string]string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%d/%s", addr, tableID, fromRowKey))

	if addr == f.rootAddr {
		for boundary, loc := range f.rootRows {
			key := metadata.RowKey(metadata.TableID, boundary)
			if key >= fromRowKey {
				return key, map[string]string{metadata.ColumnLocation: loc}, nil
			}
		}
		return "", nil, nserrors.New(nserrors.RANGESERVER_RANGE_NOT_FOUND, "no root row")
	}

	secondLevel := false
	for _, loc := range f.rootRows {
		if loc == addr {
			secondLevel = true
		}
	}
	if !secondLevel {
		return "", nil, nserrors.New(nserrors.RANGESERVER_RANGE_NOT_FOUND, "no matching row")
	}

	for key, cols := range f.rows {
		if key >= fromRowKey {
			return key, cols, nil
		}
	}
	return "", nil, nserrors.New(nserrors.RANGESERVER_RANGE_NOT_FOUND, "no matching row")
}

func newTestLocator(t *testing.T) (*RangeLocator, *fakeNamespace, *fakeScanner) {
	ns := &fakeNamespace{rootLocation: "root-server:38060"}
	scanner := &fakeScanner{
		rootAddr: "root-server:38060",
		rootRows: map[string]string{
			formatTableBoundary(5): "meta2-server:38060",
		},
		rows: map[string]map[string]string{
			metadata.RowKey(5, "m"): {
				metadata.ColumnStartRow: "a",
				metadata.ColumnLocation: "target-server:38060",
			},
		},
	}
	loc, err := NewRangeLocator(ns, scanner, 16)
	require.NoError(t, err)
	require.Equal(t, 1, ns.openCalls)
	return loc, ns, scanner
}

func TestFindResolvesTwoLevelMetadata(t *testing.T) {
	loc, _, _ := newTestLocator(t)

	info, err := loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)
	require.Equal(t, "a", info.StartRow)
	require.Equal(t, "m", info.EndRow)
	require.Equal(t, "target-server:38060", info.Address)
}

func TestFindPopulatesCacheOnSecondLookup(t *testing.T) {
	loc, _, scanner := newTestLocator(t)

	_, err := loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)
	callsAfterFirst := len(scanner.calls)

	_, err = loc.Find(context.Background(), 5, "c", false)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, len(scanner.calls), "second lookup should be served from cache")
}

func TestFindHardBypassesCache(t *testing.T) {
	loc, _, scanner := newTestLocator(t)

	_, err := loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)
	callsAfterFirst := len(scanner.calls)

	_, err = loc.Find(context.Background(), 5, "b", true)
	require.NoError(t, err)
	require.Greater(t, len(scanner.calls), callsAfterFirst, "hard find must re-scan")
}

func TestInvalidateForcesRescan(t *testing.T) {
	loc, _, scanner := newTestLocator(t)

	_, err := loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)
	callsAfterFirst := len(scanner.calls)

	require.True(t, loc.Invalidate(5, "b"))

	_, err = loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)
	require.Greater(t, len(scanner.calls), callsAfterFirst)
}

func TestFindRecordsErrorHistoryOnScanFailure(t *testing.T) {
	loc, _, _ := newTestLocator(t)

	_, err := loc.Find(context.Background(), 99, "b", false)
	require.Error(t, err)

	history := loc.DumpErrorHistory()
	require.Len(t, history, 1)
	require.True(t, nserrors.HasCode(history[0], nserrors.RANGESERVER_RANGE_NOT_FOUND))

	loc.ClearErrorHistory()
	require.Empty(t, loc.DumpErrorHistory())
}

func TestErrorHistoryIsBounded(t *testing.T) {
	loc, _, _ := newTestLocator(t)

	for i := 0; i < MaxErrorQueueLength+10; i++ {
		_, _ = loc.Find(context.Background(), 99, "b", false)
	}
	require.Len(t, loc.DumpErrorHistory(), MaxErrorQueueLength)
}

func TestSetRootStaleTriggersRootRefresh(t *testing.T) {
	loc, ns, scanner := newTestLocator(t)

	_, err := loc.Find(context.Background(), 5, "b", false)
	require.NoError(t, err)

	ns.rootLocation = "root-server-2:38060"
	scanner.rootAddr = "root-server-2:38060"
	loc.SetRootStale()

	_, err = loc.Find(context.Background(), 5, "c", true)
	require.NoError(t, err)
	require.Equal(t, "root-server-2:38060", loc.rootAddress())
}

func TestFindLoopRecoversAfterRootMoves(t *testing.T) {
	loc, ns, scanner := newTestLocator(t)

	// root-server:38060 stops answering; root has actually moved.
	scanner.rootAddr = "root-server-2:38060"
	ns.rootLocation = "root-server-2:38060"

	info, err := loc.FindLoop(context.Background(), 5, "b", true, time.Second)
	require.NoError(t, err)
	require.Equal(t, "target-server:38060", info.Address)
}

func TestFindLoopReraisesLastErrorOnDeadline(t *testing.T) {
	loc, _, _ := newTestLocator(t)

	_, err := loc.FindLoop(context.Background(), 99, "b", true, 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.RANGESERVER_RANGE_NOT_FOUND))
}
