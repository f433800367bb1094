// Package metadata provides the row-key and column-name helpers for the
// system METADATA table (table_id 0), grounded on Master.cc's
// metadata_key_str construction and Hypertable/RangeServer/MetadataRoot.cc's
// StartRow/Location column usage (spec §3, §4.2, §4.3).
package metadata

import (
	"strconv"
	"strings"
)

// TableID is the fixed table identifier of the METADATA system table.
const TableID int64 = 0

// EndRowMarker is the sentinel end-row value terminating the last range of
// any table; second-level metadata rows for a table's final range use it.
const EndRowMarker = "\xff\xff"

// EndRootRow is the end-row boundary between the root metadata range and
// the second-level metadata ranges (spec §3: "Root range (..END_ROOT_ROW)
// ... second-level ranges (END_ROOT_ROW..END_ROW_MARKER)").
const EndRootRow = "0:0000"

// Columns used by the locator (spec §3).
const (
	ColumnStartRow = "StartRow"
	ColumnLocation = "Location"
)

// DeadServerSentinel marks a location known to be unreachable; drop_table
// treats it like an empty location (spec §4.2 step 3 of drop_table:
// "collect distinct non-empty locations (excluding the sentinel '!')").
const DeadServerSentinel = "!"

// RowKey renders the METADATA row key "<table_id>:<end_row>" (spec §3).
func RowKey(tableID int64, endRow string) string {
	return strconv.FormatInt(tableID, 10) + ":" + endRow
}

// ParseRowKey splits a METADATA row key back into its table id and end
// row, the inverse of RowKey (used by the range locator's Find to read
// back the row key a second-level scan returned).
func ParseRowKey(key string) (tableID int64, endRow string, ok bool) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(key[:idx], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, key[idx+1:], true
}

// RowKeyRangeForTable returns the inclusive METADATA row-key bounds that
// cover every range of tableID, matching drop_table's scan bounds
// (spec §4.2 step 3: rows ["<id>:", "<id>:<END_ROW_MARKER>"]).
func RowKeyRangeForTable(tableID int64) (start, end string) {
	return RowKey(tableID, ""), RowKey(tableID, EndRowMarker)
}

// Cell is one scanned METADATA cell: a row key, a column name, and its
// value.
type Cell struct {
	Row    string
	Column string
	Value  string
}
