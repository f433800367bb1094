package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowKeyRoundTrip(t *testing.T) {
	key := RowKey(42, EndRowMarker)
	id, endRow, ok := ParseRowKey(key)
	require.True(t, ok)
	require.EqualValues(t, 42, id)
	require.Equal(t, EndRowMarker, endRow)
}

func TestMetadataBootstrapRowScenario7(t *testing.T) {
	row := RowKey(TableID, EndRowMarker)
	require.Equal(t, "0:"+EndRowMarker, row)
}

func TestRowKeyRangeForTable(t *testing.T) {
	start, end := RowKeyRangeForTable(7)
	require.Equal(t, "7:", start)
	require.Equal(t, "7:"+EndRowMarker, end)
}
