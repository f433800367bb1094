package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

func TestValidateRejectsEmpty(t *testing.T) {
	s := &Schema{}
	err := s.Validate()
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.MASTER_BAD_SCHEMA))
}

func TestValidateRejectsDuplicate(t *testing.T) {
	s := &Schema{ColumnFamilies: []ColumnFamily{
		{Name: "a", AccessGroup: "default"},
		{Name: "a", AccessGroup: "default"},
	}}
	require.Error(t, s.Validate())
}

func TestAssignIDsIsStableByName(t *testing.T) {
	s := &Schema{ColumnFamilies: []ColumnFamily{
		{Name: "z", AccessGroup: "default"},
		{Name: "a", AccessGroup: "default"},
	}}
	require.NoError(t, s.Validate())
	s.AssignIDs()

	byName := map[string]int32{}
	for _, cf := range s.ColumnFamilies {
		byName[cf.Name] = cf.ID
	}
	require.EqualValues(t, 1, byName["a"])
	require.EqualValues(t, 2, byName["z"])
	require.EqualValues(t, 1, s.Generation)
}

func TestAccessGroupsDeduped(t *testing.T) {
	s := &Schema{ColumnFamilies: []ColumnFamily{
		{Name: "a", AccessGroup: "g1"},
		{Name: "b", AccessGroup: "g1"},
		{Name: "c", AccessGroup: "g2"},
	}}
	require.Equal(t, []string{"g1", "g2"}, s.AccessGroups())
}

func TestRenderRoundTripR3(t *testing.T) {
	s := &Schema{ColumnFamilies: []ColumnFamily{{Name: "a", AccessGroup: "default"}}}
	s.AssignIDs()
	rendered := s.Render()
	require.Contains(t, rendered, "generation=1")
	require.Contains(t, rendered, "name=a")
}
