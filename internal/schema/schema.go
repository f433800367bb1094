// Package schema provides the minimal structural representation
// create_table needs: an access-group list, column-family id assignment,
// and canonical rendering (spec §4.2, supplemented per SPEC_FULL.md §3).
// Full HQL-level schema parsing/evolution is out of scope (spec §1).
package schema

import (
	"fmt"
	"sort"
	"strings"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

// ColumnFamily is one column family of a table, grouped into an access
// group for storage-layer locality (out of scope here beyond naming).
type ColumnFamily struct {
	Name         string
	AccessGroup  string
	ID           int32 // assigned by AssignIDs
}

// Schema is a table's column-family layout plus a generation counter that
// increments on every successful AssignIDs call (mirroring
// Schema::assign_ids/generation in Master.cc's create_table).
type Schema struct {
	ColumnFamilies []ColumnFamily
	Generation     int32
}

// Validate fails MASTER_BAD_SCHEMA on structurally invalid input: no
// column families, a blank name, or a duplicate name.
func (s *Schema) Validate() error {
	if len(s.ColumnFamilies) == 0 {
		return nserrors.New(nserrors.MASTER_BAD_SCHEMA, "schema has no column families")
	}
	seen := make(map[string]bool, len(s.ColumnFamilies))
	for _, cf := range s.ColumnFamilies {
		if cf.Name == "" {
			return nserrors.New(nserrors.MASTER_BAD_SCHEMA, "column family has empty name")
		}
		if seen[cf.Name] {
			return nserrors.Newf(nserrors.MASTER_BAD_SCHEMA, "duplicate column family %q", cf.Name)
		}
		seen[cf.Name] = true
		if cf.AccessGroup == "" {
			return nserrors.Newf(nserrors.MASTER_BAD_SCHEMA, "column family %q has no access group", cf.Name)
		}
	}
	return nil
}

// AssignIDs assigns a stable 1-based id to every column family in name
// order and bumps Generation, matching Master.cc's
// "schema->assign_ids(); ... schema->render(finalschema)" sequence.
func (s *Schema) AssignIDs() {
	names := make([]string, len(s.ColumnFamilies))
	for i, cf := range s.ColumnFamilies {
		names[i] = cf.Name
	}
	sort.Strings(names)
	order := make(map[string]int32, len(names))
	for i, n := range names {
		order[n] = int32(i + 1)
	}
	for i := range s.ColumnFamilies {
		s.ColumnFamilies[i].ID = order[s.ColumnFamilies[i].Name]
	}
	s.Generation++
}

// AccessGroups returns the distinct access-group names referenced by the
// schema, in sorted order (spec §4.2 step 5: "create .../<ag> for each
// access group").
func (s *Schema) AccessGroups() []string {
	seen := make(map[string]bool)
	for _, cf := range s.ColumnFamilies {
		seen[cf.AccessGroup] = true
	}
	ags := make([]string, 0, len(seen))
	for ag := range seen {
		ags = append(ags, ag)
	}
	sort.Strings(ags)
	return ags
}

// Render produces the canonical schema text used to satisfy R3
// ("create_table(n, s) followed by get_schema(n) returns the
// canonical-rendered form of s with assigned ids").
func (s *Schema) Render() string {
	cfs := append([]ColumnFamily(nil), s.ColumnFamilies...)
	sort.Slice(cfs, func(i, j int) bool { return cfs[i].Name < cfs[j].Name })

	var b strings.Builder
	fmt.Fprintf(&b, "generation=%d\n", s.Generation)
	for _, cf := range cfs {
		fmt.Fprintf(&b, "column id=%d name=%s access-group=%s\n", cf.ID, cf.Name, cf.AccessGroup)
	}
	return b.String()
}
