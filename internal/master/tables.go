package master

import (
	"context"
	"encoding/binary"
	"time"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/metadata"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/rangerpc"
	"github.com/kuerant/hypertable/internal/schema"
	"github.com/kuerant/hypertable/util/log"
)

func tablePath(name string) string { return dirTables + "/" + name }

// CreateTable implements spec §4.2 create_table(name, schema_str) steps
// 1-6.
func (m *Master) CreateTable(name string, s *schema.Schema) (int32, error) {
	return m.createTableLocked(name, s)
}

func (m *Master) createTableLocked(name string, s *schema.Schema) (int32, error) {
	exists, err := m.ns.Exists(tablePath(name))
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nserrors.New(nserrors.MASTER_TABLE_EXISTS, name)
	}

	if err := s.Validate(); err != nil {
		return 0, err
	}
	s.AssignIDs()

	var tableID int32
	if name == metadataTableName {
		tableID = int32(metadata.TableID) // fixed (spec §4.2 step 3)
	} else {
		id, err := m.nextTableID()
		if err != nil {
			return 0, err
		}
		tableID = id
	}

	handle, err := m.ns.Create(tablePath(name), namespace.OpenFlagWrite)
	if err != nil {
		return 0, err
	}
	defer m.ns.Close(handle)

	idBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(idBuf, uint32(tableID))
	if err := m.ns.AttrSet(handle, attrTableID, idBuf); err != nil {
		return 0, err
	}
	if err := m.ns.AttrSet(handle, attrSchema, []byte(s.Render())); err != nil {
		return 0, err
	}

	for _, ag := range s.AccessGroups() {
		if err := ensureDir(m.ns, tablePath(name)+"/"+ag); err != nil {
			return 0, err
		}
	}

	if name != metadataTableName {
		locationID, err := m.loadInitialRange(tableID, name)
		if err != nil {
			return 0, err
		}
		if err := m.insertMetadataRow(metadata.RowKey(int64(tableID), metadata.EndRowMarker),
			map[string]string{metadata.ColumnStartRow: "", metadata.ColumnLocation: locationID}); err != nil {
			return 0, err
		}
	}

	return tableID, nil
}

// loadInitialRange implements spec §4.2 create_table step 6: load_range
// the initial full range onto the next range server per round-robin,
// with soft limit max_range_bytes / min(64, 2*|servers|). Returns the
// location_id the range was loaded onto, so the caller can record it as
// the row's Location (spec §3: Location holds a location_id, not a
// dialable address).
func (m *Master) loadInitialRange(tableID int32, tableName string) (string, error) {
	m.mu.Lock()
	locationID, addr, err := m.pickServerLocked()
	serverCount := len(m.nextServer)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	divisor := 2 * serverCount
	if divisor > 64 {
		divisor = 64
	}
	if divisor == 0 {
		divisor = 1
	}
	softLimit := m.cfg.MaxRangeBytes / int64(divisor)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.rpc.LoadRange(ctx, addr, int64(tableID), tableName,
		rangerpc.RangeSpec{TableID: int64(tableID), EndRow: metadata.EndRowMarker}, "", softLimit, 0); err != nil {
		return "", err
	}
	return locationID, nil
}

// GetSchema returns the canonical rendered schema text stored on the
// table's namespace file (spec §8 round-trip law R3).
func (m *Master) GetSchema(name string) (string, error) {
	handle, err := m.ns.Open(tablePath(name), namespace.OpenFlagRead)
	if err != nil {
		return "", err
	}
	defer m.ns.Close(handle)
	value, err := m.ns.AttrGet(handle, attrSchema)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// DropTable implements spec §4.2 drop_table(name, if_exists) steps 1-5.
func (m *Master) DropTable(name string, ifExists bool) error {
	path := tablePath(name)
	exists, err := m.ns.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		if ifExists {
			return nil
		}
		return nserrors.New(nserrors.NAMESPACE_FILE_NOT_FOUND, path)
	}

	handle, err := m.ns.Open(path, namespace.OpenFlagRead)
	if err != nil {
		return err
	}
	idBuf, err := m.ns.AttrGet(handle, attrTableID)
	m.ns.Close(handle)
	if err != nil {
		return err
	}
	tableID := int64(int32(binary.LittleEndian.Uint32(idBuf)))

	locations, missing := m.metadataLocationsForTable(tableID)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	var firstErr error
	for _, loc := range missing {
		err := nserrors.New(nserrors.RANGESERVER_UNAVAILABLE, loc)
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, addr := range locations {
		if err := m.rpc.DropTable(ctx, addr, tableID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	return m.ns.Unlink(path)
}

// metadataLocationsForTable returns the non-empty Location of the table's
// "<id>:END_ROW_MARKER" metadata row, as the server's address when it is
// in the map (present) or as its location_id when it is missing. Only that
// one row is read: Location values of the table's other metadata rows are
// not collected, so at most one location is returned.
func (m *Master) metadataLocationsForTable(tableID int64) (present, missing []string) {
	location := m.lookupMetadataLocation(tableID)
	if location == "" || location == metadata.DeadServerSentinel {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.serverMap {
		if st.LocationID == location {
			return []string{st.Address}, nil
		}
	}
	return nil, []string{location}
}

// lookupMetadataLocation is a placeholder read path mirroring
// insertMetadataRow's placeholder write path: the real lookup scans
// METADATA via the range-server read RPC, out of scope per spec §1.
func (m *Master) lookupMetadataLocation(tableID int64) string {
	handle, err := m.ns.Open(dirTables+"/"+metadataTableName, namespace.OpenFlagRead)
	if err != nil {
		return ""
	}
	defer m.ns.Close(handle)
	row := metadata.RowKey(tableID, metadata.EndRowMarker)
	value, err := m.ns.AttrGet(handle, "row:"+row+":"+metadata.ColumnLocation)
	if err != nil {
		return ""
	}
	return string(value)
}

// ReportSplit implements spec §4.2 report_split(table, range,
// transfer_log, soft_limit): round-robin the server map, reply OK
// immediately, then issue load_range asynchronously.
func (m *Master) ReportSplit(tableID int64, tableName string, rng rangerpc.RangeSpec, transferLog string, softLimit int64) error {
	m.mu.Lock()
	_, addr, err := m.pickServerLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.rpc.LoadRange(ctx, addr, tableID, tableName, rng, transferLog, softLimit, 0); err != nil {
			log.Error("master: async load_range for table %d on %v failed: %v", tableID, addr, err)
		}
	}()
	return nil
}

// Shutdown implements spec §4.2 shutdown: broadcast to all servers, wait
// up to cfg.ShutdownTimeout for the server map to drain, then return.
func (m *Master) Shutdown() error {
	m.mu.Lock()
	addrs := make([]string, 0, len(m.serverMap))
	for _, st := range m.serverMap {
		addrs = append(addrs, st.Address)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()
	for _, addr := range addrs {
		_ = m.rpc.Shutdown(ctx, addr)
	}

	deadline := time.Now().Add(m.cfg.ShutdownTimeout)
	for {
		m.mu.Lock()
		drained := len(m.serverMap) == 0
		m.mu.Unlock()
		if drained || time.Now().After(deadline) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}
