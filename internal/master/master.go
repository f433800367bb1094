// Package master implements the master process's bootstrap sequence,
// range-server admission, and table operations (spec §4.2). The master
// is itself a namespace-service client: it holds a Namespace session the
// same way any other client does, but additionally owns the exclusive
// lock on /hypertable/master that elects a single active master, and
// drives range servers over internal/rangerpc.
package master

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opencensus.io/trace"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/metadata"
	"github.com/kuerant/hypertable/internal/metrics"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/rangerpc"
	"github.com/kuerant/hypertable/internal/schema"
	"github.com/kuerant/hypertable/util/log"
)

const (
	dirHypertable = "/hypertable"
	dirServers    = "/hypertable/servers"
	dirTables     = "/hypertable/tables"
	fileMaster    = "/hypertable/master"
	fileRoot      = "/hypertable/root"

	attrLastTableID = "last_table_id"
	attrAddress     = "address"
	attrTableID     = "table_id"
	attrSchema      = "schema"

	metadataTableName = "METADATA"

	// endRootRow bounds the root metadata range; everything up to and
	// including it describes second-level ranges (spec §3, §4.2).
	endRootRow = "0:0000"
)

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// Config carries the knobs the bootstrap sequence and table operations
// need; field names mirror internal/config.MasterConfig.
type Config struct {
	Address           string
	MaxRangeBytes     int64
	StartupTimeout    time.Duration
	DFSConnectTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// RangeServerState mirrors spec §3: {location_id, address,
// namespace_handle_on_server_file}.
type RangeServerState struct {
	LocationID string
	Address    string
	Handle     int64
}

// Master owns cluster-wide naming in the namespace service, admits range
// servers, and bootstraps/serves the METADATA table (spec §2, §4.2).
type Master struct {
	cfg Config
	ns  Namespace
	rpc *rangerpc.Client

	masterHandle int64

	mu          sync.Mutex
	serverMap   map[string]*RangeServerState
	nextServer  []string // round-robin order over serverMap keys
	rrIndex     int
	lastTableID int32
	initialized bool
}

// New constructs a Master bound to ns and rpc; neither bootstrap nor
// admission has run yet.
func New(cfg Config, ns Namespace, rpc *rangerpc.Client) *Master {
	return &Master{
		cfg:       cfg,
		ns:        ns,
		rpc:       rpc,
		serverMap: make(map[string]*RangeServerState),
	}
}

// Bootstrap runs the master startup sequence (spec §4.2). It does not
// connect to a filesystem broker and starts no garbage-collection workers;
// those startup steps are not part of this function. Any failure
// here is fatal per spec §7 ("any failure during the one-shot startup is
// fatal"): callers are expected to log.Fatal on a non-nil return.
func (m *Master) Bootstrap() error {
	_, span := trace.StartSpan(context.Background(), "master.Bootstrap")
	defer span.End()

	epoch := uuid.New().String()
	log.Info("master bootstrap %v starting", epoch)

	if !m.ns.WaitForConnection(int(m.cfg.StartupTimeout / time.Second)) {
		return nserrors.New(nserrors.COMM_REQUEST_TIMEOUT, "namespace session did not become safe within startup timeout")
	}

	if err := m.ensureDirectoryStructure(); err != nil {
		return err
	}

	if err := m.acquireMasterLock(); err != nil {
		return err
	}

	if err := m.publishAddress(); err != nil {
		return err
	}

	if err := m.readOrInitLastTableID(); err != nil {
		return err
	}

	if err := m.scanServersDirectory(); err != nil {
		return err
	}

	log.Info("master bootstrap %v complete", epoch)
	return nil
}

// ensureDirectoryStructure implements spec §4.2 step 2.
func (m *Master) ensureDirectoryStructure() error {
	for _, dir := range []string{dirHypertable, dirServers, dirTables} {
		if err := ensureDir(m.ns, dir); err != nil {
			return err
		}
	}
	for _, file := range []string{fileMaster, fileRoot} {
		created, err := ensureFile(m.ns, file)
		if err != nil {
			return err
		}
		if file == fileMaster && created {
			if err := m.initLastTableIDAttr(); err != nil {
				return err
			}
		}
	}
	return nil
}

// initLastTableIDAttr writes last_table_id=0 on a freshly created
// /hypertable/master, opening its own handle since the master's own
// exclusive-lock handle (spec §4.2 step 3) is not acquired until after
// this directory-structure step runs (spec §4.2 step 2 precedes step 3).
func (m *Master) initLastTableIDAttr() error {
	handle, err := m.ns.Open(fileMaster, namespace.OpenFlagWrite)
	if err != nil {
		return err
	}
	defer m.ns.Close(handle)
	buf := make([]byte, 4)
	return m.ns.AttrSet(handle, attrLastTableID, buf)
}

func ensureDir(ns Namespace, path string) error {
	exists, err := ns.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := ns.Mkdir(path); err != nil && !nserrors.HasCode(err, nserrors.NAMESPACE_FILE_EXISTS) {
		return err
	}
	return nil
}

// ensureFile returns whether it created the file (false if it already
// existed), matching spec §4.2 step 2's "on first creation" branch.
func ensureFile(ns Namespace, path string) (bool, error) {
	exists, err := ns.Exists(path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	handle, err := ns.Create(path, namespace.OpenFlagWrite)
	if err != nil {
		if nserrors.HasCode(err, nserrors.NAMESPACE_FILE_EXISTS) {
			return false, nil
		}
		return false, err
	}
	ns.Close(handle)
	return true, nil
}

// acquireMasterLock implements spec §4.2 step 3: abort if not granted.
func (m *Master) acquireMasterLock() error {
	handle, err := m.ns.Open(fileMaster, namespace.OpenFlagRead|namespace.OpenFlagWrite|namespace.OpenFlagLock)
	if err != nil {
		return err
	}
	status, _, err := m.ns.TryLock(handle, namespace.LockExclusive)
	if err != nil {
		return err
	}
	if status != namespace.LockGranted {
		return nserrors.New(nserrors.NAMESPACE_LOCK_CONFLICT, "another master is active")
	}
	m.masterHandle = handle
	return nil
}

// publishAddress implements spec §4.2 step 4.
func (m *Master) publishAddress() error {
	return m.ns.AttrSet(m.masterHandle, attrAddress, []byte(m.cfg.Address))
}

// readOrInitLastTableID implements spec §4.2 step 5.
func (m *Master) readOrInitLastTableID() error {
	value, err := m.ns.AttrGet(m.masterHandle, attrLastTableID)
	if err != nil {
		if nserrors.HasCode(err, nserrors.NAMESPACE_ATTR_NOT_FOUND) {
			return m.writeLastTableIDAttr(0)
		}
		return err
	}
	if len(value) != 4 {
		return nserrors.Newf(nserrors.INVALID_METADATA, "last_table_id attribute has %d bytes, want 4", len(value))
	}
	m.mu.Lock()
	m.lastTableID = int32(binary.LittleEndian.Uint32(value))
	m.mu.Unlock()
	return nil
}

func (m *Master) writeLastTableIDAttr(v int32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	if err := m.ns.AttrSet(m.masterHandle, attrLastTableID, buf); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastTableID = v
	m.mu.Unlock()
	metrics.MasterLastTableID.Set(float64(v))
	return nil
}

// nextTableID atomically increments and persists last_table_id before any
// further state change (spec §4.2 create_table step 3), adapting the
// double-checked base/end allocator idiom from the teacher's id
// generator to a per-call persist rather than a step-batched range,
// since the spec requires durability on every allocation.
func (m *Master) nextTableID() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.lastTableID + 1
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(next))
	if err := m.ns.AttrSet(m.masterHandle, attrLastTableID, buf); err != nil {
		return 0, err
	}
	m.lastTableID = next
	metrics.MasterLastTableID.Set(float64(next))
	return next, nil
}

// scanServersDirectory implements spec §4.2 step 7, admitting every
// existing entry under /hypertable/servers.
func (m *Master) scanServersDirectory() error {
	handle, err := m.ns.Open(dirServers, namespace.OpenFlagRead)
	if err != nil {
		return err
	}
	defer m.ns.Close(handle)

	entries, err := m.ns.Readdir(handle)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if err := m.AdmitServer(e.Name); err != nil {
			log.Error("master: failed to admit server %v during startup scan: %v", e.Name, err)
		}
	}
	return nil
}

// AdmitServer implements spec §4.2 "Server admission" steps 1-4 for one
// location_id.
func (m *Master) AdmitServer(locationID string) error {
	path := dirServers + "/" + locationID
	handle, err := m.ns.Open(path, namespace.OpenFlagRead|namespace.OpenFlagWrite|namespace.OpenFlagLock)
	if err != nil {
		return err
	}

	status, _, err := m.ns.TryLock(handle, namespace.LockExclusive)
	if err != nil {
		m.ns.Close(handle)
		return err
	}
	if status == namespace.LockGranted {
		// The only writer of that file was the range server itself,
		// holding it while alive; acquiring the lock proves its session
		// has expired (spec §4.2 step 2).
		m.ns.Close(handle)
		return m.ns.Unlink(path)
	}

	addr := locationToAddress(locationID)
	m.mu.Lock()
	m.serverMap[locationID] = &RangeServerState{LocationID: locationID, Address: addr, Handle: handle}
	m.rebuildRoundRobinLocked()
	m.mu.Unlock()

	if !m.bootstrapped() {
		return m.bootstrapMetadata(locationID, addr)
	}
	return nil
}

// ServerLeft removes locationID from the server map and rebuilds the
// round-robin order. It does not reopen or try_lock the server's file
// before removing it: the removal is unconditional.
func (m *Master) ServerLeft(locationID string) {
	m.mu.Lock()
	delete(m.serverMap, locationID)
	m.rebuildRoundRobinLocked()
	m.mu.Unlock()
}

// rebuildRoundRobinLocked must be called with m.mu held, after the server
// map has changed. It rebuilds the round-robin key list from the map (in
// map iteration order) and wraps rrIndex into the new list's range, so the
// index-based pickServerLocked never points past the end after an erasure.
func (m *Master) rebuildRoundRobinLocked() {
	keys := make([]string, 0, len(m.serverMap))
	for k := range m.serverMap {
		keys = append(keys, k)
	}
	m.nextServer = keys
	if len(keys) == 0 {
		m.rrIndex = 0
	} else {
		m.rrIndex = m.rrIndex % len(keys)
	}
	metrics.MasterServerMapSize.Set(float64(len(m.serverMap)))
}

// pickServerLocked returns the next round-robin server's location_id and
// dialable address, or fails MASTER_NO_RANGESERVERS when the map is empty.
// Callers use the address to issue RPCs and the location_id to record
// Location on METADATA rows (spec §3: "Location (value = range-server
// location_id)").
func (m *Master) pickServerLocked() (locationID, address string, err error) {
	if len(m.nextServer) == 0 {
		return "", "", nserrors.New(nserrors.MASTER_NO_RANGESERVERS, "no range servers registered")
	}
	locationID = m.nextServer[m.rrIndex]
	address = m.serverMap[locationID].Address
	m.rrIndex = (m.rrIndex + 1) % len(m.nextServer)
	return locationID, address, nil
}

func (m *Master) bootstrapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// bootstrapMetadata implements spec §4.2 "Metadata bootstrap" steps 1-5,
// run on the first successful admission. addr is used to issue the
// load_range RPCs; locationID is what gets recorded as Location, since
// that column holds a range-server location_id, not a dialable address
// (spec §3).
func (m *Master) bootstrapMetadata(locationID, addr string) error {
	metadataSchema := &schema.Schema{ColumnFamilies: []schema.ColumnFamily{
		{Name: metadata.ColumnStartRow, AccessGroup: "default"},
		{Name: metadata.ColumnLocation, AccessGroup: "default"},
	}}

	if _, err := m.createTableLocked(metadataTableName, metadataSchema); err != nil &&
		!nserrors.HasCode(err, nserrors.MASTER_TABLE_EXISTS) {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.rpc.LoadRange(ctx, addr, metadata.TableID, metadataTableName,
		rangerpc.RangeSpec{TableID: metadata.TableID, EndRow: endRootRow}, "", m.cfg.MaxRangeBytes, 0); err != nil {
		return err
	}

	// /hypertable/root is the locator's anchor (spec §4.2 step 2, §6): its
	// Location attribute must name the server the root range was just
	// loaded onto.
	rootHandle, err := m.ns.Open(fileRoot, namespace.OpenFlagWrite)
	if err != nil {
		return err
	}
	defer m.ns.Close(rootHandle)
	if err := m.ns.AttrSet(rootHandle, metadata.ColumnLocation, []byte(locationID)); err != nil {
		return err
	}

	if err := m.insertMetadataRow(metadata.RowKey(metadata.TableID, metadata.EndRowMarker),
		map[string]string{metadata.ColumnStartRow: endRootRow, metadata.ColumnLocation: locationID}); err != nil {
		return err
	}

	if err := m.rpc.LoadRange(ctx, addr, metadata.TableID, metadataTableName,
		rangerpc.RangeSpec{TableID: metadata.TableID, StartRow: endRootRow, EndRow: metadata.EndRowMarker},
		"", m.cfg.MaxRangeBytes, 0); err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// insertMetadataRow is a placeholder write path for METADATA rows: in the
// full system this goes through the range server write RPC (out of
// scope, spec §1 excludes the storage engine); here it is modeled as a
// namespace attribute on the table's own directory so the rest of the
// bootstrap/create/drop sequence has somewhere durable to record it
// without depending on an in-scope range-server write RPC that spec §6.4
// never names.
func (m *Master) insertMetadataRow(row string, cols map[string]string) error {
	handle, err := m.ns.Open(dirTables+"/"+metadataTableName, namespace.OpenFlagWrite)
	if err != nil {
		return err
	}
	defer m.ns.Close(handle)
	for col, val := range cols {
		if err := m.ns.AttrSet(handle, fmt.Sprintf("row:%s:%s", row, col), []byte(val)); err != nil {
			return err
		}
	}
	return nil
}

// locationToAddress converts a location_id to a comm address via a pure
// string parse (spec §4.2 step 4: format "<ip>_<port>").
func locationToAddress(locationID string) string {
	for i := len(locationID) - 1; i >= 0; i-- {
		if locationID[i] == '_' {
			return locationID[:i] + ":" + locationID[i+1:]
		}
	}
	return locationID
}
