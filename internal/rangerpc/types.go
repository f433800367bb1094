// Package rangerpc is the Range-server RPC collaborator the master drives
// for load_range, drop_table, and shutdown (spec §6.4). It is a real
// google.golang.org/grpc client/server pair, but carries hand-written
// request/response structs through a JSON encoding.Codec instead of
// generated protobuf stubs.
package rangerpc

// RangeSpec identifies a range by its table and its (start_row, end_row]
// interval (spec §3 GLOSSARY).
type RangeSpec struct {
	TableID  int64  `json:"table_id"`
	StartRow string `json:"start_row"`
	EndRow   string `json:"end_row"`
}

// RangeState carries the soft storage limit assigned to a newly loaded
// range (spec §4.2: "range_state{soft_limit=max_range_bytes}").
type RangeState struct {
	SoftLimit int64 `json:"soft_limit"`
}

// LoadRangeRequest is the wire shape for load_range(addr, table, range,
// transfer_log, range_state, timeout?) (spec §6.4).
type LoadRangeRequest struct {
	TableID     int64      `json:"table_id"`
	TableName   string     `json:"table_name"`
	Range       RangeSpec  `json:"range"`
	TransferLog string     `json:"transfer_log,omitempty"`
	RangeState  RangeState `json:"range_state"`
}

type LoadRangeResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// DropTableRequest is the wire shape for drop_table(addr, table).
type DropTableRequest struct {
	TableID int64 `json:"table_id"`
}

type DropTableResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// ShutdownRequest is the wire shape for shutdown(addr).
type ShutdownRequest struct{}

type ShutdownResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}
