package namespace

// Operation codes. The wire format (spec §6.1) leaves the opcode space
// unspecified ("not specified here; implementation follows the codec
// module") — these are this implementation's assignment, stable only
// within this repository's own wire protocol version.
const (
	OpOpen int32 = iota + 1
	OpCreate
	OpClose
	OpMkdir
	OpUnlink
	OpExists
	OpAttrSet
	OpAttrGet
	OpAttrDel
	OpReaddir
	OpLock
	OpTryLock
	OpRelease
	OpStatus
	OpCheckSequencer
)

// ProtocolVersion is the fixed 16-bit version leading every frame.
const ProtocolVersion uint16 = 1

// OpenFlag mirrors the namespace file open modes, combined as a bitmask.
type OpenFlag int32

const (
	OpenFlagRead OpenFlag = 1 << iota
	OpenFlagWrite
	OpenFlagCreate
	OpenFlagLock
	OpenFlagTemp
)
