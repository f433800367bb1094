// Package wire implements the namespace protocol's binary encoding: fixed
// little-endian integers, 7-bit continuation varints, length-prefixed
// strings and byte blobs, and directory entries (spec §6.1).
package wire

import (
	"encoding/binary"
	"io"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

// Encoder appends operation payloads to an internal buffer for a single
// request or reply.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutByte(b byte) { e.buf = append(e.buf, b) }

func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutByte(1)
	} else {
		e.PutByte(0)
	}
}

// PutI32 appends a fixed-width little-endian 32-bit integer.
func (e *Encoder) PutI32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	e.buf = append(e.buf, tmp[:]...)
}

// PutI64 appends a fixed-width little-endian 64-bit integer.
func (e *Encoder) PutI64(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	e.buf = append(e.buf, tmp[:]...)
}

// PutVint appends v as a 7-bit-per-byte continuation-encoded varint.
func (e *Encoder) PutVint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// PutVstr appends a vint-length-prefixed UTF-8 string.
func (e *Encoder) PutVstr(s string) {
	e.PutVint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// PutBytes32 appends a u32-length-prefixed raw byte blob.
func (e *Encoder) PutBytes32(b []byte) {
	e.PutI32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

// DirEntry is one entry of a readdir reply payload.
type DirEntry struct {
	Name  string
	IsDir bool
}

func (e *Encoder) PutDirEntry(d DirEntry) {
	e.PutVstr(d.Name)
	e.PutBool(d.IsDir)
}

// Decoder reads operation payloads out of a byte slice, tracking position
// and surfacing truncation as *errors.Exception rather than a panic, since
// namespace-protocol frames cross an untrusted transport boundary.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return nserrors.New(nserrors.SERIALIZATION_INPUT_TRUNCATED, "short read")
	}
	return nil
}

func (d *Decoder) GetByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) GetBool() (bool, error) {
	b, err := d.GetByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *Decoder) GetI32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return int32(v), nil
}

func (d *Decoder) GetI64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return int64(v), nil
}

func (d *Decoder) GetVint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := d.GetByte()
		if err != nil {
			return 0, nserrors.New(nserrors.SERIALIZATION_BAD_VINT, "truncated vint")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, nserrors.New(nserrors.SERIALIZATION_BAD_VINT, "vint too long")
		}
	}
}

func (d *Decoder) GetVstr() (string, error) {
	n, err := d.GetVint()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", nserrors.New(nserrors.SERIALIZATION_BAD_VSTR, "truncated vstr")
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *Decoder) GetBytes32() ([]byte, error) {
	n, err := d.GetI32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nserrors.New(nserrors.SERIALIZATION_INPUT_TRUNCATED, "negative bytes32 length")
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return b, nil
}

func (d *Decoder) GetDirEntry() (DirEntry, error) {
	name, err := d.GetVstr()
	if err != nil {
		return DirEntry{}, err
	}
	isDir, err := d.GetBool()
	if err != nil {
		return DirEntry{}, err
	}
	return DirEntry{Name: name, IsDir: isDir}, nil
}

// FrameHeader precedes every request: a 16-bit protocol version and a
// 32-bit operation code (spec §6.1). The reply frame instead leads with a
// 32-bit response code (see ReplyHeader).
type FrameHeader struct {
	Version   uint16
	OpCode    int32
}

func (e *Encoder) PutFrameHeader(h FrameHeader) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], h.Version)
	e.buf = append(e.buf, tmp[:]...)
	e.PutI32(h.OpCode)
}

func (d *Decoder) GetFrameHeader() (FrameHeader, error) {
	if err := d.need(2); err != nil {
		return FrameHeader{}, err
	}
	version := binary.LittleEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	op, err := d.GetI32()
	if err != nil {
		return FrameHeader{}, err
	}
	return FrameHeader{Version: version, OpCode: op}, nil
}

// PutResponseCode writes the 32-bit response code that leads every reply.
func (e *Encoder) PutResponseCode(code nserrors.Code) {
	e.PutI32(int32(code))
}

func (d *Decoder) GetResponseCode() (nserrors.Code, error) {
	v, err := d.GetI32()
	if err != nil {
		return 0, err
	}
	return nserrors.Code(v), nil
}

var _ io.Writer = (*bufWriter)(nil)

// bufWriter adapts Encoder to io.Writer for callers that want to stream
// payload construction (e.g. readdir's variable-length entry list).
type bufWriter struct{ e *Encoder }

func (w *bufWriter) Write(p []byte) (int, error) {
	w.e.buf = append(w.e.buf, p...)
	return len(p), nil
}

func (e *Encoder) Writer() io.Writer { return &bufWriter{e} }
