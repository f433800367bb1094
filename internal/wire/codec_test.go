package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

func TestVintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		e := NewEncoder()
		e.PutVint(v)
		d := NewDecoder(e.Bytes())
		got, err := d.GetVint()
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Zero(t, d.Remaining())
	}
}

func TestVstrRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutVstr("/hypertable/master")
	d := NewDecoder(e.Bytes())
	got, err := d.GetVstr()
	require.NoError(t, err)
	require.Equal(t, "/hypertable/master", got)
}

func TestBytes32RoundTrip(t *testing.T) {
	e := NewEncoder()
	payload := []byte("schema-bytes")
	e.PutBytes32(payload)
	d := NewDecoder(e.Bytes())
	got, err := d.GetBytes32()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFixedIntRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutI32(-42)
	e.PutI64(1 << 50)
	d := NewDecoder(e.Bytes())
	i32, err := d.GetI32()
	require.NoError(t, err)
	require.EqualValues(t, -42, i32)
	i64, err := d.GetI64()
	require.NoError(t, err)
	require.EqualValues(t, 1<<50, i64)
}

func TestDirEntryRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutDirEntry(DirEntry{Name: "tables", IsDir: true})
	e.PutDirEntry(DirEntry{Name: "master", IsDir: false})
	d := NewDecoder(e.Bytes())
	a, err := d.GetDirEntry()
	require.NoError(t, err)
	require.Equal(t, DirEntry{Name: "tables", IsDir: true}, a)
	b, err := d.GetDirEntry()
	require.NoError(t, err)
	require.Equal(t, DirEntry{Name: "master", IsDir: false}, b)
}

func TestOpenReplyPayloadRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutResponseCode(nserrors.OK)
	e.PutI64(42)
	e.PutBool(true)
	e.PutI64(7)

	d := NewDecoder(e.Bytes())
	code, err := d.GetResponseCode()
	require.NoError(t, err)
	require.Equal(t, nserrors.OK, code)
	handle, err := d.GetI64()
	require.NoError(t, err)
	require.EqualValues(t, 42, handle)
	created, err := d.GetBool()
	require.NoError(t, err)
	require.True(t, created)
	gen, err := d.GetI64()
	require.NoError(t, err)
	require.EqualValues(t, 7, gen)
}

func TestTruncatedInputSurfacesSerializationError(t *testing.T) {
	d := NewDecoder([]byte{0x80})
	_, err := d.GetVint()
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.SERIALIZATION_BAD_VINT))
}
