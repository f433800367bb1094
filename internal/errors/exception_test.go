package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTextUnknownCode(t *testing.T) {
	require.Equal(t, "ERROR NOT REGISTERED", GetText(Code(999999)))
}

func TestExceptionRenderingTwoFrames(t *testing.T) {
	cause := New(LOCAL_IO_ERROR, "y")
	e := Wrap(cause, NAMESPACE_FILE_NOT_FOUND, "x")

	rendered := e.Error()
	require.Equal(t, 2, strings.Count(rendered, "\n")+1, "expected exactly two frames")
	require.Contains(t, rendered, "HYPERTABLE local i/o error")
	require.Contains(t, rendered, GetText(NAMESPACE_FILE_NOT_FOUND))
}

func TestExceptionRenderingSameCodeSuppressesText(t *testing.T) {
	cause := New(NAMESPACE_FILE_NOT_FOUND, "y")
	e := Wrap(cause, NAMESPACE_FILE_NOT_FOUND, "x")

	rendered := e.Error()
	require.Equal(t, 1, strings.Count(rendered, GetText(NAMESPACE_FILE_NOT_FOUND)))
}

func TestHasCode(t *testing.T) {
	e := New(NAMESPACE_ALREADY_LOCKED, "locked")
	require.True(t, HasCode(e, NAMESPACE_ALREADY_LOCKED))
	require.False(t, HasCode(e, NAMESPACE_NOT_LOCKED))
	require.False(t, HasCode(nil, OK))
}
