package tailbuffer

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTailBufferCreation(t *testing.T) {
	tb := NewTailBuffer(0)
	require.NotNil(t, tb)
	n, err := tb.Write([]byte("dropped"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestTailBufferWrite(t *testing.T) {
	tb := NewTailBuffer(1024)
	n, err := tb.Write([]byte("asdf"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestTailBufferReadEmpty(t *testing.T) {
	tb := NewTailBuffer(4)
	buf := make([]byte, 4)
	_, err := tb.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestTailBufferKeepsTail(t *testing.T) {
	tb := NewTailBuffer(4)
	n, err := tb.Write([]byte("asdfg"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 4)
	n, err = tb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("sdfg"), buf)
}

func TestTailBufferOverwriteAcrossWrites(t *testing.T) {
	tb := NewTailBuffer(4)
	_, err := tb.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = tb.Write([]byte("de"))
	require.NoError(t, err)

	out := new(strings.Builder)
	_, err = io.Copy(out, tb)
	require.NoError(t, err)
	require.Equal(t, "bcde", out.String())
}

func TestTailBufferCopyOut(t *testing.T) {
	tb := NewTailBuffer(8)
	_, err := tb.Write([]byte("last lines of stderr"))
	require.NoError(t, err)

	out := new(strings.Builder)
	_, err = io.Copy(out, tb)
	require.NoError(t, err)
	require.Equal(t, "f stderr", out.String())
}
