package od

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, access *Access, size uint32, chunk int) []byte {
	t.Helper()
	require.Nil(t, access.StartRead(size))
	out := make([]byte, 0, size)
	buf := make([]byte, chunk)
	for uint32(len(out)) < size {
		n, err := access.ContinueRead(buf)
		require.Nil(t, err)
		require.NotZero(t, n)
		out = append(out, buf[:n]...)
	}
	return out
}

func TestAccessNotExist(t *testing.T) {
	od := Default(1)
	_, err := od.Access(0x3000, 0)
	assert.Equal(t, ErrIdxNotExist, err)
	_, err = od.Access(0x2010, 5)
	assert.Equal(t, ErrSubNotExist, err)
}

func TestAccessSizeFixed(t *testing.T) {
	od := Default(1)
	access, err := od.Access(0x2002, 0)
	require.Nil(t, err)
	size, err := access.Size(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 4, size)
	size, err = access.Size(4)
	assert.Nil(t, err)
	assert.EqualValues(t, 4, size)
	_, err = access.Size(5)
	assert.Equal(t, ErrDataLong, err)
	_, err = access.Size(3)
	assert.Equal(t, ErrDataShort, err)
}

func TestAccessSizeVariable(t *testing.T) {
	od := Default(1)
	access, err := od.Access(0x2006, 0)
	require.Nil(t, err)
	size, err := access.Size(0)
	assert.Nil(t, err)
	assert.EqualValues(t, len("A long string value"), size)
	size, err = access.Size(200)
	assert.Nil(t, err)
	assert.EqualValues(t, 200, size)
}

func TestAccessAttributes(t *testing.T) {
	od := Default(1)
	ro, _ := od.Access(0x2004, 0)
	assert.True(t, ro.ReadOnly())
	assert.Equal(t, ErrReadonly, ro.StartWrite(8))
	wo, _ := od.Access(0x2005, 0)
	assert.False(t, wo.Readable())
	assert.Equal(t, ErrWriteOnly, wo.StartRead(4))
}

func TestAccessChunkedRead(t *testing.T) {
	od := Default(1)
	access, _ := od.Access(0x2006, 0)
	assert.Equal(t, []byte("A long string value"), readAll(t, access, 19, 7))
	// Reading again starts from the beginning
	assert.Equal(t, []byte("A long string value"), readAll(t, access, 19, 5))
}

func TestAccessChunkedWriteString(t *testing.T) {
	od := Default(1)
	access, _ := od.Access(0x2006, 0)
	require.Nil(t, access.StartWrite(10))
	assert.Nil(t, access.ContinueWrite([]byte("0123456")))
	assert.Nil(t, access.ContinueWrite([]byte("789")))
	v, _ := od.Index(0x2006).SubIndex(0)
	assert.Equal(t, []byte("0123456789"), v.Bytes())
}

func TestAccessWriteKeepsValueUntilComplete(t *testing.T) {
	od := Default(1)
	access, _ := od.Access(0x2006, 0)
	v, _ := od.Index(0x2006).SubIndex(0)
	require.Nil(t, access.StartWrite(10))
	assert.Nil(t, access.ContinueWrite([]byte("0123456")))
	assert.Equal(t, []byte("A long string value"), v.Bytes())
	assert.Equal(t, ErrDataShort, access.FinishWrite([]byte("78")))
	assert.Equal(t, []byte("A long string value"), v.Bytes())

	require.Nil(t, access.StartWrite(10))
	assert.Nil(t, access.ContinueWrite([]byte("0123456")))
	access.Close()
	assert.Equal(t, []byte("A long string value"), v.Bytes())
}

func TestAccessWriteUnknownSize(t *testing.T) {
	od := Default(1)
	access, _ := od.Access(0x2006, 0)
	require.Nil(t, access.StartWriteUnknownSize())
	assert.Nil(t, access.ContinueWrite([]byte("0123456")))
	assert.Nil(t, access.FinishWrite([]byte("78")))
	v, _ := od.Index(0x2006).SubIndex(0)
	assert.Equal(t, []byte("012345678"), v.Bytes())

	// Empty value
	require.Nil(t, access.StartWriteUnknownSize())
	assert.Nil(t, access.FinishWrite(nil))
	assert.Empty(t, v.Bytes())

	fixed, _ := od.Access(0x2002, 0)
	assert.False(t, fixed.VariableLength())
	assert.Equal(t, ErrTypeMismatch, fixed.StartWriteUnknownSize())
}

func TestAccessWriteTooLong(t *testing.T) {
	od := Default(1)
	access, _ := od.Access(0x2001, 0)
	require.Nil(t, access.StartWrite(2))
	assert.Equal(t, ErrDataLong, access.ContinueWrite([]byte{1, 2, 3}))
	assert.Equal(t, ErrTypeMismatch, access.StartWrite(3))
}

func TestAccessDisabledDomain(t *testing.T) {
	od := NewOD()
	_, err := od.AddVariableType(0x3000, "domain", DOMAIN, AttributeSdoRw, "")
	require.Nil(t, err)
	access, _ := od.Access(0x3000, 0)
	require.Nil(t, access.StartRead(0))
	_, err = access.ContinueRead(make([]byte, 7))
	assert.Equal(t, ErrUnsuppAccess, err)
}

func TestAccessMemoryDomain(t *testing.T) {
	od := NewOD()
	od.AddDomain(0x3001, "blob", AttributeSdoRw, []byte{1, 2, 3})
	access, _ := od.Access(0x3001, 0)
	require.Nil(t, access.StartWrite(9))
	assert.Nil(t, access.ContinueWrite([]byte{9, 8, 7, 6, 5, 4, 3}))
	assert.Nil(t, access.ContinueWrite([]byte{2, 1}))
	assert.Equal(t, []byte{9, 8, 7, 6, 5, 4, 3, 2, 1}, readAll(t, access, 9, 7))
}

func TestAccessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.Nil(t, os.WriteFile(path, []byte("hello file object"), 0644))
	od := NewOD()
	od.AddFile(0x3002, "file", path, os.O_RDONLY, os.O_CREATE|os.O_TRUNC|os.O_WRONLY)
	access, _ := od.Access(0x3002, 0)
	size, err := access.Size(0)
	require.Nil(t, err)
	assert.EqualValues(t, 17, size)
	assert.Equal(t, []byte("hello file object"), readAll(t, access, size, 7))

	require.Nil(t, access.StartWrite(5))
	assert.Nil(t, access.ContinueWrite([]byte("ab")))
	assert.Nil(t, access.ContinueWrite([]byte("cde")))
	content, err := os.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, []byte("abcde"), content)

	require.Nil(t, access.StartWriteUnknownSize())
	assert.Nil(t, access.ContinueWrite([]byte("0123456")))
	assert.Nil(t, access.FinishWrite([]byte("789")))
	content, err = os.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, []byte("0123456789"), content)
}
