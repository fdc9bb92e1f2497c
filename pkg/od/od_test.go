package od

import (
	"testing"
	"time"

	canopen "github.com/samsamfire/gocanopen-sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefault(t *testing.T) {
	od := Default(0x10)
	entry := od.Index(0x1200)
	require.NotNil(t, entry)
	cobId, err := entry.Uint32(1)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x610, cobId)
	cobId, err = entry.Uint32(2)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x590, cobId)
	assert.Equal(t, 3, entry.SubCount())
	assert.Equal(t, od.Index("SDO server parameter"), entry)
}

func TestIndexesSorted(t *testing.T) {
	od := Default(1)
	indexes := od.Indexes()
	assert.Equal(t, len(od.Entries()), len(indexes))
	for i := 1; i < len(indexes); i++ {
		assert.Less(t, indexes[i-1], indexes[i])
	}
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("[2000]\nParameterName=x\nObjectType=0x7\nDataType=0x99\nAccessType=rw\n"), 1)
	assert.NotNil(t, err)
	_, err = Parse([]byte("[2000sub1]\nParameterName=x\nDataType=0x5\nAccessType=rw\n"), 1)
	assert.NotNil(t, err)
}

func TestSubIndex(t *testing.T) {
	od := Default(1)
	record := od.Index(0x2010)
	v, err := record.SubIndex("Second")
	assert.Nil(t, err)
	assert.EqualValues(t, 2, v.SubIndex)
	_, err = record.SubIndex(uint8(9))
	assert.Equal(t, ErrSubNotExist, err)
	_, err = od.Index(0x2000).SubIndex(1)
	assert.Equal(t, ErrSubNotExist, err)
	var missing *Entry
	_, err = missing.SubIndex(0)
	assert.Equal(t, ErrIdxNotExist, err)
}

func TestPutUint32(t *testing.T) {
	od := Default(1)
	entry := od.Index(0x2002)
	assert.Nil(t, entry.PutUint32(0, 0xAABBCCDD, false))
	value, err := entry.Uint32(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0xAABBCCDD, value)
	assert.Equal(t, ErrTypeMismatch, od.Index(0x2000).PutUint32(0, 1, false))
}

func TestLockTimeout(t *testing.T) {
	od := NewOD()
	assert.Nil(t, od.Acquire(10*time.Millisecond))
	err := od.Acquire(10 * time.Millisecond)
	assert.ErrorIs(t, err, canopen.ErrTimeout)
	assert.ErrorIs(t, od.Acquire(0), canopen.ErrTimeout)
	od.Release()
	assert.Nil(t, od.Acquire(0))
	od.Release()
}
