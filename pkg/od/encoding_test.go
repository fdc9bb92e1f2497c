package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeFromString(t *testing.T) {
	tests := []struct {
		value    string
		datatype uint8
		offset   uint8
		expected []byte
	}{
		{"0x10", UNSIGNED8, 0, []byte{0x10}},
		{"0x600", UNSIGNED32, 0x22, []byte{0x22, 0x06, 0, 0}},
		{"-1", INTEGER16, 0, []byte{0xFF, 0xFF}},
		{"", UNSIGNED16, 0, []byte{0, 0}},
		{"0", VISIBLE_STRING, 0, []byte("0")},
		{"", OCTET_STRING, 0, []byte{}},
	}
	for _, test := range tests {
		encoded, err := EncodeFromString(test.value, test.datatype, test.offset)
		assert.Nil(t, err)
		assert.Equal(t, test.expected, encoded)
	}
	_, err := EncodeFromString("0x100", UNSIGNED8, 0)
	assert.NotNil(t, err)
	_, err = EncodeFromString("1", 0x99, 0)
	assert.Equal(t, ErrTypeMismatch, err)
}

func TestAttributes(t *testing.T) {
	assert.Equal(t, AttributeSdoR, EncodeAttribute("const", false, UNSIGNED8))
	assert.Equal(t, AttributeSdoRw|AttributeMb, EncodeAttribute("rw", false, UNSIGNED32))
	assert.Equal(t, AttributeSdoRw|AttributeStr, EncodeAttribute("rw", false, VISIBLE_STRING))
	assert.Equal(t, "ro", DecodeAttribute(AttributeSdoR|AttributeMb))
	assert.Equal(t, "wo", DecodeAttribute(AttributeSdoW))
	assert.Equal(t, "rw", DecodeAttribute(AttributeSdoRw))
}

func TestDecodeToString(t *testing.T) {
	s, err := DecodeToString([]byte{0xFE}, INTEGER8, 10)
	assert.Nil(t, err)
	assert.Equal(t, "-2", s)
	s, err = DecodeToString([]byte{0xAB, 0xCD}, OCTET_STRING, 16)
	assert.Nil(t, err)
	assert.Equal(t, "abcd", s)
	_, err = DecodeToString([]byte{1}, UNSIGNED16, 10)
	assert.Equal(t, ErrDataShort, err)
}
