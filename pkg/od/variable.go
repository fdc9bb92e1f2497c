package od

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

var nodeIdRegExp = regexp.MustCompile(`\+?\$NODEID\+?`)

// Variable is the main data representation for a value stored inside of OD
// It is used to store a "VAR" or "DOMAIN" object type as well as
// any sub entry of a "RECORD" or "ARRAY" object type
type Variable struct {
	mu           sync.RWMutex
	valueDefault []byte
	value        []byte
	// Name of this variable
	Name string
	// The CANopen data type of this variable
	// see [BOOLEAN], [INTEGER8], etc
	DataType byte
	// Attribute contains the access type as well as the mapping
	// information. e.g. AttributeSdoRw
	Attribute uint8
	// SubIndex is the sub index for this variable
	SubIndex uint8
}

// Create a new variable, value is parsed according to datatype
func NewVariable(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, 0)
	if err != nil {
		return nil, err
	}
	encodedCopy := make([]byte, len(encoded))
	copy(encodedCopy, encoded)
	variable := &Variable{
		value:        encoded,
		valueDefault: encodedCopy,
		Name:         name,
		DataType:     datatype,
		Attribute:    attribute,
		SubIndex:     subindex,
	}
	return variable, nil
}

// Create variable from section entry
func NewVariableFromSection(
	section *ini.Section,
	name string,
	nodeId uint8,
	index uint16,
	subindex uint8,
) (*Variable, error) {

	variable := &Variable{
		Name:     name,
		SubIndex: subindex,
	}

	// Get AccessType
	accessType, err := section.GetKey("AccessType")
	if err != nil {
		return nil, fmt.Errorf("failed to get 'AccessType' for %x : %x", index, subindex)
	}

	// Get PDOMapping to know if pdo mappable
	var pdoMapping bool
	if pM, err := section.GetKey("PDOMapping"); err == nil {
		pdoMapping, err = pM.Bool()
		if err != nil {
			return nil, err
		}
	}

	dataType, err := strconv.ParseUint(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DataType' for %x : %x, because %v", index, subindex, err)
	}
	variable.DataType = byte(dataType)
	variable.Attribute = EncodeAttribute(strings.ToLower(accessType.String()), pdoMapping, variable.DataType)

	defaultValueStr := section.Key("DefaultValue").Value()
	// If $NODEID is in default value then remove it, and add it afterwards
	if strings.Contains(defaultValueStr, "$NODEID") {
		defaultValueStr = nodeIdRegExp.ReplaceAllString(defaultValueStr, "")
	} else {
		nodeId = 0
	}
	variable.valueDefault, err = EncodeFromString(defaultValueStr, variable.DataType, nodeId)
	if err != nil {
		return nil, fmt.Errorf("failed to parse 'DefaultValue' for x%x|x%x, because %v (datatype :x%x)", index, subindex, err, variable.DataType)
	}
	variable.value = make([]byte, len(variable.valueDefault))
	copy(variable.value, variable.valueDefault)
	return variable, nil
}

// Return number of bytes
func (variable *Variable) DataLength() uint32 {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	return uint32(len(variable.value))
}

// Return default value as byte slice
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// Return a copy of the current value
func (variable *Variable) Bytes() []byte {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	value := make([]byte, len(variable.value))
	copy(value, variable.value)
	return value
}

// Replace the stored value
func (variable *Variable) setValue(value []byte) {
	variable.mu.Lock()
	defer variable.mu.Unlock()
	variable.value = value
}

// True if the stored length may change on write
func (variable *Variable) isVariableLength() bool {
	return variable.Attribute&AttributeStr != 0 || variable.DataType == DOMAIN
}
