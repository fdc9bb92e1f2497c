package od

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// An Entry object is the main building block of an [ObjectDictionary].
// it holds an OD entry, i.e. an OD object at a specific index.
// An entry can be one of the following object types, defined by CiA 301
//   - VAR [Variable]
//   - DOMAIN [Variable]
//   - ARRAY [VariableList]
//   - RECORD [VariableList]
//
// If the Object is an ARRAY or a RECORD it can hold also multiple sub entries.
// sub entries are always of type VAR, for simplicity.
type Entry struct {
	logger *log.Entry
	// The OD index e.g. x1006
	Index uint16
	// The OD name inside of EDS
	Name string
	// The OD object type, as cited above.
	ObjectType uint8
	// Either a [Variable] or a [VariableList] object
	object    any
	extension *extension
}

func NewEntry(logger *log.Entry, index uint16, name string, object any, objectType uint8) *Entry {
	return &Entry{
		logger:     logger.WithField("index", fmt.Sprintf("x%x", index)),
		Index:      index,
		Name:       name,
		object:     object,
		ObjectType: objectType,
	}
}

// Subindex returns the [Variable] at a given subindex.
// subindex can be a string, int, or uint8.
// When using a string it will try to find the subindex according to the OD naming.
func (entry *Entry) SubIndex(subIndex any) (v *Variable, e error) {
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	switch object := entry.object.(type) {
	case *Variable:
		switch sub := subIndex.(type) {
		case int:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		case uint8:
			if sub != 0 {
				return nil, ErrSubNotExist
			}
		case string:
			if sub != "" && sub != object.Name {
				return nil, ErrSubNotExist
			}
		default:
			return nil, ErrDevIncompat
		}
		return object, nil
	case *VariableList:
		switch sub := subIndex.(type) {
		case string:
			return object.GetSubObjectByName(sub)
		case int:
			if sub < 0 || sub >= 256 {
				return nil, ErrSubNotExist
			}
			return object.GetSubObject(uint8(sub))
		case uint8:
			return object.GetSubObject(sub)
		default:
			return nil, ErrDevIncompat
		}
	default:
		// This is not normal
		return nil, ErrDevIncompat
	}
}

// Add a member to Entry, this is only possible for Record/Array objects
func (entry *Entry) addSectionMember(section *ini.Section, name string, nodeId uint8, subIndex uint8) error {
	record, ok := entry.object.(*VariableList)
	if !ok {
		return fmt.Errorf("cannot add member to type : %T", entry.object)
	}
	variable, err := NewVariableFromSection(section, name, nodeId, entry.Index, subIndex)
	if err != nil {
		return err
	}
	return record.addVariable(variable)
}

// Add an extension to an OD entry
// This allows an OD entry to perform custom behaviour on read or on write.
// Implementation of the default StreamReader & StreamWriter for a regular OD entry
// can be found here [ReadEntryDefault] & [WriteEntryDefault].
func (entry *Entry) AddExtension(object any, read StreamReader, write StreamWriter) {
	entry.logger.Debugf("added OD extension : %v, %v",
		getFunctionName(read),
		getFunctionName(write),
	)
	entry.extension = &extension{object: object, read: read, write: write}
}

// SubCount returns the number of sub entries inside entry.
// If entry is of VAR type it will return 1
func (entry *Entry) SubCount() int {
	switch object := entry.object.(type) {
	case *Variable:
		return 1
	case *VariableList:
		return len(object.Variables)
	default:
		entry.logger.Errorf("invalid object type %T", object)
		return 1
	}
}

// Variables returns all variables of the entry, in storage order
func (entry *Entry) Variables() []*Variable {
	switch object := entry.object.(type) {
	case *Variable:
		return []*Variable{object}
	case *VariableList:
		variables := make([]*Variable, 0, len(object.Variables))
		for _, variable := range object.Variables {
			if variable != nil {
				variables = append(variables, variable)
			}
		}
		return variables
	default:
		return nil
	}
}

// Read Uint8 inside of OD
func (entry *Entry) Uint8(subIndex uint8) (uint8, error) {
	b := make([]byte, 1)
	err := entry.readSubExactly(subIndex, b, false)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read Uint32 inside of OD
func (entry *Entry) Uint32(subIndex uint8) (uint32, error) {
	b := make([]byte, 4)
	err := entry.readSubExactly(subIndex, b, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Write Uint32 inside of OD
// origin bypasses the extension if any
func (entry *Entry) PutUint32(subIndex uint8, value uint32, origin bool) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, value)
	return entry.writeSubExactly(subIndex, b, origin)
}

// Read exactly len(b) bytes from OD at (index,subIndex)
// Origin parameter controls extension usage if exists
func (entry *Entry) readSubExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, err := NewStreamer(entry, subIndex, origin)
	if err != nil {
		return err
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	_, err = streamer.Read(b)
	return err
}

// Write exactly len(b) bytes to OD at (index,subIndex)
// Origin parameter controls extension usage if exists
func (entry *Entry) writeSubExactly(subIndex uint8, b []byte, origin bool) error {
	streamer, err := NewStreamer(entry, subIndex, origin)
	if err != nil {
		return err
	}
	if int(streamer.DataLength) != len(b) {
		return ErrTypeMismatch
	}
	_, err = streamer.Write(b)
	return err
}

// Returns last part of function name
func getFunctionName(i interface{}) string {
	fullName := runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
	fullNameSplitted := strings.Split(fullName, ".")
	return fullNameSplitted[len(fullNameSplitted)-1]
}
