package od

import (
	"context"
	"fmt"
	"time"

	canopen "github.com/samsamfire/gocanopen-sdo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"
)

// ObjectDictionary is used for storing all entries of a CANopen node
// according to CiA 301. This is the internal representation of an EDS file
type ObjectDictionary struct {
	logger              *log.Entry
	entriesByIndexValue map[uint16]*Entry
	entriesByIndexName  map[string]*Entry
	lock                *semaphore.Weighted
}

func NewOD() *ObjectDictionary {
	return &ObjectDictionary{
		logger:              log.WithField("service", "[OD]"),
		entriesByIndexValue: make(map[uint16]*Entry),
		entriesByIndexName:  make(map[string]*Entry),
		lock:                semaphore.NewWeighted(1),
	}
}

// Add an entry to OD, any existing entry will be replaced
func (od *ObjectDictionary) addEntry(entry *Entry) {
	_, entryIndexValueExists := od.entriesByIndexValue[entry.Index]
	if entryIndexValueExists {
		od.logger.Warnf("overwritting entry index x%x", entry.Index)
	}
	od.entriesByIndexValue[entry.Index] = entry
	od.entriesByIndexName[entry.Name] = entry
}

// Add a variable to OD
func (od *ObjectDictionary) addVariable(index uint16, variable *Variable) *Entry {
	objectType := ObjectTypeVAR
	if variable.DataType == DOMAIN {
		objectType = ObjectTypeDOMAIN
	}
	entry := NewEntry(od.logger, index, variable.Name, variable, objectType)
	od.addEntry(entry)
	return entry
}

// AddVariableType adds an entry of type VAR to OD
// the value should be given as a string with hex representation
// e.g. 0x22 or 0x55555
func (od *ObjectDictionary) AddVariableType(
	index uint16,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Entry, error) {
	variable, err := NewVariable(0, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	return od.addVariable(index, variable), nil
}

// AddVariableList adds an entry of type ARRAY or RECORD depending on [VariableList]
func (od *ObjectDictionary) AddVariableList(index uint16, name string, varList *VariableList) *Entry {
	entry := NewEntry(od.logger, index, name, varList, varList.objectType)
	od.addEntry(entry)
	return entry
}

// AddFile adds a file like object, of type DOMAIN to OD
// readMode and writeMode should be given to determine what type of access to the file is allowed
// e.g. os.O_RDONLY if only reading is allowed
func (od *ObjectDictionary) AddFile(index uint16, indexName string, filePath string, readMode int, writeMode int) *Entry {
	entry := od.addVariable(index, &Variable{
		Name:      indexName,
		DataType:  DOMAIN,
		Attribute: AttributeSdoRw,
		value:     []byte{},
	})
	entry.AddExtension(NewFileObject(filePath, readMode, writeMode), ReadEntryFileObject, WriteEntryFileObject)
	od.logger.Infof("adding file object entry x%x (%v) at %v", index, indexName, filePath)
	return entry
}

// AddDomain adds a DOMAIN entry whose value is kept in memory
// Downloads of any size replace the stored value
func (od *ObjectDictionary) AddDomain(index uint16, indexName string, attribute uint8, data []byte) *Entry {
	value := make([]byte, len(data))
	copy(value, data)
	entry := od.addVariable(index, &Variable{
		Name:      indexName,
		DataType:  DOMAIN,
		Attribute: attribute,
		value:     value,
	})
	entry.AddExtension(nil, ReadEntryDefault, WriteEntryDefault)
	return entry
}

// Index returns an OD entry at the specified index.
// index can either be a string, int or uint16.
// This method does not return an error (for chaining with Subindex()) but instead returns
// nil if no corresponding [Entry] is found.
func (od *ObjectDictionary) Index(index any) *Entry {
	var entry *Entry
	switch ind := index.(type) {
	case string:
		entry = od.entriesByIndexName[ind]
	case int:
		entry = od.entriesByIndexValue[uint16(ind)]
	case uint16:
		entry = od.entriesByIndexValue[ind]
	default:
		return nil
	}
	return entry
}

// Entries returns map of indexes and entries
func (od *ObjectDictionary) Entries() map[uint16]*Entry {
	return od.entriesByIndexValue
}

// Indexes returns all the indexes of OD in increasing order
func (od *ObjectDictionary) Indexes() []uint16 {
	indexes := maps.Keys(od.entriesByIndexValue)
	slices.Sort(indexes)
	return indexes
}

// Acquire exclusive access to OD, waiting at most timeout.
// [canopen.ErrTimeout] is returned if the lock could not be taken in time
func (od *ObjectDictionary) Acquire(timeout time.Duration) error {
	if timeout <= 0 {
		if !od.lock.TryAcquire(1) {
			return canopen.ErrTimeout
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := od.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w : object dictionary locked", canopen.ErrTimeout)
	}
	return nil
}

// Release access acquired with [ObjectDictionary.Acquire]
func (od *ObjectDictionary) Release() {
	od.lock.Release(1)
}
