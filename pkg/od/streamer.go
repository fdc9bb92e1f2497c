package od

import (
	"sync"
)

// A Stream object is used for streaming data from / to an OD entry.
// It is meant to be used inside of a [StreamReader] or [StreamWriter] function
// and provides low level access for defining custom behaviour when reading
// or writing to an OD entry.
type Stream struct {
	// Mutex used for synchronizing OD access
	mu *sync.RWMutex
	// The actual corresponding data stored inside of OD
	Data []byte
	// This is used to keep track of how much has been written or read.
	// It is typically used for long running transfers i.e. block transfers.
	DataOffset uint32
	// The length of the data to be read or written in total. This can be different
	// from len(Data) when manipulating data with varying sizes like strings
	// or domains.
	DataLength uint32
	// A custom object that can be used when using a custom extension
	// see [Entry.AddExtension]
	Object any
	// The OD attribute of the entry inside OD. e.g. AttributeSdoR
	Attribute uint8
	// The subindex of this OD entry. For a VAR type this is always 0.
	Subindex uint8
}

// A StreamReader is a function that reads from a [Stream] object and
// updates the countRead and the read slice with the read bytes.
// It returns [ErrPartial] while there is more data to read.
type StreamReader func(stream *Stream, read []byte, countRead *uint16) error

// A StreamWriter is a function that writes to a [Stream] object
// using the to_write slice and updates countWritten.
// It returns [ErrPartial] while more data is expected.
type StreamWriter func(stream *Stream, to_write []byte, countWritten *uint16) error

// extension object, is used for extending functionnality of an OD entry
type extension struct {
	object any          // Any object to link with extension
	read   StreamReader // A [StreamReader] that will be called when reading entry
	write  StreamWriter // A [StreamWriter] that will be called when writing to entry
}

// Streamer is created before accessing an OD entry
// It creates a buffer from OD Data []byte slice and provides a default reader
// and a default writer
type Streamer struct {
	Stream
	reader StreamReader
	writer StreamWriter
}

// Implements io.Reader
func (s *Streamer) Read(b []byte) (n int, err error) {
	countRead := uint16(0)
	err = s.reader(&s.Stream, b, &countRead)
	return int(countRead), err
}

// Implements io.Writer
func (s *Streamer) Write(b []byte) (n int, err error) {
	countWritten := uint16(0)
	err = s.writer(&s.Stream, b, &countWritten)
	return int(countWritten), err
}

// Create an object streamer for a given od entry + subindex
// origin ignores any extension and accesses the stored value
func NewStreamer(entry *Entry, subIndex uint8, origin bool) (*Streamer, error) {
	if entry == nil || entry.object == nil {
		return nil, ErrIdxNotExist
	}
	streamer := &Streamer{}
	var variable *Variable
	switch object := entry.object.(type) {
	case *Variable:
		if subIndex > 0 {
			return nil, ErrSubNotExist
		}
		variable = object
	case *VariableList:
		v, err := object.GetSubObject(subIndex)
		if err != nil {
			return nil, err
		}
		variable = v
	default:
		entry.logger.Errorf("error, unknown type : %+v", object)
		return nil, ErrDevIncompat
	}
	streamer.Attribute = variable.Attribute
	streamer.Subindex = subIndex
	streamer.mu = &variable.mu
	variable.mu.RLock()
	streamer.Data = variable.value
	streamer.DataLength = uint32(len(variable.value))
	variable.mu.RUnlock()

	if entry.extension == nil || origin {
		if variable.DataType == DOMAIN && !origin {
			// Domain entries require extensions to be used, by default they are disabled
			entry.logger.Warn("no extension has been specified for this domain object")
			streamer.reader = ReadEntryDisabled
			streamer.writer = WriteEntryDisabled
			return streamer, nil
		}
		streamer.reader = ReadEntryDefault
		streamer.writer = WriteEntryDefault
		return streamer, nil
	}
	// Add extension reader / writer for object
	streamer.Object = entry.extension.object
	streamer.reader = entry.extension.read
	streamer.writer = entry.extension.write
	if streamer.reader == nil {
		streamer.reader = ReadEntryDisabled
	}
	if streamer.writer == nil {
		streamer.writer = WriteEntryDisabled
	}
	return streamer, nil
}

// This is the default "StreamReader" type for every OD entry
// It reads a value from the original OD location i.e. [Stream] object
// and updates the number of read bytes, countRead
func ReadEntryDefault(stream *Stream, data []byte, countRead *uint16) error {
	if stream == nil || stream.mu == nil || data == nil || countRead == nil {
		return ErrDevIncompat
	}
	stream.mu.RLock()
	defer stream.mu.RUnlock()

	if stream.DataOffset > stream.DataLength || stream.DataLength > uint32(len(stream.Data)) {
		return ErrDevIncompat
	}
	remaining := stream.DataLength - stream.DataOffset
	count := min(uint32(len(data)), remaining)
	copy(data, stream.Data[stream.DataOffset:stream.DataOffset+count])
	*countRead = uint16(count)
	stream.DataOffset += count
	if stream.DataOffset < stream.DataLength {
		// Partial read
		return ErrPartial
	}
	stream.DataOffset = 0
	return nil
}

// This is the default "StreamWriter" type for every OD entry
// It writes data to the [Stream] object
// It also updates the number write count, countWritten
func WriteEntryDefault(stream *Stream, data []byte, countWritten *uint16) error {
	if stream == nil || stream.mu == nil || countWritten == nil {
		return ErrDevIncompat
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.DataOffset > stream.DataLength {
		return ErrDevIncompat
	}
	count := uint32(len(data))
	// OD variable is smaller than the provided buffer
	if count > stream.DataLength-stream.DataOffset ||
		stream.DataOffset+count > uint32(len(stream.Data)) {
		return ErrDataLong
	}
	copy(stream.Data[stream.DataOffset:stream.DataOffset+count], data)
	*countWritten = uint16(count)
	stream.DataOffset += count
	if stream.DataOffset < stream.DataLength {
		// Partial write
		return ErrPartial
	}
	stream.DataOffset = 0
	return nil
}

// "StreamReader" when the actual OD entry to be read is disabled
func ReadEntryDisabled(stream *Stream, data []byte, countRead *uint16) error {
	return ErrUnsuppAccess
}

// "StreamWriter" when the actual OD entry to be written is disabled
func WriteEntryDisabled(stream *Stream, data []byte, countWritten *uint16) error {
	return ErrUnsuppAccess
}
