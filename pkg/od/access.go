package od

import "math"

// Access gives scoped read / write access to a single (index, subindex)
// of the dictionary. A read or a write is started with StartRead / StartWrite
// and then continued chunk by chunk, so that values larger than a frame
// can be transferred without an intermediate copy of the whole value.
type Access struct {
	entry    *Entry
	variable *Variable
	subIndex uint8
	streamer *Streamer
	staged   bool   // write goes to a copy of the value stored in OD
	open     bool   // write length not known yet
	written  uint32 // bytes accepted by the writer
	done     bool   // write completed
}

// Access returns an [Access] for the given index and subindex
func (od *ObjectDictionary) Access(index uint16, subIndex uint8) (*Access, error) {
	entry := od.Index(index)
	if entry == nil {
		return nil, ErrIdxNotExist
	}
	variable, err := entry.SubIndex(subIndex)
	if err != nil {
		return nil, err
	}
	return &Access{entry: entry, variable: variable, subIndex: subIndex}, nil
}

func (a *Access) Index() uint16 {
	return a.entry.Index
}

func (a *Access) SubIndex() uint8 {
	return a.subIndex
}

func (a *Access) Attribute() uint8 {
	return a.variable.Attribute
}

// VariableLength is true for values whose length is set by the last write
func (a *Access) VariableLength() bool {
	return a.variable.isVariableLength()
}

// ReadOnly is true when the SDO server may not write the value
func (a *Access) ReadOnly() bool {
	return a.variable.Attribute&AttributeSdoW == 0
}

func (a *Access) Readable() bool {
	return a.variable.Attribute&AttributeSdoR != 0
}

func (a *Access) Writable() bool {
	return a.variable.Attribute&AttributeSdoW != 0
}

// Size returns the number of bytes to transfer.
// With a zero hint the current size of the value is returned.
// Otherwise hint is the size announced by the peer, it is checked
// against the width of fixed size values, variable length values
// accept any size.
func (a *Access) Size(hint uint32) (uint32, error) {
	if hint == 0 {
		if ext := a.entry.extension; ext != nil {
			if sizer, ok := ext.object.(Sizer); ok {
				size, err := sizer.Size()
				if err != nil {
					return 0, ErrDevIncompat
				}
				return size, nil
			}
		}
		return a.variable.DataLength(), nil
	}
	if a.variable.isVariableLength() {
		return hint, nil
	}
	width := a.variable.DataLength()
	switch {
	case hint > width:
		return 0, ErrDataLong
	case hint < width:
		return 0, ErrDataShort
	}
	return width, nil
}

// StartRead opens the value for reading size bytes
func (a *Access) StartRead(size uint32) error {
	if !a.Readable() {
		return ErrWriteOnly
	}
	streamer, err := NewStreamer(a.entry, a.subIndex, false)
	if err != nil {
		return err
	}
	streamer.DataLength = size
	a.streamer = streamer
	return nil
}

// ContinueRead reads the next chunk of the value into dst and
// returns the number of bytes read
func (a *Access) ContinueRead(dst []byte) (int, error) {
	if a.streamer == nil {
		return 0, ErrDevIncompat
	}
	n, err := a.streamer.Read(dst)
	if err == ErrPartial {
		err = nil
	}
	return n, err
}

// StartWrite opens the value for writing size bytes.
// Values stored in OD are written to a copy which replaces the stored
// value once the write completes.
func (a *Access) StartWrite(size uint32) error {
	return a.startWrite(size, false)
}

// StartWriteUnknownSize opens a variable length value for a write whose
// length is given by the last chunk, see [Access.FinishWrite]
func (a *Access) StartWriteUnknownSize() error {
	if !a.variable.isVariableLength() {
		return ErrTypeMismatch
	}
	return a.startWrite(0, true)
}

func (a *Access) startWrite(size uint32, open bool) error {
	a.Close()
	if !a.Writable() {
		return ErrReadonly
	}
	streamer, err := NewStreamer(a.entry, a.subIndex, false)
	if err != nil {
		return err
	}
	a.staged = a.entry.extension == nil || a.entry.extension.object == nil
	if a.staged {
		if !a.variable.isVariableLength() && size != streamer.DataLength {
			return ErrTypeMismatch
		}
		streamer.Data = make([]byte, size)
	}
	streamer.DataLength = size
	if open {
		streamer.DataLength = math.MaxUint32
	}
	a.streamer = streamer
	a.open = open
	a.written = 0
	a.done = false
	return nil
}

// ContinueWrite writes the next chunk of the value
func (a *Access) ContinueWrite(src []byte) error {
	if a.streamer == nil {
		return ErrDevIncompat
	}
	if a.open && a.staged {
		a.streamer.Data = append(a.streamer.Data, make([]byte, len(src))...)
	}
	_, err := a.streamer.Write(src)
	switch err {
	case ErrPartial:
		a.written += uint32(len(src))
		return nil
	case nil:
		a.written += uint32(len(src))
		return a.commit()
	}
	a.Close()
	return err
}

// FinishWrite writes the last chunk of the value. The write fails with
// [ErrDataShort] if fewer bytes than announced were written.
func (a *Access) FinishWrite(src []byte) error {
	if a.streamer == nil {
		if a.done && len(src) == 0 {
			return nil
		}
		return ErrDevIncompat
	}
	if a.open {
		if a.staged {
			a.streamer.Data = append(a.streamer.Data, make([]byte, len(src))...)
		}
		a.streamer.DataLength = a.written + uint32(len(src))
		a.open = false
	}
	if a.staged && len(src) == 0 && a.written == a.streamer.DataLength {
		return a.commit()
	}
	if err := a.ContinueWrite(src); err != nil {
		return err
	}
	if !a.done {
		a.Close()
		return ErrDataShort
	}
	return nil
}

// Replace the stored value once the write is complete
func (a *Access) commit() error {
	if a.staged {
		a.variable.setValue(a.streamer.Data[:a.written])
	}
	a.streamer = nil
	a.done = true
	return nil
}

// Close releases the streamer of an unfinished read or write
func (a *Access) Close() {
	if a.streamer == nil {
		return
	}
	if file, ok := a.streamer.Object.(*FileObject); ok {
		file.close()
	}
	a.streamer = nil
}
