package sdo

import "errors"

var ErrBufferOverflow = errors.New("transfer buffer capacity exceeded")

// transferBuffer stages frame sized chunks between the bus and the
// object dictionary. Bytes are appended at the end and consumed from
// the cursor. start marks the beginning of the current block.
type transferBuffer struct {
	data   []byte
	start  int
	cursor int
	length int
}

func newTransferBuffer(capacity int) *transferBuffer {
	return &transferBuffer{data: make([]byte, capacity)}
}

func (b *transferBuffer) reset() {
	b.start = 0
	b.cursor = 0
	b.length = 0
}

func (b *transferBuffer) capacity() int {
	return len(b.data)
}

// Free space at the end of the buffer
func (b *transferBuffer) free() int {
	return len(b.data) - b.length
}

// Staged bytes not consumed yet
func (b *transferBuffer) remaining() int {
	return b.length - b.cursor
}

func (b *transferBuffer) put(p []byte) error {
	if len(p) > b.free() {
		return ErrBufferOverflow
	}
	copy(b.data[b.length:], p)
	b.length += len(p)
	return nil
}

// Slice of the free space, to be filled directly and committed with grow
func (b *transferBuffer) tail(n int) []byte {
	n = min(n, b.free())
	return b.data[b.length : b.length+n]
}

func (b *transferBuffer) grow(n int) error {
	if n > b.free() {
		return ErrBufferOverflow
	}
	b.length += n
	return nil
}

// All staged bytes
func (b *transferBuffer) bytes() []byte {
	return b.data[:b.length]
}

// Consume at most n bytes from the cursor
func (b *transferBuffer) next(n int) []byte {
	n = min(n, b.remaining())
	chunk := b.data[b.cursor : b.cursor+n]
	b.cursor += n
	return chunk
}

// Drop the last n staged bytes
func (b *transferBuffer) truncate(n int) error {
	if n > b.length-b.cursor {
		return ErrBufferOverflow
	}
	b.length -= n
	return nil
}

// Mark the cursor as the start of a new block
func (b *transferBuffer) markStart() {
	b.start = b.cursor
}

// Move the cursor offset bytes after the block start
func (b *transferBuffer) rewind(offset int) error {
	if offset < 0 || b.start+offset > b.length {
		return ErrBufferOverflow
	}
	b.cursor = b.start + offset
	return nil
}

// Move the unconsumed bytes to the front of the buffer
func (b *transferBuffer) compact() {
	n := copy(b.data, b.data[b.cursor:b.length])
	b.start = 0
	b.cursor = 0
	b.length = n
}
