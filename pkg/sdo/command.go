package sdo

import "encoding/binary"

// Layout of the first byte of an SDO frame. The command specifier is held
// in the three high bits, the lower bits depend on the sub protocol.

const (
	SegmentSize     = 7   // Data bytes carried by a segment
	BlockMaxSize    = 127 // Max number of segments in a block
	ExpeditedMaxLen = 4
)

const (
	maskCommand = 0xE0

	ccsDownloadSegment  = 0x00
	ccsDownloadInitiate = 0x20
	ccsUploadInitiate   = 0x40
	ccsUploadSegment    = 0x60
	csAbort             = 0x80
	ccsBlockUpload      = 0xA0
	ccsBlockDownload    = 0xC0

	scsDownloadSegment  = 0x20
	scsUploadInitiate   = 0x40
	scsDownloadInitiate = 0x60
	scsBlockDownload    = 0xA0
	scsBlockUpload      = 0xC0
)

const (
	bitToggle   = 0x10
	bitSegLast  = 0x01 // c, no more segments
	bitSize     = 0x01 // s, size indicated
	bitExpedite = 0x02 // e, expedited transfer
	bitCRC      = 0x04 // cc / sc, crc supported
	bitSeqLast  = 0x80 // last segment of a block transfer
	bitBlkSize  = 0x02 // s, size indicated in block download initiate

	maskSeqNo       = 0x7F
	maskSubCommand  = 0x03
	maskSegUnused   = 0x0E
	maskBlockUnused = 0x1C
	maskInitUnused  = 0x0C
	maskSegDownload = 0xE0 // download segment request
	maskSegUpload   = 0xEF // upload segment request
	maskInitDown    = 0xF2 // segmented download initiate, excluding size and n
	maskBlockEnd    = 0xE3 // block download end request
)

// Block transfer sub commands, lower two bits of the command byte
const (
	blockUploadInitiate = 0x00
	blockUploadEnd      = 0x01
	blockUploadAck      = 0x02
	blockUploadStart    = 0x03

	blockDownloadInitiate = 0x00
	blockDownloadEnd      = 0x01
)

// frameData is the 8 byte payload of an SDO frame, it is used for both
// the received request and the response written in place
type frameData [8]byte

func (f *frameData) command() uint8 {
	return f[0] & maskCommand
}

func (f *frameData) subCommand() uint8 {
	return f[0] & maskSubCommand
}

func (f *frameData) index() uint16 {
	return binary.LittleEndian.Uint16(f[1:3])
}

func (f *frameData) subIndex() uint8 {
	return f[3]
}

func (f *frameData) toggle() uint8 {
	return f[0] & bitToggle
}

func (f *frameData) sizeIndicated() bool {
	return f[0]&bitSize != 0
}

func (f *frameData) blockSizeIndicated() bool {
	return f[0]&bitBlkSize != 0
}

func (f *frameData) expedited() bool {
	return f[0]&bitExpedite != 0
}

// Size field of initiate frames, bytes 4..7
func (f *frameData) size() uint32 {
	return binary.LittleEndian.Uint32(f[4:8])
}

// Unused bytes in an expedited download initiate
func (f *frameData) expeditedUnused() uint8 {
	return (f[0] & maskInitUnused) >> 2
}

// Unused bytes in a download segment
func (f *frameData) segmentUnused() uint8 {
	return (f[0] & maskSegUnused) >> 1
}

func (f *frameData) segmentLast() bool {
	return f[0]&bitSegLast != 0
}

// Sequence number of a block segment and whether it is the last one
func (f *frameData) seqNo() (uint8, bool) {
	return f[0] & maskSeqNo, f[0]&bitSeqLast != 0
}

// Unused bytes in the last segment, block download end
func (f *frameData) blockUnused() uint8 {
	return (f[0] & maskBlockUnused) >> 2
}

// Block size of a block upload initiate
func (f *frameData) initBlockSize() uint8 {
	return f[4]
}

// Protocol switch threshold of a block upload initiate
func (f *frameData) switchThreshold() uint8 {
	return f[5]
}

// Ack sequence and next block size of a block upload acknowledge
func (f *frameData) ackSeq() (uint8, uint8) {
	return f[1], f[2]
}

func (f *frameData) clear() {
	*f = frameData{}
}

// Echo multiplexer, index and subindex in bytes 1..3
func (f *frameData) setMux(index uint16, subIndex uint8) {
	binary.LittleEndian.PutUint16(f[1:3], index)
	f[3] = subIndex
}

func (f *frameData) setSize(size uint32) {
	binary.LittleEndian.PutUint32(f[4:8], size)
}

func (f *frameData) encodeDownloadInitiate(index uint16, subIndex uint8) {
	f.clear()
	f[0] = scsDownloadInitiate
	f.setMux(index, subIndex)
}

func (f *frameData) encodeUploadInitiate(index uint16, subIndex uint8, size uint32) {
	f.clear()
	f[0] = scsUploadInitiate | bitSize
	f.setMux(index, subIndex)
	f.setSize(size)
}

func (f *frameData) encodeUploadExpedited(index uint16, subIndex uint8, data []byte) {
	f.clear()
	f[0] = scsUploadInitiate | bitExpedite | bitSize | uint8(ExpeditedMaxLen-len(data))<<2
	f.setMux(index, subIndex)
	copy(f[4:], data)
}

func (f *frameData) encodeDownloadSegment(toggle uint8) {
	f.clear()
	f[0] = scsDownloadSegment | toggle
}

func (f *frameData) encodeUploadSegment(toggle uint8, data []byte, last bool) {
	f.clear()
	f[0] = toggle | uint8(SegmentSize-len(data))<<1
	if last {
		f[0] |= bitSegLast
	}
	copy(f[1:], data)
}

func (f *frameData) encodeBlockDownloadInitiate(index uint16, subIndex uint8, blockSize uint8) {
	f.clear()
	f[0] = scsBlockDownload
	f.setMux(index, subIndex)
	f[4] = blockSize
}

func (f *frameData) encodeBlockDownloadAck(ackSeq uint8, blockSize uint8) {
	f.clear()
	f[0] = scsBlockDownload | 0x02
	f[1] = ackSeq
	f[2] = blockSize
}

func (f *frameData) encodeBlockDownloadEnd() {
	f.clear()
	f[0] = scsBlockDownload | blockDownloadEnd
}

func (f *frameData) encodeBlockUploadInitiate(index uint16, subIndex uint8, size uint32) {
	f.clear()
	f[0] = scsBlockUpload | 0x02
	f.setMux(index, subIndex)
	f.setSize(size)
}

func (f *frameData) encodeBlockSegment(seqNo uint8, data []byte, last bool) {
	f.clear()
	f[0] = seqNo & maskSeqNo
	if last {
		f[0] |= bitSeqLast
	}
	copy(f[1:], data)
}

func (f *frameData) encodeBlockUploadEnd(unused uint8) {
	f.clear()
	f[0] = scsBlockUpload | 0x01 | (unused&0x07)<<2
}

func (f *frameData) encodeAbort(index uint16, subIndex uint8, code SDOAbortCode) {
	f.clear()
	f[0] = csAbort
	f.setMux(index, subIndex)
	binary.LittleEndian.PutUint32(f[4:8], uint32(code))
}
