package sdo

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

func (s *SDOServer) blockInitDownload() (bool, error) {
	if err := s.openObject(true); err != nil {
		return false, err
	}
	size, open, err := s.downloadSize(s.frame.blockSizeIndicated(), s.frame.size())
	if err != nil {
		return false, err
	}
	s.kind = transferDownload
	if err := s.startWrite(size, open); err != nil {
		return false, err
	}
	s.buf.reset()
	s.blk = blockTransfer{
		state:     blockDownload,
		segNumMax: s.maxSegments(),
		xferLen:   size,
		open:      open,
		lastValid: lastValidUnknown,
	}
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"size":     size,
		"open":     open,
		"blksize":  s.blk.segNumMax,
	}).Debug("[RX] block download initiate")
	s.frame.encodeBlockDownloadInitiate(s.index, s.subIndex, s.blk.segNumMax)
	return true, nil
}

// Receive one segment of a sub-block. Out of order segments are dropped,
// the acknowledge reports the last segment received in sequence.
func (s *SDOServer) blockDownloadSegment() (bool, error) {
	seqNo, last := s.frame.seqNo()
	if s.blk.state == blockDownloadWait {
		s.blk.state = blockDownload
	}
	inError := s.blk.segCnt&bitSeqLast != 0
	if !inError && seqNo == s.blk.segCnt+1 {
		if err := s.buf.put(s.frame[1:]); err != nil {
			return false, err
		}
		s.blk.segCnt = seqNo
		s.blk.last = last
	} else {
		if !inError {
			s.logger.WithFields(log.Fields{
				"expected": s.blk.segCnt + 1,
				"received": seqNo,
			}).Warn("[RX] block segment out of sequence")
		}
		s.blk.segCnt |= bitSeqLast
		inError = true
	}

	ackSeq := s.blk.segCnt & maskSeqNo
	switch {
	case !inError && (ackSeq >= s.blk.segNumMax || s.blk.last):
	case inError && (seqNo >= s.blk.segNumMax || last):
	default:
		return false, nil
	}

	// End of sub-block, the final one is written on block download end
	if !s.blk.last {
		if err := s.flushBlock(); err != nil {
			return false, err
		}
	}
	s.logger.WithFields(log.Fields{
		"ackseq":  ackSeq,
		"blksize": s.blk.segNumMax,
	}).Debug("[TX] block download ack")
	s.frame.encodeBlockDownloadAck(ackSeq, s.blk.segNumMax)
	s.blk.segCnt = 0
	s.blk.state = blockDownloadWait
	return true, nil
}

// Write the staged segments of a sub-block to the object
func (s *SDOServer) flushBlock() error {
	data := s.buf.bytes()
	if !s.blk.open && s.blk.written+uint32(len(data)) > s.blk.xferLen {
		return AbortDataLong
	}
	if err := s.flush(data); err != nil {
		return err
	}
	s.blk.written += uint32(len(data))
	s.buf.reset()
	return nil
}

func (s *SDOServer) blockEndDownload() (bool, error) {
	if s.object == nil || s.blk.state != blockDownloadWait || !s.blk.last {
		return false, AbortCmd
	}
	if s.frame[0]&maskBlockEnd != ccsBlockDownload|blockDownloadEnd {
		return false, AbortCmd
	}
	if err := s.buf.truncate(int(s.frame.blockUnused())); err != nil {
		return false, AbortDeviceIncompat
	}
	total := s.blk.written + uint32(len(s.buf.bytes()))
	if !s.blk.open && total > s.blk.xferLen {
		return false, AbortDataLong
	}
	if !s.blk.open && total < s.blk.xferLen {
		return false, AbortDataShort
	}
	if err := s.finishWrite(s.buf.bytes()); err != nil {
		return false, err
	}
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"size":     total,
	}).Debug("[RX] block download end")
	s.frame.encodeBlockDownloadEnd()
	s.complete()
	return true, nil
}

func (s *SDOServer) blockInitUpload() (bool, error) {
	if err := s.openObject(false); err != nil {
		return false, err
	}
	blockSize := s.frame.initBlockSize()
	if blockSize < 1 || blockSize > BlockMaxSize {
		return false, AbortBlockSize
	}
	size, err := s.object.Size(0)
	if err != nil {
		return false, err
	}
	s.kind = transferUpload

	// Small objects are served with the regular upload protocol
	pst := uint32(s.frame.switchThreshold())
	if pst > 0 && size <= pst && (s.config.Segmented || (size > 0 && size <= ExpeditedMaxLen)) {
		s.logger.Debugf("[RX] block upload switched to regular upload, size %v <= %v", size, pst)
		return s.respondUpload(size)
	}

	s.startRead(size)
	s.buf.reset()
	s.blk = blockTransfer{
		state:     blockUpload,
		segNumMax: min(blockSize, s.maxSegments()),
		xferLen:   size,
		lastValid: lastValidUnknown,
	}
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"size":     size,
		"blksize":  s.blk.segNumMax,
	}).Debug("[RX] block upload initiate")
	s.frame.encodeBlockUploadInitiate(s.index, s.subIndex, size)
	return true, nil
}

func (s *SDOServer) blockUploadStart() (bool, error) {
	if s.object == nil || s.blk.state != blockUpload || s.blk.started {
		return false, AbortCmd
	}
	s.blk.started = true
	return false, s.sendBlock()
}

func (s *SDOServer) blockAckUpload() (bool, error) {
	if s.object == nil || s.blk.state != blockUpload || !s.blk.started || s.blk.ended {
		return false, AbortCmd
	}
	ackSeq, blockSize := s.frame.ackSeq()
	if ackSeq > maskSeqNo {
		return false, AbortSeqNum
	}
	if ackSeq != s.blk.segCnt {
		// Segments after ackSeq are sent again in the next block, renumbered
		// from 1. An ack beyond the last segment sent repeats the whole block.
		if ackSeq > s.blk.segCnt {
			ackSeq = 0
		}
		s.logger.WithFields(log.Fields{
			"ackseq": ackSeq,
			"sent":   s.blk.segCnt,
		}).Debug("[RX] block upload partial ack")
		if err := s.buf.rewind(int(ackSeq) * SegmentSize); err != nil {
			return false, AbortSeqNum
		}
		s.blk.state = blockRepeat
		s.blk.last = false
	}

	if s.blk.last && s.buf.remaining() == 0 && s.blk.xferLen == 0 {
		s.blk.ended = true
		s.frame.encodeBlockUploadEnd(SegmentSize - s.blk.lastValid)
		s.logger.WithFields(log.Fields{
			"index":    fmt.Sprintf("x%x", s.index),
			"subindex": fmt.Sprintf("x%x", s.subIndex),
		}).Debug("[TX] block upload end")
		return true, nil
	}
	if blockSize < 1 || blockSize > BlockMaxSize {
		return false, AbortBlockSize
	}
	s.blk.segNumMax = min(blockSize, s.maxSegments())
	return false, s.sendBlock()
}

// Stage and send the next block. Unacknowledged segments of the previous
// block are kept at the front of the buffer and sent first.
func (s *SDOServer) sendBlock() error {
	s.buf.compact()
	want := min(int(s.blk.segNumMax)*SegmentSize-s.buf.remaining(), int(s.blk.xferLen))
	if want > 0 {
		n, err := s.stage(want)
		s.blk.xferLen -= uint32(n)
		if err != nil {
			return err
		}
	}
	s.buf.markStart()
	s.blk.segCnt = 0
	for s.blk.segCnt < s.blk.segNumMax {
		data := s.buf.next(SegmentSize)
		s.blk.segCnt++
		last := s.buf.remaining() == 0 && s.blk.xferLen == 0
		if last {
			s.blk.last = true
			s.blk.lastValid = uint8(len(data))
		}
		s.frame.encodeBlockSegment(s.blk.segCnt, data, last)
		if err := s.send(); err != nil {
			// The client acknowledges what it received, the rest is repeated
			s.logger.Warnf("failed to send block segment %v : %v", s.blk.segCnt, err)
			s.blk.last = false
			break
		}
		if last {
			break
		}
	}
	s.blk.state = blockUpload
	return nil
}

func (s *SDOServer) blockEndUpload() (bool, error) {
	if s.object == nil || !s.blk.ended {
		return false, AbortCmd
	}
	s.logger.Debug("[RX] block upload end acknowledged")
	s.complete()
	return false, nil
}
