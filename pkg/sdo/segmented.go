package sdo

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

func (s *SDOServer) initDownload() (bool, error) {
	if err := s.openObject(true); err != nil {
		return false, err
	}
	s.kind = transferDownload
	if s.frame.expedited() {
		return s.downloadExpedited()
	}
	if !s.config.Segmented || s.frame[0]&maskInitDown != ccsDownloadInitiate {
		return false, AbortCmd
	}

	size, open, err := s.downloadSize(s.frame.sizeIndicated(), s.frame.size())
	if err != nil {
		return false, err
	}
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"size":     size,
		"open":     open,
	}).Debug("[RX] segmented download initiate")

	if err := s.startWrite(size, open); err != nil {
		return false, err
	}
	s.seg = segmentState{xferLen: size, open: open}
	s.frame.encodeDownloadInitiate(s.index, s.subIndex)
	return true, nil
}

func (s *SDOServer) downloadExpedited() (bool, error) {
	size := uint32(ExpeditedMaxLen)
	if s.frame.sizeIndicated() {
		size -= uint32(s.frame.expeditedUnused())
	} else if width, err := s.object.Size(0); err == nil && width > 0 && width < ExpeditedMaxLen {
		size = width
	}
	if _, err := s.object.Size(size); err != nil {
		return false, err
	}
	data := s.frame[4 : 4+size]
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"raw":      data,
	}).Debug("[RX] expedited download")

	if err := s.startWrite(size, false); err != nil {
		return false, err
	}
	s.buf.reset()
	if err := s.buf.put(data); err != nil {
		return false, err
	}
	if err := s.finishWrite(s.buf.bytes()); err != nil {
		return false, err
	}
	s.frame.encodeDownloadInitiate(s.index, s.subIndex)
	s.complete()
	return true, nil
}

func (s *SDOServer) downloadSegment() (bool, error) {
	if s.object == nil || s.kind != transferDownload || s.blk.state != blockIdle {
		return false, AbortCmd
	}
	if s.frame[0]&maskSegDownload != ccsDownloadSegment {
		return false, AbortCmd
	}
	toggle := s.frame.toggle()
	if toggle != s.seg.toggle {
		return false, AbortToggleBit
	}
	width := uint32(SegmentSize - s.frame.segmentUnused())
	if !s.seg.open {
		remaining := s.seg.xferLen - s.seg.num
		if s.frame.segmentUnused() == 0 {
			width = min(remaining, SegmentSize)
		}
		if width > remaining {
			return false, AbortDataLong
		}
	}
	last := s.frame.segmentLast()
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"raw":      s.frame[1 : 1+width],
	}).Debug("[RX] segmented download")

	s.buf.reset()
	if err := s.buf.put(s.frame[1 : 1+width]); err != nil {
		return false, err
	}
	s.seg.num += width
	if last && !s.seg.open && s.seg.num < s.seg.xferLen {
		return false, AbortDataShort
	}
	write := s.flush
	if last {
		write = s.finishWrite
	}
	if err := write(s.buf.bytes()); err != nil {
		return false, err
	}
	s.buf.reset()
	s.frame.encodeDownloadSegment(toggle)
	s.seg.toggle ^= bitToggle
	if last {
		s.complete()
	}
	return true, nil
}

func (s *SDOServer) initUpload() (bool, error) {
	if err := s.openObject(false); err != nil {
		return false, err
	}
	size, err := s.object.Size(0)
	if err != nil {
		return false, err
	}
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"size":     size,
	}).Debug("[RX] upload initiate")
	s.kind = transferUpload
	return s.respondUpload(size)
}

// Answer an upload request with an expedited response when the object
// fits, a segmented initiate response otherwise
func (s *SDOServer) respondUpload(size uint32) (bool, error) {
	expedited := size > 0 && size <= ExpeditedMaxLen
	if !expedited && !s.config.Segmented {
		return false, AbortCmd
	}
	s.startRead(size)
	s.buf.reset()
	if expedited {
		if _, err := s.stage(int(size)); err != nil {
			return false, err
		}
		s.frame.encodeUploadExpedited(s.index, s.subIndex, s.buf.bytes())
		s.complete()
		return true, nil
	}
	s.seg = segmentState{xferLen: size}
	s.frame.encodeUploadInitiate(s.index, s.subIndex, size)
	return true, nil
}

func (s *SDOServer) uploadSegment() (bool, error) {
	if s.object == nil || s.kind != transferUpload || s.blk.state != blockIdle {
		return false, AbortCmd
	}
	if s.frame[0]&maskSegUpload != ccsUploadSegment {
		return false, AbortCmd
	}
	toggle := s.frame.toggle()
	if toggle != s.seg.toggle {
		return false, AbortToggleBit
	}
	remaining := s.seg.xferLen - s.seg.num
	width := min(remaining, SegmentSize)
	if s.buf.remaining() < int(width) {
		s.buf.compact()
		want := min(int(remaining)-s.buf.remaining(), s.buf.free())
		if _, err := s.stage(want); err != nil {
			return false, err
		}
	}
	data := s.buf.next(int(width))
	if len(data) != int(width) {
		return false, AbortDataTransfer
	}
	last := remaining <= SegmentSize
	s.frame.encodeUploadSegment(toggle, data, last)
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"raw":      s.frame[1 : 1+width],
	}).Debug("[TX] segmented upload")
	s.seg.num += width
	s.seg.toggle ^= bitToggle
	if last {
		s.complete()
	}
	return true, nil
}
