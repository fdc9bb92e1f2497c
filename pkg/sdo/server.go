package sdo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	canopen "github.com/samsamfire/gocanopen-sdo"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultServerTimeout = 1000 * time.Millisecond
	DefaultLockTimeout   = 500 * time.Millisecond

	lastValidUnknown = 0xFF
)

// Object is the access to a single (index, subindex) of a [Directory].
// [od.Access] implements it.
type Object interface {
	ReadOnly() bool
	Readable() bool
	Writable() bool
	VariableLength() bool
	Size(hint uint32) (uint32, error)
	StartRead(size uint32) error
	ContinueRead(dst []byte) (int, error)
	StartWrite(size uint32) error
	StartWriteUnknownSize() error
	ContinueWrite(src []byte) error
	FinishWrite(src []byte) error
	Close()
}

// Directory resolves the object addressed by a transfer
type Directory interface {
	Object(index uint16, subIndex uint8) (Object, error)
}

// Locker guards access to writable objects
type Locker interface {
	Acquire(timeout time.Duration) error
	Release()
}

type odDirectory struct {
	odict *od.ObjectDictionary
}

func (d odDirectory) Object(index uint16, subIndex uint8) (Object, error) {
	access, err := d.odict.Access(index, subIndex)
	if err != nil {
		return nil, err
	}
	return access, nil
}

// NewDirectory returns a [Directory] backed by an object dictionary
func NewDirectory(odict *od.ObjectDictionary) Directory {
	return odDirectory{odict: odict}
}

type blockState uint8

const (
	blockIdle blockState = iota
	blockDownload
	blockDownloadWait
	blockUpload
	blockRepeat
)

func (state blockState) String() string {
	switch state {
	case blockIdle:
		return "idle"
	case blockDownload:
		return "download"
	case blockDownloadWait:
		return "download wait"
	case blockUpload:
		return "upload"
	case blockRepeat:
		return "repeat"
	default:
		return "unknown"
	}
}

type transferKind uint8

const (
	transferNone transferKind = iota
	transferDownload
	transferUpload
)

type segmentState struct {
	xferLen uint32 // Total size of the transfer
	num     uint32 // Bytes transferred so far
	toggle  uint8  // Next toggle bit expected from the client
	open    bool   // Download: size not indicated, the last segment ends the transfer
}

type blockTransfer struct {
	state     blockState
	segCnt    uint8  // Last good segment of the block, bit 7 flags a sequence error
	segNumMax uint8  // Negotiated block size
	xferLen   uint32 // Download: bytes announced, Upload: bytes not read from object yet
	open      bool   // Download: size not indicated, the end request ends the transfer
	written   uint32 // Download: bytes already written to object
	lastValid uint8  // Valid bytes of the last segment of the transfer
	last      bool   // Download: last segment received, Upload: last segment sent
	started   bool   // Upload: first block requested
	ended     bool   // Upload: end of transfer sent
}

// Counters of a server, see [SDOServer.Stats]
type Counters struct {
	ObjReadFail  uint32
	ObjWriteFail uint32
	Aborts       uint32
	Transfers    uint32
}

// ServerConfig holds the construction time parameters of an [SDOServer]
type ServerConfig struct {
	// Segmented and Block enable the corresponding sub protocols
	Segmented   bool
	Block       bool
	MaxSegments uint8
	LockTimeout time.Duration
	Timeout     time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Segmented:   true,
		Block:       true,
		MaxSegments: BlockMaxSize,
		LockTimeout: DefaultLockTimeout,
		Timeout:     DefaultServerTimeout,
	}
}

// SDOServer answers the SDO requests of one SDO channel.
// Each received frame is processed to completion inside [SDOServer.Handle].
type SDOServer struct {
	bm        *canopen.BusManager
	logger    *log.Entry
	mu        sync.Mutex
	directory Directory
	locker    Locker
	config    ServerConfig
	nodeId    uint8
	now       func() time.Time

	// COB-ID configuration, may change from a write to 0x1201..0x127F
	cfgMu               sync.Mutex
	cobIdClientToServer uint32
	cobIdServerToClient uint32
	clientNodeId        uint8
	rxId                uint32
	rxListener          can.FrameListener
	valid               bool
	resetPending        atomic.Bool

	// Transfer state
	txId         uint32
	frame        frameData
	object       Object
	kind         transferKind
	index        uint16
	subIndex     uint8
	seg          segmentState
	blk          blockTransfer
	buf          *transferBuffer
	counters     Counters
	lastActivity time.Time
}

// Handle [SDOServer] related RX CAN frames
func (s *SDOServer) Handle(frame can.Frame) {
	if frame.DLC != 8 {
		return
	}
	s.cfgMu.Lock()
	valid := s.valid
	txId := s.cobIdServerToClient & can.CanSffMask
	s.cfgMu.Unlock()
	if !valid {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetPending.Swap(false) {
		s.reset()
	}
	s.txId = txId
	s.frame = frame.Data
	s.lastActivity = s.now()
	s.process()
}

func (s *SDOServer) process() {
	reply, err := s.dispatch()
	if err != nil {
		s.sendAbort(toAbortCode(err))
		return
	}
	if reply {
		if err := s.send(); err != nil {
			s.logger.Warnf("failed to send response : %v", err)
		}
	}
}

// Select the sub protocol from the command byte. Returns whether the
// response written in frame should be sent.
func (s *SDOServer) dispatch() (bool, error) {
	if s.frame[0] == csAbort {
		s.logger.WithFields(log.Fields{
			"index":    fmt.Sprintf("x%x", s.frame.index()),
			"subindex": fmt.Sprintf("x%x", s.frame.subIndex()),
			"code":     fmt.Sprintf("x%x", s.frame.size()),
		}).Debug("[RX] abort")
		s.reset()
		return false, nil
	}
	// During the sub-block phase of a block download frames carry
	// a sequence number instead of a command
	if s.blk.state == blockDownload || (s.blk.state == blockDownloadWait && !s.blk.last) {
		return s.blockDownloadSegment()
	}

	switch s.frame.command() {
	case ccsDownloadInitiate:
		return s.initDownload()
	case ccsUploadInitiate:
		return s.initUpload()
	case ccsDownloadSegment:
		if s.config.Segmented {
			return s.downloadSegment()
		}
	case ccsUploadSegment:
		if s.config.Segmented {
			return s.uploadSegment()
		}
	case ccsBlockUpload:
		if !s.config.Block {
			break
		}
		switch s.frame.subCommand() {
		case blockUploadInitiate:
			return s.blockInitUpload()
		case blockUploadEnd:
			return s.blockEndUpload()
		case blockUploadAck:
			return s.blockAckUpload()
		case blockUploadStart:
			return s.blockUploadStart()
		}
	case ccsBlockDownload:
		if !s.config.Block {
			break
		}
		if s.frame[0]&bitSegLast == blockDownloadInitiate {
			return s.blockInitDownload()
		}
		return s.blockEndDownload()
	}
	return false, AbortCmd
}

// Resolve the object addressed by an initiate request.
// A transfer in progress is dropped.
func (s *SDOServer) openObject(write bool) error {
	s.reset()
	s.index = s.frame.index()
	s.subIndex = s.frame.subIndex()
	object, err := s.directory.Object(s.index, s.subIndex)
	if err != nil {
		return err
	}
	if write && !object.Writable() {
		return AbortReadOnly
	}
	if !write && !object.Readable() {
		return AbortWriteOnly
	}
	s.object = object
	return nil
}

// Run fn on the current object, under lock unless the object is read only
func (s *SDOServer) access(fn func(object Object) error) error {
	if s.object == nil {
		return AbortCmd
	}
	if s.locker != nil && !s.object.ReadOnly() {
		if err := s.locker.Acquire(s.config.LockTimeout); err != nil {
			return err
		}
		defer s.locker.Release()
	}
	return fn(s.object)
}

// Open the current object for reading. A failure is counted only,
// the transfer fails on the first read.
func (s *SDOServer) startRead(size uint32) {
	err := s.access(func(object Object) error { return object.StartRead(size) })
	if err != nil {
		s.counters.ObjReadFail++
		s.logger.Warnf("x%x:x%x failed to start read : %v", s.index, s.subIndex, err)
	}
}

// Size of a download from the initiate request. Without size indication
// a variable length object takes whatever the client sends (open is true),
// a fixed size object expects its own width.
func (s *SDOServer) downloadSize(indicated bool, declared uint32) (size uint32, open bool, err error) {
	switch {
	case !indicated && s.object.VariableLength():
		return 0, true, nil
	case !indicated:
		size, err = s.object.Size(0)
		return size, false, err
	case declared == 0 && s.object.VariableLength():
		return 0, false, nil
	case declared == 0:
		return 0, false, AbortDataShort
	}
	size, err = s.object.Size(declared)
	return size, false, err
}

func (s *SDOServer) startWrite(size uint32, open bool) error {
	err := s.access(func(object Object) error {
		if open {
			return object.StartWriteUnknownSize()
		}
		return object.StartWrite(size)
	})
	if err != nil {
		s.counters.ObjWriteFail++
		s.logger.Warnf("x%x:x%x failed to start write : %v", s.index, s.subIndex, err)
		return AbortDataTransfer
	}
	return nil
}

// Read n bytes of the current object at the end of the transfer buffer
func (s *SDOServer) stage(n int) (int, error) {
	total := 0
	err := s.access(func(object Object) error {
		for total < n {
			chunk := s.buf.tail(n - total)
			if len(chunk) == 0 {
				return ErrBufferOverflow
			}
			count, err := object.ContinueRead(chunk)
			if err != nil {
				return err
			}
			if count == 0 {
				return od.ErrNoData
			}
			if err := s.buf.grow(count); err != nil {
				return err
			}
			total += count
		}
		return nil
	})
	if err != nil {
		s.counters.ObjReadFail++
		s.logger.Warnf("x%x:x%x failed to read : %v", s.index, s.subIndex, err)
		return total, AbortDataTransfer
	}
	return total, nil
}

// Write data to the current object
func (s *SDOServer) flush(data []byte) error {
	err := s.access(func(object Object) error { return object.ContinueWrite(data) })
	if err != nil {
		s.counters.ObjWriteFail++
		s.logger.Warnf("x%x:x%x failed to write : %v", s.index, s.subIndex, err)
		return AbortDataTransfer
	}
	return nil
}

// Write the last chunk of data to the current object
func (s *SDOServer) finishWrite(data []byte) error {
	err := s.access(func(object Object) error { return object.FinishWrite(data) })
	if err != nil {
		s.counters.ObjWriteFail++
		s.logger.Warnf("x%x:x%x failed to write : %v", s.index, s.subIndex, err)
		return AbortDataTransfer
	}
	return nil
}

// Transfer finished successfully
func (s *SDOServer) complete() {
	s.counters.Transfers++
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
	}).Debug("transfer complete")
	s.reset()
}

func (s *SDOServer) send() error {
	return s.bm.Send(can.Frame{ID: s.txId, DLC: 8, Data: s.frame})
}

// Emit an abort frame for the current object then reset the server
func (s *SDOServer) sendAbort(code SDOAbortCode) {
	s.logger.WithFields(log.Fields{
		"index":    fmt.Sprintf("x%x", s.index),
		"subindex": fmt.Sprintf("x%x", s.subIndex),
		"code":     fmt.Sprintf("x%x", uint32(code)),
	}).Warnf("[TX] abort : %v", code.Description())
	s.frame.encodeAbort(s.index, s.subIndex, code)
	s.counters.Aborts++
	if err := s.send(); err != nil {
		s.logger.Warnf("failed to send abort : %v", err)
	}
	s.reset()
}

func (s *SDOServer) reset() {
	if s.object != nil {
		s.object.Close()
	}
	s.object = nil
	s.kind = transferNone
	s.index = 0
	s.subIndex = 0
	s.seg = segmentState{}
	s.blk = blockTransfer{lastValid: lastValidUnknown}
	s.buf.reset()
}

// Number of segments per block this server can stage
func (s *SDOServer) maxSegments() uint8 {
	return min(s.config.MaxSegments, uint8(s.buf.capacity()/SegmentSize))
}

// AbortReq cancels any transfer in progress without notifying the client.
// It can be called in any state.
func (s *SDOServer) AbortReq() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Abort the transfer in progress with [AbortTimeout] if the client did
// not send anything for longer than the server timeout
func (s *SDOServer) CheckTimeout(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.object == nil || s.config.Timeout <= 0 {
		return false
	}
	if now.Sub(s.lastActivity) < s.config.Timeout {
		return false
	}
	s.cfgMu.Lock()
	s.txId = s.cobIdServerToClient & can.CanSffMask
	s.cfgMu.Unlock()
	s.sendAbort(AbortTimeout)
	return true
}

// Busy is true while a transfer is in progress
func (s *SDOServer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.object != nil
}

// Stats returns a copy of the server counters
func (s *SDOServer) Stats() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Valid is true when both COB-IDs of the channel are enabled
func (s *SDOServer) Valid() bool {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.valid
}

// CobIds returns the client to server and server to client COB-IDs
func (s *SDOServer) CobIds() (uint32, uint32) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cobIdClientToServer, s.cobIdServerToClient
}

// SetRxListener routes received frames through listener instead of
// calling [SDOServer.Handle] directly. listener should call Handle.
func (s *SDOServer) SetRxListener(listener can.FrameListener) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if s.rxId != 0 {
		s.bm.Unsubscribe(s.rxId, false, s.rxListener)
		if err := s.bm.Subscribe(s.rxId, 0x7FF, false, listener); err != nil {
			return err
		}
	}
	s.rxListener = listener
	return nil
}

// Close unsubscribes the server from the bus
func (s *SDOServer) Close() {
	s.cfgMu.Lock()
	if s.rxId != 0 {
		s.bm.Unsubscribe(s.rxId, false, s.rxListener)
		s.rxId = 0
	}
	s.valid = false
	s.cfgMu.Unlock()
	s.AbortReq()
}

// Configure the channel, caller holds cfgMu
func (s *SDOServer) initRxTx(cobIdClientToServer uint32, cobIdServerToClient uint32) error {
	s.cobIdClientToServer = cobIdClientToServer
	s.cobIdServerToClient = cobIdServerToClient

	// Check the valid bit
	var canIdC2S, canIdS2C uint32
	if cobIdClientToServer&canopen.CobIdInvalidFlag == 0 {
		canIdC2S = cobIdClientToServer & can.CanSffMask
	}
	if cobIdServerToClient&canopen.CobIdInvalidFlag == 0 {
		canIdS2C = cobIdServerToClient & can.CanSffMask
	}
	if s.rxId != 0 {
		s.bm.Unsubscribe(s.rxId, false, s.rxListener)
		s.rxId = 0
	}
	// Any transfer in progress belongs to the previous configuration
	s.resetPending.Store(true)
	if canIdC2S == 0 || canIdS2C == 0 {
		s.valid = false
		return nil
	}
	s.valid = true
	if err := s.bm.Subscribe(canIdC2S, 0x7FF, false, s.rxListener); err != nil {
		s.valid = false
		return err
	}
	s.rxId = canIdC2S
	return nil
}

// Create a new SDO server for the parameter entry entry12xx (0x1200..0x127F).
// The default channel 0x1200 uses the predefined COB-IDs of nodeId.
func NewSDOServer(
	bm *canopen.BusManager,
	logger *log.Entry,
	directory Directory,
	locker Locker,
	nodeId uint8,
	entry12xx *od.Entry,
	config ServerConfig,
) (*SDOServer, error) {
	if bm == nil || directory == nil || entry12xx == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if config.MaxSegments < 1 || config.MaxSegments > BlockMaxSize {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	s := &SDOServer{
		bm:        bm,
		directory: directory,
		locker:    locker,
		config:    config,
		nodeId:    nodeId,
		now:       time.Now,
		buf:       newTransferBuffer(int(config.MaxSegments) * SegmentSize),
	}
	s.logger = logger.WithFields(log.Fields{"service": "[SDO]", "channel": fmt.Sprintf("x%x", entry12xx.Index)})
	s.rxListener = s
	s.blk.lastValid = lastValidUnknown

	var cobIdClientToServer, cobIdServerToClient uint32
	switch {
	case entry12xx.Index == od.EntrySDOServerParameter:
		// Default channel
		if nodeId < 1 || nodeId > 127 {
			s.logger.Errorf("node id is not valid : %v", nodeId)
			return nil, canopen.ErrIllegalArgument
		}
		cobIdClientToServer = canopen.SdoClientBaseId + uint32(nodeId)
		cobIdServerToClient = canopen.SdoServerBaseId + uint32(nodeId)
		err1 := entry12xx.PutUint32(1, cobIdClientToServer, true)
		err2 := entry12xx.PutUint32(2, cobIdServerToClient, true)
		if err1 != nil || err2 != nil {
			return nil, canopen.ErrOdParameters
		}
	case entry12xx.Index > od.EntrySDOServerParameter && entry12xx.Index <= od.EntrySDOServerParameterLast:
		// Additional channels
		maxSubIndex, err0 := entry12xx.Uint8(0)
		c2s, err1 := entry12xx.Uint32(1)
		s2c, err2 := entry12xx.Uint32(2)
		if err0 != nil || (maxSubIndex != 2 && maxSubIndex != 3) || err1 != nil || err2 != nil {
			s.logger.Errorf("error getting server params : %v, %v, %v (max subindex %v)", err0, err1, err2, maxSubIndex)
			return nil, canopen.ErrOdParameters
		}
		if maxSubIndex == 3 {
			s.clientNodeId, _ = entry12xx.Uint8(3)
		}
		cobIdClientToServer, cobIdServerToClient = c2s, s2c
		entry12xx.AddExtension(s, od.ReadEntryDefault, writeEntry1201)
	default:
		return nil, canopen.ErrIllegalArgument
	}
	s.cfgMu.Lock()
	err := s.initRxTx(cobIdClientToServer, cobIdServerToClient)
	s.cfgMu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}
