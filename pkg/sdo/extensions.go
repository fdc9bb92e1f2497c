package sdo

import (
	"encoding/binary"

	canopen "github.com/samsamfire/gocanopen-sdo"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
)

// [SDOServer] update server parameters of an additional channel
func writeEntry1201(stream *od.Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || countWritten == nil {
		return od.ErrDevIncompat
	}
	server, ok := stream.Object.(*SDOServer)
	if !ok {
		return od.ErrDevIncompat
	}
	switch stream.Subindex {
	case 0:
		return od.ErrReadonly
	// cob id client to server / server to client
	case 1, 2:
		if len(data) != 4 {
			return od.ErrTypeMismatch
		}
		cobId := binary.LittleEndian.Uint32(data)
		server.cfgMu.Lock()
		c2s, s2c := server.cobIdClientToServer, server.cobIdServerToClient
		current := c2s
		if stream.Subindex == 2 {
			current = s2c
		}
		canId := uint16(cobId & 0x7FF)
		valid := cobId&canopen.CobIdInvalidFlag == 0
		if cobId&canopen.CobIdReservedMask != 0 ||
			(valid && current&canopen.CobIdInvalidFlag == 0 && canId != uint16(current&0x7FF)) ||
			(valid && canopen.IsIDRestricted(canId)) {
			server.cfgMu.Unlock()
			return od.ErrInvalidValue
		}
		if stream.Subindex == 1 {
			c2s = cobId
		} else {
			s2c = cobId
		}
		err := server.initRxTx(c2s, s2c)
		server.cfgMu.Unlock()
		if err != nil {
			server.logger.Errorf("failed to update channel : %v", err)
			return od.ErrDevIncompat
		}
	// node id of client
	case 3:
		if len(data) != 1 {
			return od.ErrTypeMismatch
		}
		nodeId := data[0]
		if nodeId < 1 || nodeId > 127 {
			return od.ErrInvalidValue
		}
		server.cfgMu.Lock()
		server.clientNodeId = nodeId
		server.cfgMu.Unlock()
	default:
		return od.ErrSubNotExist
	}
	return od.WriteEntryDefault(stream, data, countWritten)
}
