package canopen

const (
	SdoServerBaseId = 0x580
	SdoClientBaseId = 0x600

	// Bit 31 of a COB-ID entry, set when the object is not used
	CobIdInvalidFlag = uint32(0x80000000)
	// Bits that must be zero in an 11 bit COB-ID entry
	CobIdReservedMask = uint32(0x3FFFF800)
)

// Check if ID is restricted by CiA 301, it cannot be used
// by any of the communication objects
func IsIDRestricted(canId uint16) bool {
	return canId <= 0x7F ||
		(canId >= 0x101 && canId <= 0x180) ||
		(canId >= 0x581 && canId <= 0x5FF) ||
		(canId >= 0x601 && canId <= 0x67F) ||
		(canId >= 0x6E0 && canId <= 0x6FF) ||
		canId >= 0x701
}
