package segment

import "hash/crc32"

//
// CRC API.
//

// crcTable is the IEEE CRC-32 table used for the segment checksum field.
var crcTable = crc32.MakeTable(crc32.IEEE)

// CRC32 calculates the checksum of data using the IEEE 802.3 CRC-32
// polynomial. The checksum field of a segment covers the entire serialized
// segment (header plus payload) with the checksum field itself zeroed.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}
