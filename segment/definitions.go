package segment

import "math/bits"

// Flags is the control bitfield of a segment header: ACK, RST, SYN, FIN.
// The remaining bits of the 16-bit field are reserved and must be zero.
type Flags uint16

const (
	FlagACK Flags = 1 << iota // FlagACK - Acknowledgment field significant.
	FlagRST                   // FlagRST - Reset the connection.
	FlagSYN                   // FlagSYN - Synchronize sequence numbers.
	FlagFIN                   // FlagFIN - No more data from sender.
)

const flagMask = 0x000f

// The union of SYN and FIN with ACK is common throughout the handshake and
// teardown paths, so we define unexported shorthands.
const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
)

// HasAll checks if mask bits are all set in the receiver flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny checks if one or more mask bits are set in receiver flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask returns the flags with reserved bits unset.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String returns a human readable flag string. i.e:
//
//	"[SYN,ACK]"
//
// Flags are printed in order from LSB (ACK) to MSB (FIN), except the
// handshake and teardown combinations, which print as "[SYN,ACK]" and
// "[FIN,ACK]".
func (flags Flags) String() string {
	// Cover the common cases without heap allocating.
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	case FlagRST:
		return "[RST]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount16(uint16(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// AppendFormat appends a human readable flag string to b returning the extended buffer.
func (flags Flags) AppendFormat(b []byte) []byte {
	if flags == 0 {
		return b
	}
	const flaglen = 3
	const strflags = "ACKRSTSYNFIN"
	var addcommas bool
	for flags = flags.Mask(); flags != 0; {
		i := bits.TrailingZeros16(uint16(flags))
		if addcommas {
			b = append(b, ',')
		} else {
			addcommas = true
		}
		b = append(b, strflags[i*flaglen:i*flaglen+flaglen]...)
		flags &= ^(1 << i)
	}
	return b
}
