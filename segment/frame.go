package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// HeaderSize is the fixed size of the segment header on the wire:
	// eight 32-bit words, network byte order, no padding.
	HeaderSize = 32

	offSeq      = 0
	offAck      = 4
	offFlags    = 8
	offWindow   = 10
	offDataLen  = 12
	offFuture   = 16
	offChecksum = 28
)

var (
	errShortBuffer  = errors.New("segment: buffer shorter than header")
	errSizeMismatch = errors.New("segment: data length field does not match buffer")
)

// Header is the parsed, transient representation of a segment header. A Header
// is constructed, serialized, sent and discarded within a single send call.
type Header struct {
	// Seq is the sender's next byte sequence number after this segment's payload.
	Seq uint32
	// Ack is the next sequence number expected from the peer.
	Ack uint32
	// Flags is the control bitfield. Reserved bits must be zero.
	Flags Flags
	// Window is reserved and zero.
	Window uint16
	// DataLen is the number of payload bytes following the header.
	DataLen uint32
	// Checksum is the CRC-32 over the entire segment computed with this
	// field zeroed.
	Checksum uint32
}

func (hdr Header) String() string {
	return fmt.Sprintf("SEQ=%d ACK=%d %s data=%d", hdr.Seq, hdr.Ack, hdr.Flags.String(), hdr.DataLen)
}

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer is smaller than the header.
// Users should still call [Frame.ValidateSize] before working
// with the payload of received frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, errShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a segment and provides methods for
// manipulating, validating and retrieving fields and payload data.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// Seq returns the sequence number field: the sender's next byte sequence
// number after this segment's payload.
func (frm Frame) Seq() uint32 {
	return binary.BigEndian.Uint32(frm.buf[offSeq:])
}

// SetSeq sets the sequence number field. See [Frame.Seq].
func (frm Frame) SetSeq(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[offSeq:], v)
}

// Ack returns the acknowledgment number field: the next sequence number
// expected from the peer.
func (frm Frame) Ack() uint32 {
	return binary.BigEndian.Uint32(frm.buf[offAck:])
}

// SetAck sets the acknowledgment number field. See [Frame.Ack].
func (frm Frame) SetAck(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[offAck:], v)
}

// Flags returns the control bitfield with reserved bits masked off.
func (frm Frame) Flags() Flags {
	return Flags(binary.BigEndian.Uint16(frm.buf[offFlags:])).Mask()
}

// SetFlags sets the control bitfield. See [Frame.Flags].
func (frm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(frm.buf[offFlags:], uint16(flags.Mask()))
}

// Window returns the window field. Reserved, zero on the wire.
func (frm Frame) Window() uint16 {
	return binary.BigEndian.Uint16(frm.buf[offWindow:])
}

// SetWindow sets the window field. See [Frame.Window].
func (frm Frame) SetWindow(v uint16) {
	binary.BigEndian.PutUint16(frm.buf[offWindow:], v)
}

// DataLen returns the number of payload bytes following the header.
func (frm Frame) DataLen() uint32 {
	return binary.BigEndian.Uint32(frm.buf[offDataLen:])
}

// SetDataLen sets the payload length field. See [Frame.DataLen].
func (frm Frame) SetDataLen(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[offDataLen:], v)
}

// Checksum returns the checksum field of the segment header.
func (frm Frame) Checksum() uint32 {
	return binary.BigEndian.Uint32(frm.buf[offChecksum:])
}

// SetChecksum sets the checksum field of the segment header. See [Frame.Checksum].
func (frm Frame) SetChecksum(v uint32) {
	binary.BigEndian.PutUint32(frm.buf[offChecksum:], v)
}

// Payload returns the payload content section of the segment.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (frm Frame) Payload() []byte {
	return frm.buf[HeaderSize : HeaderSize+int(frm.DataLen())]
}

// Header returns the [Header] representation of the frame's header fields.
func (frm Frame) Header() Header {
	return Header{
		Seq:      frm.Seq(),
		Ack:      frm.Ack(),
		Flags:    frm.Flags(),
		Window:   frm.Window(),
		DataLen:  frm.DataLen(),
		Checksum: frm.Checksum(),
	}
}

// SetHeader writes all header fields of hdr into the frame, including the
// reserved words which are zeroed.
func (frm Frame) SetHeader(hdr Header) {
	frm.SetSeq(hdr.Seq)
	frm.SetAck(hdr.Ack)
	frm.SetFlags(hdr.Flags)
	frm.SetWindow(hdr.Window)
	frm.SetDataLen(hdr.DataLen)
	binary.BigEndian.PutUint32(frm.buf[offFuture:], 0)
	binary.BigEndian.PutUint32(frm.buf[offFuture+4:], 0)
	binary.BigEndian.PutUint32(frm.buf[offFuture+8:], 0)
	frm.SetChecksum(hdr.Checksum)
}

// ClearHeader zeros out the header contents.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:HeaderSize] {
		frm.buf[i] = 0
	}
}

// CalculateChecksum computes the CRC-32 over the entire frame as if the
// checksum field were zero. The frame contents are not modified.
func (frm Frame) CalculateChecksum() uint32 {
	var zeros [4]byte
	crc := crc32.Checksum(frm.buf[:offChecksum], crcTable)
	crc = crc32.Update(crc, crcTable, zeros[:])
	return crc32.Update(crc, crcTable, frm.buf[offChecksum+4:])
}

// VerifyChecksum recomputes the checksum cover and compares it against the
// stored checksum field.
func (frm Frame) VerifyChecksum() bool {
	return frm.CalculateChecksum() == frm.Checksum()
}

func (frm Frame) String() string {
	return "microtcp " + frm.Header().String()
}

// ValidateSize checks the frame's length field against the actual buffer.
// It returns a non-nil error on finding an inconsistency.
func (frm Frame) ValidateSize() error {
	if HeaderSize+int(frm.DataLen()) != len(frm.buf) {
		return errSizeMismatch
	}
	return nil
}

// Append serializes hdr followed by payload into dst and returns the extended
// buffer. The DataLen and Checksum fields of hdr are overwritten: DataLen is
// set from payload and Checksum is computed over the serialized bytes with
// the checksum field zeroed, then patched in place.
func Append(dst []byte, hdr Header, payload []byte) []byte {
	hdr.DataLen = uint32(len(payload))
	hdr.Checksum = 0
	off := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	Frame{buf: dst[off:]}.SetHeader(hdr)
	dst = append(dst, payload...)
	frm := Frame{buf: dst[off:]}
	frm.SetChecksum(frm.CalculateChecksum())
	return dst
}

// Parse interprets buf as one serialized segment and returns its header and
// payload. Parsing is structural only: the payload length must account for
// exactly the bytes following the header. Semantic validation (checksum,
// flags) happens at the call site.
func Parse(buf []byte) (Header, []byte, error) {
	frm, err := NewFrame(buf)
	if err != nil {
		return Header{}, nil, err
	}
	if err := frm.ValidateSize(); err != nil {
		return Header{}, nil, err
	}
	return frm.Header(), frm.Payload(), nil
}
