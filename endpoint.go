package microtcp

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Angelos-Dimoglis/microTCP/segment"
	"github.com/Angelos-Dimoglis/microTCP/siphash"
	"github.com/rs/xid"
)

const (
	// MSS is the largest payload a single segment may carry.
	MSS = 1400
	// RecvBufSize is the size of the endpoint receive buffer. It must hold a
	// full segment: header plus MSS payload bytes.
	RecvBufSize = segment.HeaderSize + MSS
)

// RecvFlags modify the behavior of [Endpoint.Recv].
type RecvFlags uint8

const (
	// FlagWaitAll keeps Recv reading segments until the user buffer is full
	// or the stream ends.
	FlagWaitAll RecvFlags = 1 << iota
)

// EndpointConfig configures a new [Endpoint].
type EndpointConfig struct {
	// Rand supplies entropy for the handshake key. Nil defaults to the OS
	// entropy source (crypto/rand).
	Rand io.Reader
	// Logger receives endpoint events. Nil disables logging.
	Logger *slog.Logger
}

// Endpoint is one end of a microTCP connection. It owns its UDP socket,
// receive buffer and counters exclusively and must be driven by a single
// goroutine: all blocking happens on the socket reads inside [Endpoint.Accept]
// (the SYN wait) and [Endpoint.Recv], and in the inline acknowledgment wait of
// the send path.
type Endpoint struct {
	sd    *net.UDPConn
	saddr *net.UDPAddr
	daddr *net.UDPAddr
	state State

	// seq is the local stream position: the sequence number of the next byte
	// after the last payload sent. ack is the next sequence number expected
	// from the peer; peerSeq holds the seq field of the peer's SYN or of the
	// last acknowledgment consumed by the send path.
	seq     uint32
	ack     uint32
	peerSeq uint32

	key     siphash.Key
	recvbuf []byte
	txbuf   []byte

	counters counters
	id       xid.ID
	logger
}

// NewEndpoint returns an endpoint in the INVALID state, ready for Bind. The
// handshake key is drawn once from the configured entropy source; on entropy
// failure no endpoint is returned and there is no deterministic fallback.
func NewEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	key, err := siphash.NewKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("microtcp: handshake key: %w", err)
	}
	id := xid.New()
	log := cfg.Logger
	if log != nil {
		log = log.With(slog.String("id", id.String()))
	}
	return &Endpoint{
		state:  StateInvalid,
		key:    key,
		id:     id,
		logger: logger{log: log},
	}, nil
}

// State returns the current FSM state of the endpoint.
func (e *Endpoint) State() State { return e.state }

// LocalAddr returns the bound local address, nil before Bind.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.saddr }

// RemoteAddr returns the pinned peer address, nil outside connected states.
func (e *Endpoint) RemoteAddr() *net.UDPAddr {
	if !e.state.hasPeer() {
		return nil
	}
	return e.daddr
}

// ID returns the endpoint's log correlation id.
func (e *Endpoint) ID() xid.ID { return e.id }

// SetReadDeadline sets the receive deadline on the underlying socket. The
// core has no timers of its own; a deadline expiry surfaces as an I/O error
// from the blocked operation and invalidates the endpoint.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	if e.sd == nil {
		return ErrNotConnected
	}
	return e.sd.SetReadDeadline(t)
}

// Bind binds the endpoint's UDP socket to the local address addr and
// transitions INVALID to BOUND.
func (e *Endpoint) Bind(addr *net.UDPAddr) error {
	if e.state != StateInvalid || e.sd != nil {
		return ErrWrongState
	}
	sd, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("microtcp: bind: %w", err)
	}
	e.sd = sd
	e.saddr = sd.LocalAddr().(*net.UDPAddr)
	e.state = StateBound
	e.debug("bind", slog.String("laddr", e.saddr.String()))
	return nil
}

// Connect performs the active open towards raddr: it pins the peer, sends the
// SYN carrying the derived initial sequence number, consumes the peer's
// SYN+ACK through the inline acknowledgment wait and completes the handshake
// with a pure ACK. On success the endpoint is ESTABLISHED.
func (e *Endpoint) Connect(raddr *net.UDPAddr) error {
	if e.state != StateBound {
		return e.invalidate("connect", ErrWrongState)
	}
	if err := e.associate(raddr); err != nil {
		return e.invalidate("connect", err)
	}
	e.daddr = raddr
	e.allocbufs()
	e.seq = e.isn()
	if err := e.sendSegment(segment.FlagSYN, nil); err != nil {
		return e.invalidate("connect", err)
	}
	e.state = StateSynSent
	e.ack = e.peerSeq + 1
	if err := e.sendSegment(segment.FlagACK, nil); err != nil {
		return e.invalidate("connect", err)
	}
	e.state = StateEstablished
	e.debug("connect", slog.String("raddr", raddr.String()))
	return nil
}

// Accept performs the passive open: it blocks for a SYN from any peer, pins
// that peer on the socket, answers with SYN+ACK and consumes the final ACK
// through the inline acknowledgment wait. On success the endpoint is
// ESTABLISHED. Accept serves exactly one connection; there is no backlog.
func (e *Endpoint) Accept() error {
	if e.state != StateBound {
		return e.invalidate("accept", ErrWrongState)
	}
	e.allocbufs()
	e.state = StateListen
	e.debug("listen")
	n, raddr, err := e.sd.ReadFromUDP(e.recvbuf)
	if err != nil {
		return e.invalidate("accept", fmt.Errorf("microtcp: accept: %w", err))
	}
	e.counters.packetsReceived.Add(1)
	e.daddr = raddr
	e.state = StateSynRcvd
	if err := e.associate(raddr); err != nil {
		return e.invalidate("accept", err)
	}
	hdr, err := e.checkSegment(e.recvbuf[:n])
	if err != nil {
		return e.invalidate("accept", err)
	}
	if !hdr.Flags.HasAll(segment.FlagSYN) {
		return e.invalidate("accept", fmt.Errorf("%w: expected SYN, got %s", ErrIntegrity, hdr.Flags))
	}
	e.peerSeq = hdr.Seq
	e.ack = hdr.Seq + 1
	e.seq = e.isn()
	if err := e.sendSegment(segment.FlagSYN|segment.FlagACK, nil); err != nil {
		return e.invalidate("accept", err)
	}
	e.state = StateEstablished
	e.debug("accept", slog.String("raddr", raddr.String()))
	return nil
}

// Shutdown dissolves the connection with a FIN+ACK exchange. Called on an
// ESTABLISHED endpoint it initiates teardown and blocks for the peer's
// FIN+ACK; called reentrantly after Recv observed a peer FIN, the emitted
// FIN+ACK is itself the closing acknowledgment. Shutdown is idempotent on a
// CLOSED endpoint.
func (e *Endpoint) Shutdown() error {
	switch e.state {
	case StateClosed:
		return nil
	case StateEstablished:
		if err := e.sendSegment(segment.FlagFIN|segment.FlagACK, nil); err != nil {
			return e.invalidate("shutdown", err)
		}
		e.state = StateClosingByHost
		if _, err := e.Recv(nil, 0); err != nil {
			return e.invalidate("shutdown", err)
		}
		e.close()
		return nil
	case StateClosingByPeer:
		if err := e.sendSegment(segment.FlagFIN|segment.FlagACK, nil); err != nil {
			return e.invalidate("shutdown", err)
		}
		e.close()
		return nil
	default:
		return ErrWrongState
	}
}

// Send transmits buf as a sequence of MSS-bounded data segments. Each segment
// is acknowledged synchronously before the next is sent (stop-and-wait), so a
// successful return means the peer acknowledged every byte. A zero-length buf
// emits exactly one empty data segment.
func (e *Endpoint) Send(buf []byte) (int, error) {
	if e.state != StateEstablished {
		return 0, ErrWrongState
	}
	if len(buf) == 0 {
		if err := e.sendSegment(0, nil); err != nil {
			return 0, e.invalidate("send", err)
		}
		return 0, nil
	}
	var sent int
	for remaining := buf; len(remaining) > 0; {
		step := min(MSS, len(remaining))
		if err := e.sendSegment(0, remaining[:step]); err != nil {
			return sent, e.invalidate("send", err)
		}
		sent += step
		remaining = remaining[step:]
	}
	return sent, nil
}

// Recv blocks for the next segment and copies its payload into buf,
// acknowledging every data segment inline. A peer FIN ends the stream:
// Recv completes the teardown via [Endpoint.Shutdown] and returns [io.EOF].
// With [FlagWaitAll] set Recv keeps reading until buf is full.
func (e *Endpoint) Recv(buf []byte, flags RecvFlags) (int, error) {
	if e.state == StateClosed || e.state == StateInvalid {
		return 0, ErrNotConnected
	}
	var copied int
	for {
		n, err := e.sd.Read(e.recvbuf)
		if err != nil {
			return copied, e.invalidate("recv", fmt.Errorf("microtcp: recv: %w", err))
		}
		e.counters.packetsReceived.Add(1)
		hdr, err := e.checkSegment(e.recvbuf[:n])
		if err != nil {
			return copied, e.invalidate("recv", err)
		}
		e.traceSeg("rcv", hdr)
		if hdr.DataLen > 0 && e.state != StateEstablished {
			return copied, e.invalidate("recv", ErrNotConnected)
		}
		if hdr.Flags.HasAny(segment.FlagFIN) && !e.state.IsClosing() {
			e.state = StateClosingByPeer
			if err := e.Shutdown(); err != nil {
				return copied, err
			}
			return copied, io.EOF
		}
		step := min(len(buf)-copied, int(hdr.DataLen))
		copied += copy(buf[copied:], e.recvbuf[segment.HeaderSize:segment.HeaderSize+step])
		e.counters.bytesReceived.Add(uint64(step))
		e.ack += uint32(step)
		if err := e.sendSegment(segment.FlagACK, nil); err != nil {
			return copied, e.invalidate("recv", err)
		}
		if copied == len(buf) || flags&FlagWaitAll == 0 {
			return copied, nil
		}
	}
}

// isn derives the initial sequence number from the connection 4-tuple keyed
// with the endpoint's handshake key, truncated to 32 bits.
func (e *Endpoint) isn() uint32 {
	ports := uint32(e.saddr.Port)<<16 | uint32(e.daddr.Port)
	return uint32(siphash.Hash3u32(u32FromIP(e.saddr.IP), u32FromIP(e.daddr.IP), ports, e.key, 2, 4))
}

func (e *Endpoint) allocbufs() {
	e.recvbuf = make([]byte, RecvBufSize)
	e.txbuf = make([]byte, 0, segment.HeaderSize+MSS)
}

// sendSegment serializes one segment and transmits it. The sequence number is
// advanced by the payload length first: the seq field names the next byte
// after this segment's payload. Any segment that initiates a handshake (SYN
// set) or advances the byte stream without acknowledging (ACK unset) is
// followed by a synchronous acknowledgment wait.
func (e *Endpoint) sendSegment(flags segment.Flags, payload []byte) error {
	e.seq += uint32(len(payload))
	hdr := segment.Header{
		Seq:     e.seq,
		Ack:     e.ack,
		Flags:   flags,
		DataLen: uint32(len(payload)),
	}
	e.txbuf = segment.Append(e.txbuf[:0], hdr, payload)
	if _, err := e.sd.Write(e.txbuf); err != nil {
		return fmt.Errorf("microtcp: send: %w", err)
	}
	e.counters.packetsSent.Add(1)
	e.counters.bytesSent.Add(uint64(len(payload)))
	e.traceSeg("snd", hdr)
	if flags.HasAny(segment.FlagSYN) || !flags.HasAny(segment.FlagACK) {
		return e.awaitAck()
	}
	return nil
}

// awaitAck blocks for one segment, verifies its integrity and ACK flag and
// records its sequence number as peerSeq. The peer's sender is blocked
// here between every pair of segments, which is what serializes the stream.
func (e *Endpoint) awaitAck() error {
	n, err := e.sd.Read(e.recvbuf)
	if err != nil {
		return fmt.Errorf("microtcp: await ack: %w", err)
	}
	e.counters.packetsReceived.Add(1)
	hdr, err := e.checkSegment(e.recvbuf[:n])
	if err != nil {
		return err
	}
	if !hdr.Flags.HasAny(segment.FlagACK) {
		return fmt.Errorf("%w: expected ACK, got %s", ErrIntegrity, hdr.Flags)
	}
	// The acknowledgment names the peer's position in our stream; only its
	// sequence number feeds into our accounting. ack keeps naming the next
	// byte expected from the peer.
	e.peerSeq = hdr.Seq
	e.traceSeg("rcv-ack", hdr)
	return nil
}

// checkSegment runs the structural and checksum validation every received
// segment must pass, regardless of state.
func (e *Endpoint) checkSegment(raw []byte) (segment.Header, error) {
	frm, err := segment.NewFrame(raw)
	if err != nil {
		e.counters.packetsLost.Add(1)
		return segment.Header{}, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if err := frm.ValidateSize(); err != nil {
		e.counters.packetsLost.Add(1)
		return segment.Header{}, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	if !frm.VerifyChecksum() {
		e.counters.packetsLost.Add(1)
		return segment.Header{}, fmt.Errorf("%w: checksum mismatch", ErrIntegrity)
	}
	return frm.Header(), nil
}

// invalidate moves the endpoint to the terminal INVALID state. Protocol
// errors are not locally recoverable: the socket is released and the address
// invariants of the dead-letter state restored.
func (e *Endpoint) invalidate(op string, err error) error {
	e.logerr(op, slog.String("err", err.Error()), slog.String("state", e.state.String()))
	e.release()
	e.state = StateInvalid
	return err
}

// close completes a graceful teardown into CLOSED.
func (e *Endpoint) close() {
	e.release()
	e.state = StateClosed
	e.debug("closed")
}

func (e *Endpoint) release() {
	if e.sd != nil {
		e.sd.Close()
		e.sd = nil
	}
	e.saddr = nil
	e.daddr = nil
}
