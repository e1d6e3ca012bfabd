package microtcp

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/Angelos-Dimoglis/microTCP/segment"
)

func newLocalEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := NewEndpoint(EndpointConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ep.release)
	return ep
}

// establishPair runs the three-way handshake between two loopback endpoints.
// The SYN is buffered by the server socket, so Accept may start after Connect.
func establishPair(t *testing.T) (client, server *Endpoint) {
	t.Helper()
	client = newLocalEndpoint(t)
	server = newLocalEndpoint(t)
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- server.Accept() }()
	if err := client.Connect(server.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	if err := <-acceptErr; err != nil {
		t.Fatal(err)
	}
	return client, server
}

func TestHandshake(t *testing.T) {
	client, server := establishPair(t)
	if client.State() != StateEstablished || server.State() != StateEstablished {
		t.Fatalf("states after handshake: client %s, server %s", client.State(), server.State())
	}
	// Neither side has sent payload, so seq still names each side's ISN.
	if client.ack != server.seq+1 {
		t.Errorf("client ack = %d, want server ISN+1 = %d", client.ack, server.seq+1)
	}
	if server.ack != client.seq+1 {
		t.Errorf("server ack = %d, want client ISN+1 = %d", server.ack, client.seq+1)
	}
	if client.peerSeq != server.seq || server.peerSeq != client.seq {
		t.Error("peer sequence numbers not mirrored")
	}
	ccnt, scnt := client.Counters(), server.Counters()
	if ccnt.PacketsSent != 2 || ccnt.PacketsReceived != 1 {
		t.Errorf("client counters after handshake: %+v", ccnt)
	}
	if scnt.PacketsSent != 1 || scnt.PacketsReceived != 2 {
		t.Errorf("server counters after handshake: %+v", scnt)
	}
}

func TestSendRecvSmall(t *testing.T) {
	client, server := establishPair(t)
	msg := []byte("Hello CSD\x00")

	type result struct {
		n   int
		err error
	}
	results := make(chan result, 1)
	buf := make([]byte, 4096)
	go func() {
		n, err := server.Recv(buf, 0)
		results <- result{n, err}
	}()

	n, err := client.Send(msg)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(msg) {
		t.Fatalf("Send returned %d, want %d", n, len(msg))
	}
	res := <-results
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.n != len(msg) || !bytes.Equal(buf[:res.n], msg) {
		t.Fatalf("Recv returned %d bytes %q, want %q", res.n, buf[:res.n], msg)
	}
	if got := client.Counters().BytesSent; got != uint64(len(msg)) {
		t.Errorf("client bytes_sent = %d, want %d", got, len(msg))
	}
	if got := server.Counters().BytesReceived; got != uint64(len(msg)) {
		t.Errorf("server bytes_received = %d, want %d", got, len(msg))
	}
}

func TestSegmentationBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		size     int
		segments uint64
	}{
		{"one byte", 1, 1},
		{"exactly MSS", MSS, 1},
		{"MSS plus one", MSS + 1, 2},
		{"MSS plus five", MSS + 5, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, server := establishPair(t)
			payload := make([]byte, tc.size)
			rand.New(rand.NewSource(3)).Read(payload)

			sentBefore := client.Counters().PacketsSent
			buf := make([]byte, tc.size)
			recvErr := make(chan error, 1)
			go func() {
				n, err := server.Recv(buf, FlagWaitAll)
				if err == nil && n != tc.size {
					err = errors.New("short receive")
				}
				recvErr <- err
			}()
			n, err := client.Send(payload)
			if err != nil {
				t.Fatal(err)
			}
			if n != tc.size {
				t.Fatalf("Send returned %d, want %d", n, tc.size)
			}
			if err := <-recvErr; err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, payload) {
				t.Fatal("payload not received in order")
			}
			if got := client.Counters().PacketsSent - sentBefore; got != tc.segments {
				t.Errorf("emitted %d data segments, want %d", got, tc.segments)
			}
		})
	}
}

func TestZeroLengthSend(t *testing.T) {
	client, server := establishPair(t)
	sentBefore := client.Counters().PacketsSent
	recvErr := make(chan error, 1)
	go func() {
		n, err := server.Recv(make([]byte, 16), 0)
		if err == nil && n != 0 {
			err = errors.New("expected zero-byte receive")
		}
		recvErr <- err
	}()
	if _, err := client.Send(nil); err != nil {
		t.Fatal(err)
	}
	if err := <-recvErr; err != nil {
		t.Fatal(err)
	}
	if got := client.Counters().PacketsSent - sentBefore; got != 1 {
		t.Errorf("zero-length send emitted %d segments, want exactly 1", got)
	}
}

func TestRecvTruncation(t *testing.T) {
	client, server := establishPair(t)
	msg := []byte("Hello CSD\x00")
	recvd := make(chan int, 1)
	buf := make([]byte, 4)
	go func() {
		n, err := server.Recv(buf, 0)
		if err != nil {
			n = -1
		}
		recvd <- n
	}()
	// Send returning means the truncating receiver still emitted an ACK.
	if _, err := client.Send(msg); err != nil {
		t.Fatal(err)
	}
	if n := <-recvd; n != len(buf) {
		t.Fatalf("truncating Recv returned %d, want %d", n, len(buf))
	}
	if !bytes.Equal(buf, msg[:len(buf)]) {
		t.Fatal("truncated payload mismatch")
	}
}

func TestShutdownByClient(t *testing.T) {
	client, server := establishPair(t)
	recvErr := make(chan error, 1)
	go func() {
		_, err := server.Recv(make([]byte, 64), 0)
		recvErr <- err
	}()
	if err := client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := <-recvErr; !errors.Is(err, io.EOF) {
		t.Fatalf("server Recv after peer FIN: got %v, want io.EOF", err)
	}
	if client.State() != StateClosed || server.State() != StateClosed {
		t.Fatalf("states after teardown: client %s, server %s", client.State(), server.State())
	}
	// Idempotent on CLOSED.
	if err := client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	// The stream is gone for both sides.
	if _, err := server.Recv(make([]byte, 1), 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Recv on closed endpoint: got %v, want ErrNotConnected", err)
	}
}

// TestScriptedExchange drives a server endpoint from a plain UDP socket,
// checking the exact wire exchange of the handshake and the rejection of a
// corrupted data segment:
//
//	peer --> <SEQ=100>[SYN]            --> LISTEN
//	peer <-- <SEQ=ISN><ACK=101>[SYN,ACK] <-- SYN_RCVD
//	peer --> <SEQ=100><ACK=ISN+1>[ACK] --> ESTABLISHED
//	peer --> <SEQ=110><DATA=10>[]      --> corrupted in transit
//	         (no ACK, endpoint INVALID)
func TestScriptedExchange(t *testing.T) {
	const peerISS = 100
	server := newLocalEndpoint(t)
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- server.Accept() }()

	peer, err := net.DialUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, server.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	if err := peer.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}

	// SYN.
	if _, err := peer.Write(segment.Append(nil, segment.Header{Seq: peerISS, Flags: segment.FlagSYN}, nil)); err != nil {
		t.Fatal(err)
	}
	// SYN+ACK.
	rbuf := make([]byte, RecvBufSize)
	n, err := peer.Read(rbuf)
	if err != nil {
		t.Fatal(err)
	}
	synack, _, err := segment.Parse(rbuf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if synack.Flags != segment.FlagSYN|segment.FlagACK {
		t.Fatalf("expected SYN+ACK, got %s", synack.Flags)
	}
	if synack.Ack != peerISS+1 {
		t.Fatalf("SYN+ACK acknowledges %d, want %d", synack.Ack, peerISS+1)
	}
	// Final ACK.
	if _, err := peer.Write(segment.Append(nil, segment.Header{Seq: peerISS, Ack: synack.Seq + 1, Flags: segment.FlagACK}, nil)); err != nil {
		t.Fatal(err)
	}
	if err := <-acceptErr; err != nil {
		t.Fatal(err)
	}
	if server.State() != StateEstablished {
		t.Fatalf("server state %s after handshake", server.State())
	}
	if server.ack != peerISS+1 {
		t.Fatalf("server ack = %d, want %d", server.ack, peerISS+1)
	}

	// Data segment corrupted in transit: one payload byte flipped after the
	// checksum was computed.
	payload := []byte("Hello CSD\x00")
	raw := segment.Append(nil, segment.Header{
		Seq: peerISS + uint32(len(payload)),
		Ack: synack.Seq + 1,
	}, payload)
	raw[len(raw)-3] ^= 0x40
	if _, err := peer.Write(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := server.Recv(make([]byte, 64), 0); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("corrupted segment: got %v, want ErrIntegrity", err)
	}
	if server.State() != StateInvalid {
		t.Fatalf("server state %s after corrupted segment, want INVALID", server.State())
	}
	if got := server.Counters().PacketsLost; got != 1 {
		t.Errorf("packets_lost = %d, want 1", got)
	}
	// No acknowledgment may be emitted for the rejected segment.
	peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := peer.Read(rbuf); err == nil {
		t.Fatal("received an ACK for a corrupted segment")
	}
}

func TestISNDeterminism(t *testing.T) {
	fixed := bytes.Repeat([]byte{0xa5}, 16)
	mk := func() *Endpoint {
		ep, err := NewEndpoint(EndpointConfig{Rand: bytes.NewReader(fixed)})
		if err != nil {
			t.Fatal(err)
		}
		ep.saddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2121}
		ep.daddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2122}
		return ep
	}
	a, b := mk(), mk()
	if a.isn() != b.isn() {
		t.Error("same key and 4-tuple must derive the same ISN")
	}
	b.daddr.Port = 2123
	if a.isn() == b.isn() {
		t.Error("distinct 4-tuples derived the same ISN")
	}
	// Independent keys disperse even on identical tuples.
	c, err := NewEndpoint(EndpointConfig{})
	if err != nil {
		t.Fatal(err)
	}
	c.saddr, c.daddr = a.saddr, a.daddr
	if a.isn() == c.isn() {
		t.Error("independent keys derived the same ISN")
	}
}

func TestStateGuards(t *testing.T) {
	ep, err := NewEndpoint(EndpointConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ep.Connect(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}); !errors.Is(err, ErrWrongState) {
		t.Errorf("Connect before Bind: got %v, want ErrWrongState", err)
	}
	if ep.State() != StateInvalid {
		t.Error("failed Connect must leave the endpoint INVALID")
	}
	if _, err := ep.Recv(make([]byte, 1), 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Recv on INVALID: got %v, want ErrNotConnected", err)
	}
	if _, err := ep.Send([]byte("x")); !errors.Is(err, ErrWrongState) {
		t.Errorf("Send on INVALID: got %v, want ErrWrongState", err)
	}
	if err := ep.Shutdown(); !errors.Is(err, ErrWrongState) {
		t.Errorf("Shutdown on INVALID: got %v, want ErrWrongState", err)
	}

	bound := newLocalEndpoint(t)
	if err := bound.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}); !errors.Is(err, ErrWrongState) {
		t.Errorf("double Bind: got %v, want ErrWrongState", err)
	}
	if bound.LocalAddr() == nil {
		t.Error("bound endpoint must report its local address")
	}
	if bound.RemoteAddr() != nil {
		t.Error("unconnected endpoint must not report a peer")
	}
}

func TestReadDeadlineInvalidates(t *testing.T) {
	client, _ := establishPair(t)
	if err := client.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Recv(make([]byte, 16), 0); err == nil {
		t.Fatal("expected timeout error from Recv")
	}
	if client.State() != StateInvalid {
		t.Fatalf("state after I/O failure: %s, want INVALID", client.State())
	}
}
