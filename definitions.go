// Package microtcp implements a teaching-oriented reliable transport layered
// on UDP/IPv4. It provides a connection-oriented, ordered, checksummed byte
// stream between two endpoints with a three-way handshake, stop-and-wait data
// transfer and a graceful FIN exchange. There is no congestion control,
// pipelining, retransmission or reassembly: a lost or corrupted segment
// surfaces as an error and invalidates the endpoint.
package microtcp

import "errors"

//go:generate stringer -type=State -linecomment -output stringers.go .

// State enumerates the states an endpoint progresses through during its
// lifetime. States are mutually exclusive; transitions are never modeled as
// bitwise combinations of state constants.
type State uint8

const (
	// INVALID - dead-letter state. The initial state before binding and the
	// terminal state after any protocol error; all operations fail.
	StateInvalid State = iota // INVALID
	// BOUND - the UDP socket is bound to a local address.
	StateBound // BOUND
	// LISTEN - waiting for a connection request from any remote endpoint.
	StateListen // LISTEN
	// SYN_SENT - active opener has sent its SYN.
	StateSynSent // SYN_SENT
	// SYN_RCVD - passive opener has received a SYN.
	StateSynRcvd // SYN_RCVD
	// ESTABLISHED - the normal state for the data transfer phase.
	StateEstablished // ESTABLISHED
	// CLOSING_BY_HOST - the local endpoint initiated teardown.
	StateClosingByHost // CLOSING_BY_HOST
	// CLOSING_BY_PEER - the remote endpoint initiated teardown.
	StateClosingByPeer // CLOSING_BY_PEER
	// CLOSED - teardown completed.
	StateClosed // CLOSED
)

// IsClosing returns true if teardown has begun but not completed.
func (s State) IsClosing() bool {
	return s == StateClosingByHost || s == StateClosingByPeer
}

// hasPeer returns true in the states where the remote address is pinned.
func (s State) hasPeer() bool {
	return s >= StateSynSent && s <= StateClosingByPeer
}

var (
	// ErrWrongState is returned by operations invoked in a state where they
	// are not permitted.
	ErrWrongState = errors.New("microtcp: operation not permitted in current state")
	// ErrIntegrity is returned when a received segment fails its checksum or
	// a required control-flag check.
	ErrIntegrity = errors.New("microtcp: segment integrity check failed")
	// ErrNotConnected is returned for stream operations on an endpoint with
	// no live connection.
	ErrNotConnected = errors.New("microtcp: endpoint not connected")
)
