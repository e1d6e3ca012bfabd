package microtcp

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// associate pins the bound UDP socket to raddr with connect(2) so that
// subsequent reads and writes are peer-specific. The net package cannot
// connect an already-bound datagram socket, so the call goes through the raw
// file descriptor.
func (e *Endpoint) associate(raddr *net.UDPAddr) error {
	ip4 := raddr.IP.To4()
	if ip4 == nil {
		return fmt.Errorf("microtcp: peer %s is not IPv4", raddr)
	}
	sa := &unix.SockaddrInet4{Port: raddr.Port}
	copy(sa.Addr[:], ip4)
	rc, err := e.sd.SyscallConn()
	if err != nil {
		return fmt.Errorf("microtcp: associate peer: %w", err)
	}
	var connErr error
	if err := rc.Control(func(fd uintptr) {
		connErr = unix.Connect(int(fd), sa)
	}); err != nil {
		return fmt.Errorf("microtcp: associate peer: %w", err)
	}
	if connErr != nil {
		return fmt.Errorf("microtcp: associate peer %s: %w", raddr, connErr)
	}
	return nil
}

// u32FromIP packs an IPv4 address into a network-byte-order word for ISN
// derivation. Non-IPv4 addresses pack to zero.
func u32FromIP(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}
