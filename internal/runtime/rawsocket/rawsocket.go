// Package rawsocket implements runtime.NetworkRuntime over a Linux
// AF_PACKET raw socket bound to one interface — the production transport
// for inetstackd. The non-blocking setup and SO_* socket-option wiring
// follow the same golang.org/x/sys/unix idiom the teacher's UDP server
// uses for SO_REUSEPORT: grab the raw file descriptor and call
// unix.SetsockoptInt directly rather than going through net.Conn, since
// AF_PACKET sockets have no net package equivalent.
package rawsocket

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/jroosing/inetstack/internal/runtime"
)

const ethPAll = 0x0003 // ETH_P_ALL, host byte order constant from linux/if_ether.h

// Runtime is a runtime.NetworkRuntime backed by an AF_PACKET SOCK_RAW
// socket bound to one network interface.
type Runtime struct {
	fd      int
	ifindex int
	mtu     int
}

// Open binds a raw socket to the named interface, configured
// non-blocking so Receive never blocks the single-threaded engine.
func Open(ifaceName string, mtu int) (*Runtime, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ethPAll)))
	if err != nil {
		return nil, fmt.Errorf("rawsocket: socket: %w", err)
	}
	iface, err := interfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(ethPAll),
		Ifindex:  iface,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsocket: bind to %s: %w", ifaceName, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsocket: set non-blocking: %w", err)
	}
	if mtu <= 0 {
		mtu = 1500
	}
	return &Runtime{fd: fd, ifindex: iface, mtu: mtu}, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

func interfaceByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("rawsocket: lookup interface %s: %w", name, err)
	}
	return iface.Index, nil
}

var _ runtime.NetworkRuntime = (*Runtime)(nil)

func (r *Runtime) Transmit(frame []byte) error {
	return unix.Sendto(r.fd, frame, 0, &unix.SockaddrLinklayer{
		Ifindex: r.ifindex,
	})
}

// Receive drains up to max frames without blocking; EAGAIN/EWOULDBLOCK
// just means nothing is ready right now.
func (r *Runtime) Receive(max int) [][]byte {
	if max <= 0 {
		max = 64
	}
	var out [][]byte
	buf := make([]byte, r.mtu+14)
	for i := 0; i < max; i++ {
		n, _, err := unix.Recvfrom(r.fd, buf, 0)
		if err != nil {
			break
		}
		if n <= 0 {
			break
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		out = append(out, frame)
	}
	return out
}

func (r *Runtime) Close() error {
	return unix.Close(r.fd)
}
