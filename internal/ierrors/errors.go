// Package ierrors defines the POSIX-style error taxonomy the stack surfaces
// to callers (spec §7).
//
// Each taxonomy member is a sentinel; call sites wrap it with
// fmt.Errorf("%s: %w", context, ErrX) to preserve the error chain while
// adding operational context, exactly as the wire-codec and config packages
// this stack grew out of use fmt.Errorf("...: %w", err) throughout.
//
// Most internal failures (malformed frames, unknown EtherType/protocol,
// duplicate ACKs, out-of-order segments) are never turned into one of these
// errors — they are logged and dropped per spec §7. Only operations with a
// caller-visible outcome (socket calls, queue token waits) return one of
// these.
package ierrors

import "errors"

// Kind identifies which POSIX-style error category an error belongs to.
type Kind int

const (
	KindNone Kind = iota
	KindTransientResource
	KindBadHandle
	KindUnsupported
	KindAddress
	KindConnection
	KindTimeout
	KindRouting
)

func (k Kind) String() string {
	switch k {
	case KindTransientResource:
		return "TransientResource"
	case KindBadHandle:
		return "BadHandle"
	case KindUnsupported:
		return "Unsupported"
	case KindAddress:
		return "Address"
	case KindConnection:
		return "Connection"
	case KindTimeout:
		return "Timeout"
	case KindRouting:
		return "Routing"
	default:
		return "None"
	}
}

// Sentinel errors, one per POSIX errno the spec requires (spec §7).
var (
	// ErrAgain is EAGAIN: scheduler full, no buffers available.
	ErrAgain = errors.New("inetstack: resource temporarily unavailable (EAGAIN)")
	// ErrBadFD is EBADF: unknown/stale queue descriptor.
	ErrBadFD = errors.New("inetstack: bad file descriptor (EBADF)")
	// ErrInval is EINVAL: unknown/stale queue token or bad argument.
	ErrInval = errors.New("inetstack: invalid argument (EINVAL)")
	// ErrNotSupported is ENOTSUP.
	ErrNotSupported = errors.New("inetstack: operation not supported (ENOTSUP)")
	// ErrAddrInUse is EADDRINUSE.
	ErrAddrInUse = errors.New("inetstack: address already in use (EADDRINUSE)")
	// ErrAddrNotAvail is EADDRNOTAVAIL.
	ErrAddrNotAvail = errors.New("inetstack: address not available (EADDRNOTAVAIL)")
	// ErrConnRefused is ECONNREFUSED.
	ErrConnRefused = errors.New("inetstack: connection refused (ECONNREFUSED)")
	// ErrConnReset is ECONNRESET.
	ErrConnReset = errors.New("inetstack: connection reset by peer (ECONNRESET)")
	// ErrPipe is EPIPE: write/push after peer closed.
	ErrPipe = errors.New("inetstack: broken pipe (EPIPE)")
	// ErrNotConn is ENOTCONN.
	ErrNotConn = errors.New("inetstack: socket not connected (ENOTCONN)")
	// ErrIsConn is EISCONN.
	ErrIsConn = errors.New("inetstack: socket already connected (EISCONN)")
	// ErrTimedOut is ETIMEDOUT.
	ErrTimedOut = errors.New("inetstack: operation timed out (ETIMEDOUT)")
	// ErrHostUnreachable is EHOSTUNREACH: ARP resolution exhausted retries.
	ErrHostUnreachable = errors.New("inetstack: no route to host (EHOSTUNREACH)")
)

var kindOf = map[error]Kind{
	ErrAgain:           KindTransientResource,
	ErrBadFD:           KindBadHandle,
	ErrInval:           KindBadHandle,
	ErrNotSupported:    KindUnsupported,
	ErrAddrInUse:       KindAddress,
	ErrAddrNotAvail:    KindAddress,
	ErrConnRefused:     KindConnection,
	ErrConnReset:       KindConnection,
	ErrPipe:            KindConnection,
	ErrNotConn:         KindConnection,
	ErrIsConn:          KindConnection,
	ErrTimedOut:        KindTimeout,
	ErrHostUnreachable: KindRouting,
}

// KindOf classifies err against the taxonomy sentinels using errors.Is.
// Returns KindNone if err doesn't wrap any known sentinel.
func KindOf(err error) Kind {
	for sentinel, kind := range kindOf {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindNone
}
