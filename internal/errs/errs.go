// Package errs implements the error-kind taxonomy from the design's error
// handling section: a small sum type distinguishing argument errors from
// link errors, protocol errors, and so on, rather than ad hoc error strings.
package errs

import "fmt"

// Kind enumerates the categories of failure a caller needs to distinguish in
// order to decide how to react (retry, drop the connection, surface to an
// HTTP client, exit the process).
type Kind int

const (
	// KindArgument covers invalid caller input: unknown transport tag, bad
	// port, empty device path, oversized payload.
	KindArgument Kind = iota
	// KindNotInitialized covers operating on a transport or server before
	// Init has run.
	KindNotInitialized
	// KindPeerNotFound covers sending to a peer id a backend does not know.
	KindPeerNotFound
	// KindLink covers recoverable per-operation failures: timeout, CRC
	// mismatch, frame desync, disconnected, buffer full.
	KindLink
	// KindProtocol covers a malformed mesh message: bad magic, bad length,
	// bad checksum.
	KindProtocol
	// KindIO covers OS-level failures surfaced from sendto/read/write/ioctl.
	KindIO
	// KindFatalInit covers failures that must reach main: listener bind
	// failed, the notification facility could not be created.
	KindFatalInit
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindNotInitialized:
		return "not-initialized"
	case KindPeerNotFound:
		return "peer-not-found"
	case KindLink:
		return "link"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindFatalInit:
		return "fatal-init"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carrying a Kind, the operation that
// failed, and an optional wrapped cause.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is an *Error of the given kind, unwrapping plain
// wraps along the way.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Stable negative error-code values, retained from the source for anything
// that needs to report a wire-level or CLI-level integer code rather than a
// Go error value (e.g. process exit codes, the transport backend contract's
// historical "small negative integer" return convention documented for
// external callers in other languages talking to the same mesh).
const (
	CodeNotInitialized = -1
	CodeInvalidArg     = -2
	CodeNoSuchPeer     = -3
	CodeDisconnected   = -4
	CodeTimeout        = -5
	CodeFrameError     = -6
	CodeCRCError       = -7
	CodeBufferFull     = -8
	CodeGenericIO      = -9
)

// Code maps a Kind to its stable legacy integer code. KindFatalInit has no
// legacy code; callers in that path exit the process instead.
func Code(kind Kind) int {
	switch kind {
	case KindNotInitialized:
		return CodeNotInitialized
	case KindArgument:
		return CodeInvalidArg
	case KindPeerNotFound:
		return CodeNoSuchPeer
	case KindLink:
		return CodeTimeout
	case KindProtocol:
		return CodeFrameError
	case KindIO:
		return CodeGenericIO
	default:
		return CodeGenericIO
	}
}
