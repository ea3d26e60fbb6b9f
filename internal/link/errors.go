package link

import "errors"

// Sentinel errors surfaced to callers of the link API. Where there is an
// underlying cause, the sentinel is wrapped with it via fmt.Errorf("%w: ...");
// otherwise it is returned bare. Either way callers match on it with
// errors.Is.
var (
	// ErrPortOpen is returned when Open cannot access the serial device or
	// was given an unsupported baud rate.
	ErrPortOpen = errors.New("link: failed to open serial port")

	// ErrConnectTimeout is returned when the SET/UA handshake exhausts its
	// retransmission budget.
	ErrConnectTimeout = errors.New("link: connect handshake timed out")

	// ErrWriteTimeout is returned when an information frame goes
	// unacknowledged after all retransmissions.
	ErrWriteTimeout = errors.New("link: frame unacknowledged after retries")

	// ErrFrame marks a malformed information frame: a BCC2 mismatch, or no
	// bytes at all between the header and the closing FLAG. A BCC1 mismatch
	// is not reported; readFrame drops that header and resynchronises.
	ErrFrame = errors.New("link: malformed or corrupt frame")

	// ErrCloseTimeout is returned when the disconnect handshake exhausts its
	// retransmission budget. The serial port is still released.
	ErrCloseTimeout = errors.New("link: disconnect handshake timed out")

	// errDeadlineExpired is an internal-only sentinel used by readFrame to
	// tell its caller that the per-attempt deadline elapsed before a frame
	// was assembled. It never escapes the package.
	errDeadlineExpired = errors.New("link: attempt deadline expired")
)
