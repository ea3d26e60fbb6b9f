// Package link implements the data-link layer: a connection-oriented,
// stop-and-wait protocol over a serial line, with byte stuffing, XOR
// checksums, alternating-bit sequencing, and a timer-driven retransmission
// loop built on a monotonic deadline rather than POSIX alarms.
package link

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/librescoot/rcom-filetransfer/internal/serialport"
)

// Role identifies which end of the connection this process plays. The
// protocol is strictly half-duplex: a Connection is either a sender or a
// receiver for its entire lifetime.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// Config holds the connection parameters, immutable once passed to Open.
type Config struct {
	Device             string        // serial device path
	Baud               int           // one of the POSIX-discrete baud rates
	Role               Role          // Sender or Receiver
	Timeout            time.Duration // per-attempt timeout
	MaxRetransmissions int           // retries per attempt loop
}

// stats tracks the diagnostics Close can optionally print.
type stats struct {
	started    time.Time
	framesSent int
	framesRecv int
}

// port is the full byte-level I/O surface a Connection drives.
// *serialport.Port satisfies it; tests substitute an in-memory fake.
type port interface {
	byteReader
	Write(p []byte) (int, error)
	Close() error
}

// Connection owns the serial port and all per-connection protocol state:
// the alternating sequence bits, the retransmission budget, and frame
// counters. None of this is touched outside the goroutine that calls
// Connection's methods, so no locking is needed here, unlike a design where
// a background goroutine feeds received bytes into shared state.
type Connection struct {
	port port
	cfg  Config

	ntx byte // sender: next sequence bit to send
	nrx byte // receiver: next sequence bit expected

	stats  stats
	closed bool // true once the port has been released; Close becomes a no-op
}

// Open establishes a connection according to cfg's role: the sender drives
// the SET/UA handshake with retransmission, the receiver waits patiently
// for SET and replies UA.
func Open(cfg Config) (*Connection, error) {
	p, err := serialport.Open(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortOpen, err)
	}
	return newConnection(p, cfg)
}

// newConnection drives the connect handshake over an already-open port. It
// is the shared core behind Open; tests call it directly with a fake port.
func newConnection(p port, cfg Config) (*Connection, error) {
	if cfg.Timeout <= 0 || cfg.MaxRetransmissions <= 0 {
		p.Close()
		return nil, fmt.Errorf("%w: timeout and retransmissions must be positive", ErrPortOpen)
	}

	c := &Connection{port: p, cfg: cfg, stats: stats{started: time.Now()}}

	var openErr error
	switch cfg.Role {
	case RoleSender:
		openErr = c.openSender()
	case RoleReceiver:
		openErr = c.openReceiver()
	default:
		openErr = fmt.Errorf("%w: unknown role %d", ErrPortOpen, cfg.Role)
	}

	if openErr != nil {
		p.Close()
		return nil, openErr
	}
	return c, nil
}

func (c *Connection) openSender() error {
	attempts := c.cfg.MaxRetransmissions
	for attempts > 0 {
		if _, err := c.port.Write(encodeSupervisory(addrSender, ctrlSET)); err != nil {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		c.stats.framesSent++

		deadline := time.Now().Add(c.cfg.Timeout)
		if _, err := readFrame(c.port, deadline, true, addrReceiver, isUA, isNever); err != nil {
			attempts--
			continue
		}
		c.stats.framesRecv++
		return nil
	}
	return ErrConnectTimeout
}

func (c *Connection) openReceiver() error {
	if _, err := readFrame(c.port, time.Time{}, false, addrSender, isSET, isNever); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	c.stats.framesRecv++

	if _, err := c.port.Write(encodeSupervisory(addrReceiver, ctrlUA)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	c.stats.framesSent++
	return nil
}

// Write sends payload as a single information frame, retransmitting on
// timeout or REJ, and flipping the alternating bit only once the expected
// RR arrives. It is only valid on a sender connection.
func (c *Connection) Write(payload []byte) (int, error) {
	if c.cfg.Role != RoleSender {
		return 0, fmt.Errorf("link: Write called on a %s connection", c.cfg.Role)
	}
	if len(payload) == 0 || len(payload) > MaxPayloadSize {
		return 0, fmt.Errorf("link: invalid payload length %d", len(payload))
	}

	frame := encodeInformation(addrSender, controlFor(c.ntx), payload)

	attempts := c.cfg.MaxRetransmissions
	for attempts > 0 {
		if _, err := c.port.Write(frame); err != nil {
			break
		}
		c.stats.framesSent++

		deadline := time.Now().Add(c.cfg.Timeout)
		resp, err := readFrame(c.port, deadline, true, addrReceiver, isRRorREJ, isNever)
		if err != nil {
			attempts--
			continue
		}
		c.stats.framesRecv++

		switch resp.Control {
		case rrFor(c.ntx ^ 1):
			c.ntx ^= 1
			return len(payload), nil
		case rejFor(c.ntx):
			attempts-- // immediate retry, still counts against the budget
		default:
			attempts--
		}
	}

	// The peer is presumably unreachable: release the port directly rather
	// than attempt a disconnect handshake that would only repeat the same
	// timeout budget we just exhausted.
	c.port.Close()
	c.closed = true
	return 0, ErrWriteTimeout
}

// Read waits for the next information frame addressed to this receiver,
// acknowledging it and delivering its payload into out. A duplicate
// retransmission of the previously delivered frame is re-acknowledged and
// silently discarded; a checksum mismatch is rejected with REJ and the read
// continues. Read returns (0, nil) when the sender disconnects (DISC) — the
// caller is expected to drive the receiver-side disconnect handshake next.
func (c *Connection) Read(out []byte) (int, error) {
	if c.cfg.Role != RoleReceiver {
		return 0, fmt.Errorf("link: Read called on a %s connection", c.cfg.Role)
	}

	for {
		frame, err := readFrame(c.port, time.Time{}, false, addrSender, isInformationOrDisc, isInformationControl)
		if err != nil {
			if errors.Is(err, ErrFrame) {
				c.port.Write(encodeSupervisory(addrReceiver, rejFor(c.nrx)))
				c.stats.framesSent++
				continue
			}
			return 0, err
		}
		c.stats.framesRecv++

		if frame.Kind == kindSupervisory {
			// Only DISC is accepted here alongside information frames.
			return 0, nil
		}

		if frame.Control == controlFor(c.nrx) {
			n := copy(out, frame.Payload)
			c.port.Write(encodeSupervisory(addrReceiver, rrFor(c.nrx^1)))
			c.stats.framesSent++
			c.nrx ^= 1
			return n, nil
		}

		// Duplicate of the frame we already delivered: re-acknowledge and
		// keep reading without surfacing it to the caller again.
		c.port.Write(encodeSupervisory(addrReceiver, rrFor(c.nrx)))
		c.stats.framesSent++
	}
}

// Close runs the disconnect handshake appropriate to this connection's role
// and releases the serial port. The port is released even if the handshake
// fails or times out. When printStats is true, a one-line summary of
// runtime and frame counters is logged. Close is a no-op if the port was
// already released, e.g. by Write after exhausting its retries.
func (c *Connection) Close(printStats bool) error {
	if c.closed {
		if printStats {
			c.logStats()
		}
		return nil
	}

	var err error
	switch c.cfg.Role {
	case RoleSender:
		err = c.closeSender()
	case RoleReceiver:
		err = c.closeReceiver()
	}

	closeErr := c.port.Close()
	c.closed = true
	if printStats {
		c.logStats()
	}

	if err != nil {
		return err
	}
	return closeErr
}

func (c *Connection) closeSender() error {
	attempts := c.cfg.MaxRetransmissions
	for attempts > 0 {
		if _, err := c.port.Write(encodeSupervisory(addrSender, ctrlDISC)); err != nil {
			return fmt.Errorf("%w: %v", ErrCloseTimeout, err)
		}
		c.stats.framesSent++

		deadline := time.Now().Add(c.cfg.Timeout)
		if _, err := readFrame(c.port, deadline, true, addrReceiver, isDISC, isNever); err != nil {
			attempts--
			continue
		}
		c.stats.framesRecv++

		if _, err := c.port.Write(encodeSupervisory(addrSender, ctrlUA)); err != nil {
			return fmt.Errorf("%w: %v", ErrCloseTimeout, err)
		}
		c.stats.framesSent++
		return nil
	}
	return ErrCloseTimeout
}

func (c *Connection) closeReceiver() error {
	attempts := c.cfg.MaxRetransmissions
	for attempts > 0 {
		deadline := time.Now().Add(c.cfg.Timeout)
		if _, err := readFrame(c.port, deadline, true, addrSender, isDISC, isNever); err != nil {
			attempts--
			continue
		}
		c.stats.framesRecv++

		if _, err := c.port.Write(encodeSupervisory(addrReceiver, ctrlDISC)); err != nil {
			return fmt.Errorf("%w: %v", ErrCloseTimeout, err)
		}
		c.stats.framesSent++

		// Best-effort wait for the sender's final UA: log and close regardless.
		uaDeadline := time.Now().Add(c.cfg.Timeout)
		if _, err := readFrame(c.port, uaDeadline, true, addrSender, isUA, isNever); err != nil {
			log.Printf("link: no final UA from sender, closing anyway: %v", err)
			return nil
		}
		c.stats.framesRecv++
		return nil
	}
	return ErrCloseTimeout
}

func (c *Connection) logStats() {
	log.Printf("link: %s session closed in %s, frames sent=%d received=%d",
		c.cfg.Role, time.Since(c.stats.started).Round(time.Millisecond),
		c.stats.framesSent, c.stats.framesRecv)
}
