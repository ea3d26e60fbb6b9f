// Package serialport wraps the raw byte-level I/O the link layer needs:
// a single-byte blocking read with an OS-level character timeout, a raw
// multi-byte write, and open/close with baud-rate validation.
package serialport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
)

// posixBaudRates lists the discrete baud rates the POSIX termios baud mask
// understands. A device opened with any other rate is rejected before we
// ever touch the hardware.
var posixBaudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// ValidBaud reports whether rate is one of the POSIX-defined discrete baud
// rates.
func ValidBaud(rate int) bool {
	_, ok := posixBaudRates[rate]
	return ok
}

// characterTimeout bounds a single-byte read. It must be short enough that
// the link engine's deadline loop (internal/link) can reliably notice an
// expired attempt deadline without blocking well past it.
const characterTimeout = 100 * time.Millisecond

// Port is a blocking, single-byte-read serial connection.
type Port struct {
	port *serial.Port
}

// Open opens device at the given baud rate. It fails fast on an
// unrecognized baud rate instead of handing a bad value to the driver.
func Open(device string, baud int) (*Port, error) {
	if !ValidBaud(baud) {
		return nil, fmt.Errorf("serialport: unsupported baud rate %d", baud)
	}

	cfg := &serial.Config{
		Name:        device,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: characterTimeout,
	}

	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", device, err)
	}

	return &Port{port: p}, nil
}

// ReadByte performs a single blocking read bounded by the port's character
// timeout. It returns n=0 on timeout, n=1 on success, and a non-nil error
// only on an actual I/O failure.
func (p *Port) ReadByte() (n int, b byte, err error) {
	buf := make([]byte, 1)
	n, err = p.port.Read(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("serialport: read: %w", err)
	}
	if n == 0 {
		return 0, 0, nil
	}
	return 1, buf[0], nil
}

// Write writes p raw, with no framing or stuffing applied.
func (p *Port) Write(data []byte) (int, error) {
	n, err := p.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("serialport: write: %w", err)
	}
	return n, nil
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error {
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serialport: close: %w", err)
	}
	return nil
}
