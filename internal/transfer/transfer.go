// Package transfer fragments a file into link-layer-sized chunks on send
// and reassembles them on receive. It is the only collaborator that touches
// the filesystem; everything it hands to internal/link is an opaque byte
// slice built by internal/packet.
package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/librescoot/rcom-filetransfer/internal/link"
	"github.com/librescoot/rcom-filetransfer/internal/packet"
)

// writer is the subset of *link.Connection a Sender needs.
type writer interface {
	Write(payload []byte) (int, error)
}

// reader is the subset of *link.Connection a Receiver needs.
type reader interface {
	Read(out []byte) (int, error)
}

// ProgressFunc reports fragmenter/reassembler progress via a small
// stateless callback supplied by the caller.
type ProgressFunc func(done, total int64)

// Sender streams a single file across a link connection as a Start packet,
// a run of Data packets, and a closing End packet.
type Sender struct {
	Conn     writer
	Progress ProgressFunc
}

// Run sends the file at path. It returns the number of payload bytes sent.
func (s *Sender) Run(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("transfer: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("transfer: stat %s: %w", path, err)
	}
	size := info.Size()
	name := filepath.Base(path)

	start := packet.EncodeControl(packet.ControlStart, size, name)
	if _, err := s.Conn.Write(start); err != nil {
		return 0, fmt.Errorf("transfer: send start packet: %w", err)
	}

	buf := make([]byte, packet.MaxDataPayload)
	var sent int64
	var seq byte
	for {
		n, err := f.Read(buf)
		if n > 0 {
			dataPkt, encErr := packet.EncodeData(seq, buf[:n])
			if encErr != nil {
				return sent, fmt.Errorf("transfer: encode data packet: %w", encErr)
			}
			if _, err := s.Conn.Write(dataPkt); err != nil {
				return sent, fmt.Errorf("transfer: send data packet: %w", err)
			}
			sent += int64(n)
			seq++
			if s.Progress != nil {
				s.Progress(sent, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return sent, fmt.Errorf("transfer: read %s: %w", path, err)
		}
	}

	end := packet.EncodeControl(packet.ControlEnd, size, name)
	if _, err := s.Conn.Write(end); err != nil {
		return sent, fmt.Errorf("transfer: send end packet: %w", err)
	}
	return sent, nil
}

// Receiver reassembles a file from the Start/Data/End packet stream carried
// on a link connection.
type Receiver struct {
	Conn     reader
	Progress ProgressFunc
}

// Run reads packets until the End packet or peer disconnect, writing Data
// payloads in arrival order to a file named from the Start packet inside
// outDir. It returns the number of bytes written.
func (r *Receiver) Run(outDir string) (int64, error) {
	buf := make([]byte, link.MaxPayloadSize)

	n, err := r.Conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("transfer: read start packet: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("transfer: peer disconnected before sending start packet")
	}
	control, size, name, err := packet.DecodeControl(buf[:n])
	if err != nil || control != packet.ControlStart {
		return 0, fmt.Errorf("transfer: expected start packet: %w", err)
	}

	outPath := filepath.Join(outDir, filepath.Base(name))
	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("transfer: create %s: %w", outPath, err)
	}
	defer out.Close()

	var written int64
	for {
		n, err := r.Conn.Read(buf)
		if err != nil {
			return written, fmt.Errorf("transfer: read packet: %w", err)
		}
		if n == 0 {
			return written, fmt.Errorf("transfer: peer disconnected mid-transfer")
		}

		switch buf[0] {
		case packet.ControlData:
			_, payload, err := packet.DecodeData(buf[:n])
			if err != nil {
				return written, fmt.Errorf("transfer: decode data packet: %w", err)
			}
			if _, err := out.Write(payload); err != nil {
				return written, fmt.Errorf("transfer: write %s: %w", outPath, err)
			}
			written += int64(len(payload))
			if r.Progress != nil {
				r.Progress(written, size)
			}
		case packet.ControlEnd:
			return written, nil
		default:
			return written, fmt.Errorf("transfer: unexpected packet control byte 0x%02x", buf[0])
		}
	}
}
