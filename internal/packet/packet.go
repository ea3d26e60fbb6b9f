// Package packet builds and parses the application-layer packets carried
// inside a single link-layer information frame: Start, Data, and End.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/librescoot/rcom-filetransfer/internal/link"
)

// Control field values distinguishing the three packet types.
const (
	ControlStart byte = 0x01
	ControlData  byte = 0x02
	ControlEnd   byte = 0x03
)

// TLV type tags used inside Start and End packets.
const (
	tlvFileSize byte = 0x00
	tlvFileName byte = 0x01
)

// dataHeaderSize is the Data packet's fixed overhead: control, sequence,
// and a two-byte big-endian length.
const dataHeaderSize = 4

// MaxDataPayload is the largest payload a single Data packet can carry
// without exceeding the link layer's maximum information-frame payload.
const MaxDataPayload = link.MaxPayloadSize - dataHeaderSize

// EncodeControl builds a Start or End packet carrying the file's size and
// base name as TLV entries.
func EncodeControl(control byte, fileSize int64, fileName string) []byte {
	sizeBytes := encodeLittleEndianUint(uint64(fileSize))
	name := []byte(fileName)

	out := make([]byte, 0, 1+2+len(sizeBytes)+2+len(name))
	out = append(out, control)
	out = append(out, tlvFileSize, byte(len(sizeBytes)))
	out = append(out, sizeBytes...)
	out = append(out, tlvFileName, byte(len(name)))
	out = append(out, name...)
	return out
}

// DecodeControl parses a Start or End packet, returning the file size and
// name carried in its TLV entries.
func DecodeControl(p []byte) (control byte, fileSize int64, fileName string, err error) {
	if len(p) < 1 {
		return 0, 0, "", fmt.Errorf("packet: control packet too short")
	}
	control = p[0]
	if control != ControlStart && control != ControlEnd {
		return 0, 0, "", fmt.Errorf("packet: unexpected control byte 0x%02x", control)
	}

	var haveSize, haveName bool
	pos := 1
	for pos < len(p) {
		if pos+2 > len(p) {
			return 0, 0, "", fmt.Errorf("packet: truncated TLV header at offset %d", pos)
		}
		tlvType := p[pos]
		length := int(p[pos+1])
		pos += 2
		if pos+length > len(p) {
			return 0, 0, "", fmt.Errorf("packet: truncated TLV value at offset %d", pos)
		}
		value := p[pos : pos+length]
		pos += length

		switch tlvType {
		case tlvFileSize:
			fileSize = int64(decodeLittleEndianUint(value))
			haveSize = true
		case tlvFileName:
			fileName = string(value)
			haveName = true
		default:
			return 0, 0, "", fmt.Errorf("packet: unknown TLV type 0x%02x", tlvType)
		}
	}
	if !haveSize || !haveName {
		return 0, 0, "", fmt.Errorf("packet: control packet missing required TLV entries")
	}
	return control, fileSize, fileName, nil
}

// EncodeData builds a Data packet. seq is a diagnostic-only counter
// distinct from the link layer's alternating bit; it is not required to be
// monotonic across a transfer, only informative.
func EncodeData(seq byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxDataPayload {
		return nil, fmt.Errorf("packet: payload of %d bytes exceeds max data payload of %d", len(payload), MaxDataPayload)
	}

	out := make([]byte, 0, dataHeaderSize+len(payload))
	out = append(out, ControlData, seq)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// DecodeData parses a Data packet, returning its diagnostic sequence byte
// and payload.
func DecodeData(p []byte) (seq byte, payload []byte, err error) {
	if len(p) < dataHeaderSize {
		return 0, nil, fmt.Errorf("packet: data packet too short")
	}
	if p[0] != ControlData {
		return 0, nil, fmt.Errorf("packet: expected data control byte, got 0x%02x", p[0])
	}
	seq = p[1]
	length := int(binary.BigEndian.Uint16(p[2:4]))
	if 4+length != len(p) {
		return 0, nil, fmt.Errorf("packet: data packet length field %d does not match body", length)
	}
	return seq, p[4:], nil
}

// encodeLittleEndianUint returns the smallest little-endian byte encoding
// of v (at least one byte, for v == 0).
func encodeLittleEndianUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append(out, byte(v&0xFF))
		v >>= 8
	}
	return out
}

// decodeLittleEndianUint is the inverse of encodeLittleEndianUint.
func decodeLittleEndianUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return v
}
