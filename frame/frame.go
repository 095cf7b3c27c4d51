// Package frame encodes and decodes the 16-bit SPI cells exchanged with a
// daisy chain of digital potentiometers.
//
// A command frame carries one 2-byte cell per channel. The first byte of a
// cell holds the opcode with the high nibble of the value merged into its low
// bits, the second byte holds the low byte of the value:
//
//	[OPCODE|V11..V8][V7..V0] x Channels
package frame

import (
	"encoding/hex"
	"fmt"
)

const (
	// Channels is the number of potentiometers in the chain.
	Channels = 10

	// Size is the length in bytes of a command or response payload.
	Size = 2 * Channels

	// MaxValue is the largest value the wire format can carry.
	MaxValue = 0x0FFF
)

// Opcode is the command byte placed in the first byte of every cell.
type Opcode byte

const (
	OpNop          Opcode = 0x00
	OpWriteRDAC    Opcode = 0x04
	OpReadRDAC     Opcode = 0x08
	OpStoreMemory  Opcode = 0x0C
	OpReadMemory   Opcode = 0x14
	OpWriteControl Opcode = 0x1C
)

func (o Opcode) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpWriteRDAC:
		return "write-rdac"
	case OpReadRDAC:
		return "read-rdac"
	case OpStoreMemory:
		return "store-memory"
	case OpReadMemory:
		return "read-memory"
	case OpWriteControl:
		return "write-control"
	default:
		return fmt.Sprintf("opcode(0x%02X)", byte(o))
	}
}

// SizeError reports a value list or response buffer of the wrong length.
type SizeError struct {
	What string
	Want int
	Got  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s: need %d, got %d", e.What, e.Want, e.Got)
}

// Encode builds a command frame for op with one value per channel.
func Encode(op Opcode, values []uint16) ([]byte, error) {
	if len(values) != Channels {
		return nil, &SizeError{What: "values", Want: Channels, Got: len(values)}
	}
	buf := make([]byte, Size)
	for i, v := range values {
		buf[2*i] = byte(op) | byte((v>>8)&0x0F)
		buf[2*i+1] = byte(v & 0xFF)
	}
	return buf, nil
}

// Decode reads one value per channel from resp, starting offset bytes in.
func Decode(resp []byte, offset int) ([]uint16, error) {
	if offset < 0 {
		return nil, &SizeError{What: "response offset", Want: 0, Got: offset}
	}
	if len(resp) < offset+Size {
		return nil, &SizeError{What: "response bytes", Want: offset + Size, Got: len(resp)}
	}
	values := make([]uint16, Channels)
	for i := range values {
		values[i] = uint16(resp[offset+2*i])<<8 | uint16(resp[offset+2*i+1])
	}
	return values, nil
}

// Fill returns a value list with v on every channel.
func Fill(v uint16) []uint16 {
	values := make([]uint16, Channels)
	for i := range values {
		values[i] = v
	}
	return values
}

// Pad prepends prefix zero bytes to cmd. The leading bytes form a dummy
// cycle that flushes whatever the chain still holds from the previous
// transaction.
func Pad(prefix int, cmd []byte) []byte {
	if prefix <= 0 {
		return cmd
	}
	buf := make([]byte, prefix+len(cmd))
	copy(buf[prefix:], cmd)
	return buf
}

// Dump formats a frame for debug logs.
func Dump(b []byte) string {
	return hex.EncodeToString(b)
}
