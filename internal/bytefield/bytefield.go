// Package bytefield provides little-endian fixed-width integer encoding for
// the odd byte widths the MySQL wire protocol uses that encoding/binary does
// not support natively (3, 5 and 6 bytes), alongside thin wrappers for the
// native widths so callers use one package for every field width they touch.
package bytefield

import (
	"encoding/binary"
	"fmt"
)

// ErrShortBuffer is returned when a Read function is given fewer bytes than
// the field width requires.
type ErrShortBuffer struct {
	Width int
	Got   int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("bytefield: need %d bytes, got %d", e.Width, e.Got)
}

// Uint16LE reads a 2-byte little-endian unsigned integer at the start of b.
func Uint16LE(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, &ErrShortBuffer{Width: 2, Got: len(b)}
	}
	return binary.LittleEndian.Uint16(b), nil
}

// PutUint16LE writes a 2-byte little-endian unsigned integer into b.
func PutUint16LE(b []byte, v uint16) error {
	if len(b) < 2 {
		return &ErrShortBuffer{Width: 2, Got: len(b)}
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

// Uint24LE reads a 3-byte little-endian unsigned integer at the start of b.
// This is the width of the MySQL packet length header.
func Uint24LE(b []byte) (uint32, error) {
	if len(b) < 3 {
		return 0, &ErrShortBuffer{Width: 3, Got: len(b)}
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// PutUint24LE writes a 3-byte little-endian unsigned integer into b. Values
// above 0xFFFFFF are truncated by the caller's responsibility, matching the
// wire format's own 24-bit ceiling.
func PutUint24LE(b []byte, v uint32) error {
	if len(b) < 3 {
		return &ErrShortBuffer{Width: 3, Got: len(b)}
	}
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	return nil
}

// Uint32LE reads a 4-byte little-endian unsigned integer at the start of b.
func Uint32LE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, &ErrShortBuffer{Width: 4, Got: len(b)}
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutUint32LE writes a 4-byte little-endian unsigned integer into b.
func PutUint32LE(b []byte, v uint32) error {
	if len(b) < 4 {
		return &ErrShortBuffer{Width: 4, Got: len(b)}
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Uint40LE reads a 5-byte little-endian unsigned integer at the start of b.
func Uint40LE(b []byte) (uint64, error) {
	if len(b) < 5 {
		return 0, &ErrShortBuffer{Width: 5, Got: len(b)}
	}
	var v uint64
	for i := 4; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// PutUint40LE writes a 5-byte little-endian unsigned integer into b.
func PutUint40LE(b []byte, v uint64) error {
	if len(b) < 5 {
		return &ErrShortBuffer{Width: 5, Got: len(b)}
	}
	for i := 0; i < 5; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return nil
}

// Uint48LE reads a 6-byte little-endian unsigned integer at the start of b.
func Uint48LE(b []byte) (uint64, error) {
	if len(b) < 6 {
		return 0, &ErrShortBuffer{Width: 6, Got: len(b)}
	}
	var v uint64
	for i := 5; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// PutUint48LE writes a 6-byte little-endian unsigned integer into b.
func PutUint48LE(b []byte, v uint64) error {
	if len(b) < 6 {
		return &ErrShortBuffer{Width: 6, Got: len(b)}
	}
	for i := 0; i < 6; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return nil
}

// Uint64LE reads an 8-byte little-endian unsigned integer at the start of b.
func Uint64LE(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, &ErrShortBuffer{Width: 8, Got: len(b)}
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutUint64LE writes an 8-byte little-endian unsigned integer into b.
func PutUint64LE(b []byte, v uint64) error {
	if len(b) < 8 {
		return &ErrShortBuffer{Width: 8, Got: len(b)}
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}
