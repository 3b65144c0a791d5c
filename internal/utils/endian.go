package utils

import "encoding/binary"

// All on-disk integers are little-endian.

// Uint24 reads a 24-bit value from the first three bytes of b.
func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// PutUint24 writes a 24-bit value into the first three bytes of b.
func PutUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Uint32 reads a little-endian 32-bit value.
func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// PutUint32 writes a little-endian 32-bit value.
func PutUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// Uint16 reads a little-endian 16-bit value.
func Uint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// PutUint16 writes a little-endian 16-bit value.
func PutUint16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}
