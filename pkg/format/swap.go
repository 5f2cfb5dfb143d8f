package format

import (
	"encoding/binary"
	"math/bits"
)

// Endian normalization layer. Decoding always goes through explicit
// little-endian reads, so loaded structs are host-order regardless of
// platform; the Swap helpers cover the one remaining case, an image
// written with the byte-swapped magic, whose every field must be
// reversed after the little-endian decode.

// HostBigEndian reports the native byte order of this machine.
func HostBigEndian() bool {
	b := make([]byte, 2)
	binary.NativeEndian.PutUint16(b, 1)
	return b[0] == 0
}

// Swap16 reverses the bytes of a 16-bit value.
func Swap16(v uint16) uint16 { return bits.ReverseBytes16(v) }

// Swap32 reverses the bytes of a 32-bit value.
func Swap32(v uint32) uint32 { return bits.ReverseBytes32(v) }

// Swap64 reverses the bytes of a 64-bit value.
func Swap64(v uint64) uint64 { return bits.ReverseBytes64(v) }

// SwapU16s reverses every element of a 16-bit slice in place.
func SwapU16s(s []uint16) {
	for i, v := range s {
		s[i] = bits.ReverseBytes16(v)
	}
}

// SwapU32s reverses every element of a 32-bit slice in place.
func SwapU32s(s []uint32) {
	for i, v := range s {
		s[i] = bits.ReverseBytes32(v)
	}
}

// SwapU64s reverses every element of a 64-bit slice in place.
func SwapU64s(s []uint64) {
	for i, v := range s {
		s[i] = bits.ReverseBytes64(v)
	}
}
