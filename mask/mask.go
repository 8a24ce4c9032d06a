// Package mask implements the byte transform used to obfuscate comic pages
// at rest and to restore them on the way to the client.
//
// The transform is a fixed XOR against a single mask byte. It keeps the
// length and is its own inverse, so the same function both masks and
// unmasks.
package mask

import "fmt"

// Default is the mask byte applied when none is configured.
const Default XOR = 0xFF

// XOR masks every byte with the receiver.
type XOR byte

// Parse converts a configured mask value into an XOR. Zero is rejected
// since it would leave the body unchanged.
func Parse(v int) (XOR, error) {
	if v <= 0 || v > 0xFF {
		return 0, fmt.Errorf("mask value %d out of range 1..255", v)
	}
	return XOR(v), nil
}

// Apply transforms b in place.
func (x XOR) Apply(b []byte) {
	k := byte(x)
	for i := range b {
		b[i] ^= k
	}
}

// Bytes returns a transformed copy of b, leaving b untouched.
func (x XOR) Bytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	x.Apply(out)
	return out
}

func (x XOR) String() string {
	return fmt.Sprintf("0x%02X", byte(x))
}
