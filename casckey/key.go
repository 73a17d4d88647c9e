// Package casckey implements the 16-byte content and encoding key types
// shared by every manifest and index format in the CASC/NGDP stack.
package casckey

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a full CKey or EKey.
const Size = 16

// Key is a 16-byte MD5-derived identifier. CKey (content key) and EKey
// (encoding key) are both represented by Key; which one a value holds is a
// matter of context, not of type, matching how the five manifest formats
// interchange raw 16-byte fields.
type Key [Size]byte

// FromBytes builds a Key from b, zero-extending on the right if b is
// shorter than Size (the on-disk truncated-key convention, commonly to 9
// bytes) and erroring if b is longer.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) > Size {
		return k, fmt.Errorf("casckey: key has %d bytes, want at most %d", len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// FromHex decodes a hex string into a Key, zero-extending short input the
// same way FromBytes does.
func FromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		var zero Key
		return zero, fmt.Errorf("casckey: invalid hex key %q: %w", s, err)
	}
	return FromBytes(b)
}

// String renders the key as lowercase hex, the convention used for cache
// keys (kind, hex(ekey)) and for CDN object names.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether every byte of the key is zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Truncated returns the first n bytes of the key. n must be <= Size.
func (k Key) Truncated(n int) []byte {
	if n > Size {
		n = Size
	}
	return k[:n]
}

// Equal reports whether k and other hold the same 16 bytes. Equality is
// always over the full key, never the truncated on-disk form (§3).
func (k Key) Equal(other Key) bool {
	return k == other
}

// Less provides a total order over keys, used to keep index entries and
// manifest pages sorted the way the on-disk formats require.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k[:], other[:]) < 0
}
