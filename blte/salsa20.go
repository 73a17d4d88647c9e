package blte

// Salsa20 core permutation for the 16-byte-key ("expand 16-byte k") variant
// BLTE's mode 'E' encryption uses. golang.org/x/crypto/salsa20's
// public XORKeyStream only accepts 32-byte keys (the "expand 32-byte k"
// variant), so it cannot produce this keystream; DESIGN.md records why this
// one primitive is implemented directly against the published Salsa20
// specification (Bernstein, "Salsa20 specification") rather than through a
// third-party package.

const salsa20Rounds = 20

// tau is the 16-byte "expand 16-byte k" constant used when the key is 16
// bytes rather than 32 (sigma, "expand 32-byte k", is used for 32-byte keys
// and is not needed here).
var tau = [4]uint32{
	0x61707865, // "apxe" LE of "expa"
	0x3120646e, // "1 dn" LE of "nd 1"
	0x79622d36, // "yb-6" LE of "6-by"
	0x6b206574, // "k et" LE of "te k"
}

func readLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func rotl32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

// salsa20Block computes one 64-byte keystream block for the 16-byte-key
// variant: key is repeated in both key halves of the state, per DJB's
// reference implementation of the short-key variant.
func salsa20Block(key [16]byte, nonce [8]byte, counter uint64, out *[64]byte) {
	var k [4]uint32
	for i := 0; i < 4; i++ {
		k[i] = readLE32(key[i*4 : i*4+4])
	}
	var n [2]uint32
	n[0] = readLE32(nonce[0:4])
	n[1] = readLE32(nonce[4:8])

	var x [16]uint32
	x[0] = tau[0]
	x[1] = k[0]
	x[2] = k[1]
	x[3] = k[2]
	x[4] = k[3]
	x[5] = tau[1]
	x[6] = n[0]
	x[7] = n[1]
	x[8] = uint32(counter)
	x[9] = uint32(counter >> 32)
	x[10] = tau[2]
	x[11] = k[0]
	x[12] = k[1]
	x[13] = k[2]
	x[14] = k[3]
	x[15] = tau[3]

	work := x
	for i := 0; i < salsa20Rounds; i += 2 {
		// column round
		work[4] ^= rotl32(work[0]+work[12], 7)
		work[8] ^= rotl32(work[4]+work[0], 9)
		work[12] ^= rotl32(work[8]+work[4], 13)
		work[0] ^= rotl32(work[12]+work[8], 18)

		work[9] ^= rotl32(work[5]+work[1], 7)
		work[13] ^= rotl32(work[9]+work[5], 9)
		work[1] ^= rotl32(work[13]+work[9], 13)
		work[5] ^= rotl32(work[1]+work[13], 18)

		work[14] ^= rotl32(work[10]+work[6], 7)
		work[2] ^= rotl32(work[14]+work[10], 9)
		work[6] ^= rotl32(work[2]+work[14], 13)
		work[10] ^= rotl32(work[6]+work[2], 18)

		work[3] ^= rotl32(work[15]+work[11], 7)
		work[7] ^= rotl32(work[3]+work[15], 9)
		work[11] ^= rotl32(work[7]+work[3], 13)
		work[15] ^= rotl32(work[11]+work[7], 18)

		// row round
		work[1] ^= rotl32(work[0]+work[3], 7)
		work[2] ^= rotl32(work[1]+work[0], 9)
		work[3] ^= rotl32(work[2]+work[1], 13)
		work[0] ^= rotl32(work[3]+work[2], 18)

		work[6] ^= rotl32(work[5]+work[4], 7)
		work[7] ^= rotl32(work[6]+work[5], 9)
		work[4] ^= rotl32(work[7]+work[6], 13)
		work[5] ^= rotl32(work[4]+work[7], 18)

		work[11] ^= rotl32(work[10]+work[9], 7)
		work[8] ^= rotl32(work[11]+work[10], 9)
		work[9] ^= rotl32(work[8]+work[11], 13)
		work[10] ^= rotl32(work[9]+work[8], 18)

		work[12] ^= rotl32(work[15]+work[14], 7)
		work[13] ^= rotl32(work[12]+work[15], 9)
		work[14] ^= rotl32(work[13]+work[12], 13)
		work[15] ^= rotl32(work[14]+work[13], 18)
	}

	for i := range work {
		work[i] += x[i]
	}
	for i := 0; i < 16; i++ {
		putLE32(out[i*4:i*4+4], work[i])
	}
}

// salsa20XOR XORs src into dst using the 16-byte-key Salsa20 keystream
// starting at block counter 0.
func salsa20XOR(key [16]byte, nonce [8]byte, dst, src []byte) {
	var block [64]byte
	var counter uint64
	for len(src) > 0 {
		salsa20Block(key, nonce, counter, &block)
		n := len(src)
		if n > 64 {
			n = 64
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ block[i]
		}
		src = src[n:]
		dst = dst[n:]
		counter++
	}
}
