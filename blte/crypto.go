package blte

import (
	"crypto/rc4"
	"fmt"
)

// KeyService resolves a BLTE mode 'E' key name to its 16-byte decryption
// key. The codec only ever sees this interface; the default
// line-delimited-file implementation lives in package keyservice.
type KeyService interface {
	LookupKey(keyName [8]byte) (key [16]byte, ok bool)
}

// noKeyService is used when the caller has no keys configured; every
// encrypted chunk then fails with ErrMissingKey.
type noKeyService struct{}

func (noKeyService) LookupKey([8]byte) ([16]byte, bool) { return [16]byte{}, false }

// decryptChunk parses a mode 'E' body and returns the decrypted plaintext,
// whose first byte is itself a mode to be reinterpreted by the caller.
func decryptChunk(body []byte, chunkIndex int, ks KeyService) ([]byte, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty encrypted chunk", ErrTruncatedChunk)
	}
	off := 0
	keyNameSize := int(body[off])
	off++
	if keyNameSize != 8 || len(body) < off+keyNameSize+2 {
		return nil, fmt.Errorf("%w: invalid key_name_size %d", ErrTruncatedChunk, keyNameSize)
	}
	var keyName [8]byte
	copy(keyName[:], body[off:off+keyNameSize])
	off += keyNameSize

	ivSize := int(body[off])
	off++
	if ivSize != 4 || len(body) < off+ivSize+1 {
		return nil, fmt.Errorf("%w: invalid iv_size %d", ErrTruncatedChunk, ivSize)
	}
	var iv [4]byte
	copy(iv[:], body[off:off+ivSize])
	off += ivSize

	algorithm := body[off]
	off++
	ciphertext := body[off:]

	if ks == nil {
		ks = noKeyService{}
	}
	key, ok := ks.LookupKey(keyName)
	if !ok {
		return nil, fmt.Errorf("%w: key name %x", ErrMissingKey, keyName)
	}

	plaintext := make([]byte, len(ciphertext))
	switch algorithm {
	case 'S':
		nonce := salsaNonce(iv, chunkIndex)
		salsa20XOR(key, nonce, plaintext, ciphertext)
	case 'A':
		c, err := arc4Cipher(key, iv, chunkIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		c.XORKeyStream(plaintext, ciphertext)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrDecryptionFailed, algorithm)
	}
	return plaintext, nil
}

// salsaNonce XORs the IV's low 4 bytes with the little-endian chunk index
// and zero-pads to the 8-byte nonce Salsa20 requires.
func salsaNonce(iv [4]byte, chunkIndex int) [8]byte {
	var idx [4]byte
	putLE32(idx[:], uint32(chunkIndex))
	var nonce [8]byte
	for i := 0; i < 4; i++ {
		nonce[i] = iv[i] ^ idx[i]
	}
	return nonce
}

// arc4Cipher builds the RC4 key stream: key || iv || chunk_index
// (little-endian u32), right-zero-padded to 32 bytes.
func arc4Cipher(key [16]byte, iv [4]byte, chunkIndex int) (*rc4.Cipher, error) {
	var ks [32]byte
	copy(ks[0:16], key[:])
	copy(ks[16:20], iv[:])
	putLE32(ks[20:24], uint32(chunkIndex))
	return rc4.NewCipher(ks[:])
}
