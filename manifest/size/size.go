// Package size parses the size manifest, a compact EKey-prefix → estimated
// encoded-size table used to estimate installation size without fetching
// any data.
package size

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

var (
	ErrBadMagic           = errors.New("size: bad magic")
	ErrUnsupportedVersion = errors.New("size: unsupported version")
	ErrUnsupportedESize   = errors.New("size: unsupported esize_bytes")
	ErrInvalidKeyHash     = errors.New("size: key_hash == 0 is reserved")
	ErrTruncated          = errors.New("size: truncated manifest")
)

var magic = [2]byte{'S', 'M'}

// Entry is one size-manifest record: a truncated EKey prefix, its 16-bit
// disambiguation hash, and its estimated encoded size.
type Entry struct {
	EKeyPrefix []byte
	KeyHash    uint16
	ESize      uint64
}

// Manifest is a fully parsed size manifest.
type Manifest struct {
	Version     int
	Flags       byte
	TotalSize   uint64
	KeySizeBits int
	Entries     []Entry
}

// Parse decodes a full size manifest.
func Parse(buf []byte) (*Manifest, error) {
	dec := bin.NewBorshDecoder(buf)

	var m [2]byte
	if _, err := dec.Read(m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if m != magic {
		return nil, ErrBadMagic
	}
	version, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrTruncated, err)
	}
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	flags, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: flags: %v", ErrTruncated, err)
	}
	entryCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_count: %v", ErrTruncated, err)
	}
	keySizeBits, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: key_size_bits: %v", ErrTruncated, err)
	}
	totalSize, err := dec.ReadUint64(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: total_size: %v", ErrTruncated, err)
	}

	esizeBytes := byte(4)
	if version == 1 {
		esizeBytes, err = dec.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: esize_bytes: %v", ErrTruncated, err)
		}
		if esizeBytes < 1 || esizeBytes > 8 {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedESize, esizeBytes)
		}
	}

	prefixBytes := (int(keySizeBits) + 7) / 8
	entries := make([]Entry, entryCount)
	for i := range entries {
		prefix := make([]byte, prefixBytes)
		if _, err := dec.Read(prefix); err != nil {
			return nil, fmt.Errorf("%w: entry %d prefix: %v", ErrTruncated, i, err)
		}
		keyHash, err := dec.ReadUint16(bin.BE)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d key_hash: %v", ErrTruncated, i, err)
		}
		if keyHash == 0 {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidKeyHash, i)
		}
		esizeBuf := make([]byte, esizeBytes)
		if _, err := dec.Read(esizeBuf); err != nil {
			return nil, fmt.Errorf("%w: entry %d esize: %v", ErrTruncated, i, err)
		}
		entries[i] = Entry{
			EKeyPrefix: prefix,
			KeyHash:    keyHash,
			ESize:      readBE(esizeBuf),
		}
	}

	return &Manifest{
		Version:     int(version),
		Flags:       flags,
		TotalSize:   totalSize,
		KeySizeBits: int(keySizeBits),
		Entries:     entries,
	}, nil
}

func readBE(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
