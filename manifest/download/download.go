// Package download parses the download manifest: a priority-ordered list
// of encoding keys used to plan partial installs without fetching every
// file in a build.
package download

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/ngdp-go/casc/casckey"
)

var (
	ErrBadMagic            = errors.New("download: bad magic")
	ErrUnsupportedVersion  = errors.New("download: unsupported version")
	ErrUnsupportedKeySize  = errors.New("download: unsupported ekey size")
	ErrUnsupportedFlagSize = errors.New("download: unsupported flag size")
	ErrTruncated           = errors.New("download: truncated manifest")
)

var magic = [2]byte{'D', 'L'}

// maxFlagSize bounds download.flag_size; anything larger is rejected
// rather than attempting a generic variable-width parse.
const maxFlagSize = 4

// Entry is one download-manifest record.
type Entry struct {
	EKey           casckey.Key
	CompressedSize uint64
	Priority       int16 // effective priority: priority - base_priority
	HasChecksum    bool
	Checksum       uint32
	Flags          []byte
}

// Tag mirrors the install manifest's bitmask tag layout.
type Tag struct {
	Name    string
	Type    uint16
	Bitmask []byte
}

// Manifest is a fully parsed download manifest.
type Manifest struct {
	Version int
	Entries []Entry
	Tags    []Tag
}

// Parse decodes a full download manifest.
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
	if version < 1 || version > 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	ekeySize, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: ekey_size: %v", ErrTruncated, err)
	}
	if ekeySize != 16 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKeySize, ekeySize)
	}
	hasChecksum, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: has_checksum: %v", ErrTruncated, err)
	}
	entryCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_count: %v", ErrTruncated, err)
	}
	tagCount, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: tag_count: %v", ErrTruncated, err)
	}

	var flagSize byte
	var basePriority int8
	if version >= 2 {
		flagSize, err = dec.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: flag_size: %v", ErrTruncated, err)
		}
		if flagSize > maxFlagSize {
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedFlagSize, flagSize)
		}
	}
	if version >= 3 {
		bp, err := dec.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: base_priority: %v", ErrTruncated, err)
		}
		basePriority = int8(bp)
		reserved := make([]byte, 3)
		if _, err := dec.Read(reserved); err != nil {
			return nil, fmt.Errorf("%w: reserved: %v", ErrTruncated, err)
		}
		for _, b := range reserved {
			if b != 0 {
				return nil, fmt.Errorf("%w: non-zero reserved byte", ErrTruncated)
			}
		}
	}

	entries := make([]Entry, entryCount)
	for i := range entries {
		var ekeyBuf [16]byte
		if _, err := dec.Read(ekeyBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d ekey: %v", ErrTruncated, i, err)
		}
		ekey, err := casckey.FromBytes(ekeyBuf[:])
		if err != nil {
			return nil, err
		}
		var sizeBuf [5]byte
		if _, err := dec.Read(sizeBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d compressed_size: %v", ErrTruncated, i, err)
		}
		compressedSize := read40BE(sizeBuf[:])

		priorityByte, err := dec.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d priority: %v", ErrTruncated, i, err)
		}
		priority := saturatingSub(int16(int8(priorityByte)), int16(basePriority))

		entry := Entry{EKey: ekey, CompressedSize: compressedSize, Priority: priority}

		if hasChecksum != 0 {
			checksum, err := dec.ReadUint32(bin.BE)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d checksum: %v", ErrTruncated, i, err)
			}
			entry.HasChecksum = true
			entry.Checksum = checksum
		}
		if version >= 2 && flagSize > 0 {
			flags := make([]byte, flagSize)
			if _, err := dec.Read(flags); err != nil {
				return nil, fmt.Errorf("%w: entry %d flags: %v", ErrTruncated, i, err)
			}
			entry.Flags = flags
		}
		entries[i] = entry
	}

	maskBytes := (int(entryCount) + 7) / 8
	tags := make([]Tag, tagCount)
	for i := range tags {
		name, err := readCString(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %d name: %v", ErrTruncated, i, err)
		}
		tagType, err := dec.ReadUint16(bin.BE)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %d type: %v", ErrTruncated, i, err)
		}
		mask := make([]byte, maskBytes)
		if _, err := dec.Read(mask); err != nil {
			return nil, fmt.Errorf("%w: tag %d bitmask: %v", ErrTruncated, i, err)
		}
		tags[i] = Tag{Name: name, Type: tagType, Bitmask: mask}
	}

	return &Manifest{Version: int(version), Entries: entries, Tags: tags}, nil
}

func readCString(dec *bin.Decoder) (string, error) {
	var out []byte
	for {
		b, err := dec.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}

func read40BE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func saturatingSub(a, b int16) int16 {
	r := int32(a) - int32(b)
	if r > 32767 {
		return 32767
	}
	if r < -32768 {
		return -32768
	}
	return int16(r)
}

// SelectByPriority returns the indexes of every entry whose effective
// priority is at or below threshold, in manifest order.
func (m *Manifest) SelectByPriority(threshold int16) []int {
	var out []int
	for i, e := range m.Entries {
		if e.Priority <= threshold {
			out = append(out, i)
		}
	}
	return out
}
