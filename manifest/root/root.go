// Package root parses the root manifest, which maps a file's identity
// (FileDataID and/or name hash) to one or more content keys, each tagged
// by locale and content flags. Two on-disk formats exist: V1 (name-hash
// based) and V2/TSFM (FileDataID-first, delta-encoded).
package root

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/ngdp-go/casc/casckey"
)

var (
	ErrTruncated          = errors.New("root: truncated manifest")
	ErrUnsupportedVersion = errors.New("root: unsupported TSFM version")
)

var tsfmMagic = [4]byte{'T', 'S', 'F', 'M'}

// Version identifies which on-disk layout a manifest was parsed from.
type Version int

const (
	V1 Version = iota + 1
	V2
)

// Record is one root-manifest entry, normalized across V1 and V2: Record's
// ContentFlags is always the *effective* flags — for V2 that's
// content_flags_primary | content_flags_2 | (content_flags_3 << 17); for
// V1 it is simply the block's content_flags.
type Record struct {
	FileDataID   uint32
	CKey         casckey.Key
	NameHash     uint64 // zero if the format/block carries no name hash
	HasNameHash  bool
	LocaleFlags  uint32
	ContentFlags uint64
}

// Manifest is a fully parsed root manifest.
type Manifest struct {
	Version Version
	Records []Record
}

// Parse detects the format by the four-byte magic at offset 0 (TSFM ⇒ V2,
// anything else ⇒ V1) and dispatches.
func Parse(buf []byte) (*Manifest, error) {
	if len(buf) >= 4 && [4]byte(buf[:4]) == tsfmMagic {
		return parseV2(buf)
	}
	return parseV1(buf)
}

func parseV1(buf []byte) (*Manifest, error) {
	dec := bin.NewBorshDecoder(buf)
	m := &Manifest{Version: V1}

	for dec.Remaining() > 0 {
		numRecords, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: block header: %v", ErrTruncated, err)
		}
		contentFlags, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: content_flags: %v", ErrTruncated, err)
		}
		localeFlags, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: locale_flags: %v", ErrTruncated, err)
		}

		deltas := make([]int64, numRecords)
		for i := range deltas {
			d, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return nil, fmt.Errorf("%w: fdid delta %d: %v", ErrTruncated, i, err)
			}
			deltas[i] = int64(d)
		}

		fdid := int64(-1)
		for i := uint32(0); i < numRecords; i++ {
			fdid += deltas[i] + 1

			var ckeyBuf [16]byte
			if _, err := dec.Read(ckeyBuf[:]); err != nil {
				return nil, fmt.Errorf("%w: ckey: %v", ErrTruncated, err)
			}
			ckey, err := casckey.FromBytes(ckeyBuf[:])
			if err != nil {
				return nil, err
			}
			nameHash, err := dec.ReadUint64(bin.LE)
			if err != nil {
				return nil, fmt.Errorf("%w: name_hash: %v", ErrTruncated, err)
			}

			m.Records = append(m.Records, Record{
				FileDataID:   uint32(fdid),
				CKey:         ckey,
				NameHash:     nameHash,
				HasNameHash:  true,
				LocaleFlags:  localeFlags,
				ContentFlags: uint64(contentFlags),
			})
		}
	}
	return m, nil
}

func parseV2(buf []byte) (*Manifest, error) {
	dec := bin.NewBorshDecoder(buf)

	var magic [4]byte
	if _, err := dec.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("%w: magic: %v", ErrTruncated, err)
	}
	headerSize, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: header_size: %v", ErrTruncated, err)
	}
	version, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrTruncated, err)
	}
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	totalFileCount, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: total_file_count: %v", ErrTruncated, err)
	}
	namedFileCount, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: named_file_count: %v", ErrTruncated, err)
	}
	// The remaining header bytes up to header_size carry cf2_bits (u32 LE)
	// and cf3_bits (u8); consume whatever header_size declares so blocks
	// start at the right offset regardless of minor header revisions.
	consumedSoFar := 4 + 4 + 4 + 4 + 4 // magic + header_size + version + total + named
	remainingHeader := int(headerSize) - (consumedSoFar - 8)
	if remainingHeader < 0 {
		return nil, fmt.Errorf("%w: header_size too small", ErrTruncated)
	}
	if remainingHeader > 0 {
		skip := make([]byte, remainingHeader)
		if _, err := dec.Read(skip); err != nil {
			return nil, fmt.Errorf("%w: header tail: %v", ErrTruncated, err)
		}
	}

	allNamed := namedFileCount == totalFileCount
	m := &Manifest{Version: V2}

	for dec.Remaining() > 0 {
		numRecords, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: block header: %v", ErrTruncated, err)
		}
		cfPrimary, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: content_flags_primary: %v", ErrTruncated, err)
		}
		localeFlags, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: locale_flags: %v", ErrTruncated, err)
		}
		cf2, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: content_flags_2: %v", ErrTruncated, err)
		}
		cf3, err := dec.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: content_flags_3: %v", ErrTruncated, err)
		}
		effectiveFlags := uint64(cfPrimary) | uint64(cf2) | (uint64(cf3) << 17)

		deltas := make([]int64, numRecords)
		for i := range deltas {
			d, err := dec.ReadUint32(bin.LE)
			if err != nil {
				return nil, fmt.Errorf("%w: fdid delta %d: %v", ErrTruncated, i, err)
			}
			deltas[i] = int64(d)
		}

		fdid := int64(-1)
		for i := uint32(0); i < numRecords; i++ {
			fdid += deltas[i] + 1

			var ckeyBuf [16]byte
			if _, err := dec.Read(ckeyBuf[:]); err != nil {
				return nil, fmt.Errorf("%w: ckey: %v", ErrTruncated, err)
			}
			ckey, err := casckey.FromBytes(ckeyBuf[:])
			if err != nil {
				return nil, err
			}

			rec := Record{
				FileDataID:   uint32(fdid),
				CKey:         ckey,
				LocaleFlags:  localeFlags,
				ContentFlags: effectiveFlags,
			}
			if allNamed {
				nameHash, err := dec.ReadUint64(bin.LE)
				if err != nil {
					return nil, fmt.Errorf("%w: name_hash: %v", ErrTruncated, err)
				}
				rec.NameHash = nameHash
				rec.HasNameHash = true
			}
			m.Records = append(m.Records, rec)
		}
	}
	return m, nil
}

// LookupByFDID returns the first record whose FDID matches and whose
// locale mask intersects desiredLocale and whose content flags contain
// every bit of desiredContent — iteration order is block order on disk, so
// "first" is deterministic.
func (m *Manifest) LookupByFDID(fdid uint32, desiredLocale uint32, desiredContent uint64) (casckey.Key, bool) {
	for _, r := range m.Records {
		if r.FileDataID != fdid {
			continue
		}
		if r.LocaleFlags&desiredLocale == 0 {
			continue
		}
		if r.ContentFlags&desiredContent != desiredContent {
			continue
		}
		return r.CKey, true
	}
	return casckey.Key{}, false
}

// LookupByNameHash returns the first record whose Jenkins96 name hash
// matches, under the same locale/content selection rule as LookupByFDID.
func (m *Manifest) LookupByNameHash(nameHash uint64, desiredLocale uint32, desiredContent uint64) (casckey.Key, bool) {
	for _, r := range m.Records {
		if !r.HasNameHash || r.NameHash != nameHash {
			continue
		}
		if r.LocaleFlags&desiredLocale == 0 {
			continue
		}
		if r.ContentFlags&desiredContent != desiredContent {
			continue
		}
		return r.CKey, true
	}
	return casckey.Key{}, false
}
