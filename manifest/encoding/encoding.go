// Package encoding parses the encoding manifest: the CKey↔EKey mapping and
// authoritative decoded file sizes, stored as two parallel paged sections.
package encoding

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/ngdp-go/casc/casckey"
)

var (
	ErrBadMagic           = errors.New("encoding: bad magic")
	ErrUnsupportedVersion = errors.New("encoding: unsupported version")
	ErrTruncated          = errors.New("encoding: truncated manifest")
)

var magic = [2]byte{'E', 'N'}

// PageKey is one page table's first-key entry, used for the page-level
// binary search.
type PageKey struct {
	FirstKey casckey.Key
	Checksum [16]byte
}

// CKeyEntry is one CKey-page record: a content key, its authoritative
// decoded size, and the encoding keys it maps to.
type CKeyEntry struct {
	CKey     casckey.Key
	FileSize uint64
	EKeys    []casckey.Key
}

// EKeyEntry is one EKey-page record: an encoding key, its ESpec block
// index, and its encoded (on-disk) size.
type EKeyEntry struct {
	EKey        casckey.Key
	ESpecIndex  uint32
	EncodedSize uint64
}

// Manifest is a fully parsed encoding manifest plus the two lookup indexes
// built over it.
type Manifest struct {
	ESpecStrings []string

	CKeyPageKeys []PageKey
	EKeyPageKeys []PageKey

	CKeyEntries []CKeyEntry
	EKeyEntries []EKeyEntry

	ckeyIndex map[casckey.Key]*CKeyEntry
	ekeyIndex map[casckey.Key]casckey.Key // EKey -> CKey
}

// Parse decodes a full encoding manifest.
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
	if version != 1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	ckeyHashSize, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: ckey_hash_size: %v", ErrTruncated, err)
	}
	ekeyHashSize, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: ekey_hash_size: %v", ErrTruncated, err)
	}
	ckeyPageSizeKB, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: ckey_page_size_kb: %v", ErrTruncated, err)
	}
	ekeyPageSizeKB, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: ekey_page_size_kb: %v", ErrTruncated, err)
	}
	ckeyPageCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: ckey_page_count: %v", ErrTruncated, err)
	}
	ekeyPageCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: ekey_page_count: %v", ErrTruncated, err)
	}
	if _, err := dec.ReadByte(); err != nil { // unknown, must be 0
		return nil, fmt.Errorf("%w: unknown: %v", ErrTruncated, err)
	}
	especBlockSize, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: espec_block_size: %v", ErrTruncated, err)
	}

	mf := &Manifest{
		ckeyIndex: make(map[casckey.Key]*CKeyEntry),
		ekeyIndex: make(map[casckey.Key]casckey.Key),
	}

	if especBlockSize > 0 {
		raw := make([]byte, especBlockSize)
		if _, err := dec.Read(raw); err != nil {
			return nil, fmt.Errorf("%w: espec block: %v", ErrTruncated, err)
		}
		mf.ESpecStrings = splitNulTerminated(raw)
	}

	mf.CKeyPageKeys, err = readPageKeys(dec, int(ckeyPageCount), int(ckeyHashSize))
	if err != nil {
		return nil, fmt.Errorf("ckey page table: %w", err)
	}
	mf.EKeyPageKeys, err = readPageKeys(dec, int(ekeyPageCount), int(ekeyHashSize))
	if err != nil {
		return nil, fmt.Errorf("ekey page table: %w", err)
	}

	ckeyPageBytes := int(ckeyPageSizeKB) * 1024
	for p := 0; p < int(ckeyPageCount); p++ {
		page := make([]byte, ckeyPageBytes)
		if _, err := dec.Read(page); err != nil {
			return nil, fmt.Errorf("%w: ckey page %d: %v", ErrTruncated, p, err)
		}
		entries, err := parseCKeyPage(page)
		if err != nil {
			return nil, fmt.Errorf("ckey page %d: %w", p, err)
		}
		mf.CKeyEntries = append(mf.CKeyEntries, entries...)
	}

	ekeyPageBytes := int(ekeyPageSizeKB) * 1024
	for p := 0; p < int(ekeyPageCount); p++ {
		page := make([]byte, ekeyPageBytes)
		if _, err := dec.Read(page); err != nil {
			return nil, fmt.Errorf("%w: ekey page %d: %v", ErrTruncated, p, err)
		}
		entries, err := parseEKeyPage(page)
		if err != nil {
			return nil, fmt.Errorf("ekey page %d: %w", p, err)
		}
		mf.EKeyEntries = append(mf.EKeyEntries, entries...)
	}

	for i := range mf.CKeyEntries {
		e := &mf.CKeyEntries[i]
		mf.ckeyIndex[e.CKey] = e
	}
	for _, e := range mf.EKeyEntries {
		mf.ekeyIndex[e.EKey] = mf.ckeyOwning(e.EKey)
	}
	return mf, nil
}

// ckeyOwning finds which CKey entry lists ekey among its EKeys; used only
// while building the reverse index at parse time.
func (m *Manifest) ckeyOwning(ekey casckey.Key) casckey.Key {
	for _, e := range m.CKeyEntries {
		for _, k := range e.EKeys {
			if k.Equal(ekey) {
				return e.CKey
			}
		}
	}
	return casckey.Key{}
}

func readPageKeys(dec *bin.Decoder, count, hashSize int) ([]PageKey, error) {
	keys := make([]PageKey, count)
	for i := range keys {
		keyBuf := make([]byte, hashSize)
		if _, err := dec.Read(keyBuf); err != nil {
			return nil, fmt.Errorf("%w: first_key %d: %v", ErrTruncated, i, err)
		}
		firstKey, err := casckey.FromBytes(keyBuf)
		if err != nil {
			return nil, err
		}
		var checksum [16]byte
		if _, err := dec.Read(checksum[:]); err != nil {
			return nil, fmt.Errorf("%w: checksum %d: %v", ErrTruncated, i, err)
		}
		keys[i] = PageKey{FirstKey: firstKey, Checksum: checksum}
	}
	return keys, nil
}

// parseCKeyPage walks a single fixed-size CKey page: key_count: u8,
// file_size: 40-bit BE, ckey: 16 bytes, then key_count EKeys. key_count ==
// 0 marks the end of in-use entries within the page.
func parseCKeyPage(page []byte) ([]CKeyEntry, error) {
	var entries []CKeyEntry
	off := 0
	for off < len(page) {
		keyCount := int(page[off])
		off++
		if keyCount == 0 {
			break
		}
		if off+5+16 > len(page) {
			return nil, ErrTruncated
		}
		fileSize := read40BE(page[off : off+5])
		off += 5
		ckey, err := casckey.FromBytes(page[off : off+16])
		if err != nil {
			return nil, err
		}
		off += 16

		if off+keyCount*16 > len(page) {
			return nil, ErrTruncated
		}
		ekeys := make([]casckey.Key, keyCount)
		for i := 0; i < keyCount; i++ {
			ekeys[i], err = casckey.FromBytes(page[off : off+16])
			if err != nil {
				return nil, err
			}
			off += 16
		}
		entries = append(entries, CKeyEntry{CKey: ckey, FileSize: fileSize, EKeys: ekeys})
	}
	return entries, nil
}

// parseEKeyPage walks a single fixed-size EKey page: ekey: 16 bytes,
// espec_index: u32 BE, encoded_size: 40-bit BE.
func parseEKeyPage(page []byte) ([]EKeyEntry, error) {
	var entries []EKeyEntry
	off := 0
	const recSize = 16 + 4 + 5
	for off+recSize <= len(page) {
		rec := page[off : off+recSize]
		if isZero(rec[:16]) {
			break
		}
		ekey, err := casckey.FromBytes(rec[0:16])
		if err != nil {
			return nil, err
		}
		especIndex := uint32(rec[16])<<24 | uint32(rec[17])<<16 | uint32(rec[18])<<8 | uint32(rec[19])
		encodedSize := read40BE(rec[20:25])
		entries = append(entries, EKeyEntry{EKey: ekey, ESpecIndex: especIndex, EncodedSize: encodedSize})
		off += recSize
	}
	return entries, nil
}

func read40BE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 5; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func splitNulTerminated(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}

// LookupByCKey returns the EKeys and authoritative file size for ckey.
func (m *Manifest) LookupByCKey(ckey casckey.Key) (*CKeyEntry, bool) {
	e, ok := m.ckeyIndex[ckey]
	return e, ok
}

// LookupCKeyByEKey returns the CKey that owns ekey.
func (m *Manifest) LookupCKeyByEKey(ekey casckey.Key) (casckey.Key, bool) {
	ck, ok := m.ekeyIndex[ekey]
	return ck, ok
}
