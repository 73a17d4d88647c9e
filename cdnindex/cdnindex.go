// Package cdnindex parses CDN archive index files (".index"), the
// footer-first format describing the contents of a single CDN archive
// bundle or, for archive-group indices, many archives at once.
package cdnindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
)

var log = logging.Logger("cdnindex")

var (
	ErrTooShort  = errors.New("cdnindex: file shorter than footer")
	ErrBadFooter = errors.New("cdnindex: malformed footer")
	ErrTruncated = errors.New("cdnindex: truncated entry table")
)

// footerSize is the fixed 20-byte fixed footer plus an 8-byte trailing
// checksum.
const footerSize = 28

// Footer is the trailing fixed-layout descriptor of an archive index file.
type Footer struct {
	HashSize       uint8
	OffsetBytes    uint8
	SizeBytes      uint8
	FooterHashSize uint8
	ChunkSizeKB    uint32
	EntryCount     uint32
	ArchiveGroup   bool
}

// Entry is one resolved CDN archive-index record.
type Entry struct {
	Key      casckey.Key
	Location archive.Location
}

// Index is a parsed CDN archive index, entries sorted by key for binary
// search lookup.
type Index struct {
	Footer  Footer
	Entries []Entry
}

// Parse decodes a ".index" file. archiveID is the archive this index
// describes; for archive-group indices, each entry carries its own
// archive index in the packed 6-byte offset field and archiveID is
// ignored.
func Parse(buf []byte, archiveID uint32, archiveGroup bool) (*Index, error) {
	if len(buf) < footerSize {
		return nil, fmt.Errorf("%w: have %d bytes, need at least %d", ErrTooShort, len(buf), footerSize)
	}
	footer, err := parseFooter(buf[len(buf)-footerSize:])
	if err != nil {
		return nil, err
	}
	footer.ArchiveGroup = archiveGroup

	entrySize := int(footer.HashSize) + int(footer.SizeBytes) + entryOffsetWidth(footer)
	chunkSize := int(footer.ChunkSizeKB) * 1024
	if chunkSize == 0 {
		chunkSize = 4096
	}

	body := buf[:len(buf)-footerSize]
	var entries []Entry
	pos := 0
	for pos < len(body) {
		end := pos + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunk := body[pos:end]
		for off := 0; off+entrySize <= len(chunk) && len(entries) < int(footer.EntryCount); off += entrySize {
			rec := chunk[off : off+entrySize]
			if isZero(rec[:footer.HashSize]) {
				break
			}
			e, err := parseEntry(footer, rec, archiveID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
			}
			entries = append(entries, e)
		}
		pos += chunkSize
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})

	log.Debugw("parsed CDN archive index", "entries", len(entries), "archiveGroup", archiveGroup)
	return &Index{Footer: footer, Entries: entries}, nil
}

func entryOffsetWidth(f Footer) int {
	if f.ArchiveGroup {
		return 6
	}
	return int(f.OffsetBytes)
}

func parseFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, fmt.Errorf("%w: footer slice is %d bytes", ErrBadFooter, len(buf))
	}
	f := Footer{
		HashSize:       buf[0],
		OffsetBytes:    buf[1],
		SizeBytes:      buf[2],
		FooterHashSize: buf[3],
	}
	if f.HashSize == 0 || f.HashSize > 16 {
		return Footer{}, fmt.Errorf("%w: hash_size %d", ErrBadFooter, f.HashSize)
	}
	f.ChunkSizeKB = uint32(buf[4])
	f.EntryCount = binary.LittleEndian.Uint32(buf[8:12])
	return f, nil
}

func parseEntry(f Footer, rec []byte, archiveID uint32) (Entry, error) {
	off := 0
	keyBytes := rec[off : off+int(f.HashSize)]
	off += int(f.HashSize)
	key, err := casckey.FromBytes(keyBytes)
	if err != nil {
		return Entry{}, err
	}

	sizeBytes := rec[off : off+int(f.SizeBytes)]
	off += int(f.SizeBytes)
	size := binary.BigEndian.Uint32(padLeft(sizeBytes, 4))

	locBytes := rec[off:]
	var loc archive.Location
	if f.ArchiveGroup {
		if len(locBytes) != 6 {
			return Entry{}, fmt.Errorf("archive-group offset field must be 6 bytes, got %d", len(locBytes))
		}
		loc.ArchiveID = uint32(binary.BigEndian.Uint16(locBytes[0:2]))
		loc.Offset = uint64(binary.BigEndian.Uint32(locBytes[2:6]))
	} else {
		loc.ArchiveID = archiveID
		loc.Offset = uint64(binary.BigEndian.Uint32(padLeft(locBytes, 4)))
	}
	loc.Size = size

	return Entry{Key: key, Location: loc}, nil
}

// padLeft zero-extends b on the left to width n, for big-endian fields
// narrower than a native integer size.
func padLeft(b []byte, n int) []byte {
	if len(b) == n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Lookup binary-searches the sorted entry table for an exact key match.
func (idx *Index) Lookup(key casckey.Key) (archive.Location, bool) {
	n := len(idx.Entries)
	i := sort.Search(n, func(i int) bool {
		return !idx.Entries[i].Key.Less(key)
	})
	if i < n && idx.Entries[i].Key.Equal(key) {
		return idx.Entries[i].Location, true
	}
	return archive.Location{}, false
}
