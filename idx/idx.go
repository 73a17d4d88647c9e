// Package idx parses local bucket index files ("<hex>.idx"), the on-disk
// format backing a CASC installation's 16-way archive key index.
package idx

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
)

var log = logging.Logger("idx")

var (
	ErrTruncated      = errors.New("idx: truncated file")
	ErrBadFieldWidth  = errors.New("idx: unsupported field width")
	ErrBucketMismatch = errors.New("idx: entry bucket does not match file's declared bucket")
)

// Header describes the versioned binary layout declared at the start of a
// bucket file.
type Header struct {
	Version           uint8
	BucketIndex       uint8
	KeyFieldSize      int
	LocationFieldSize int
	LengthFieldSize   int
	SegmentBits       int
	EntryCount        int

	// FileBytes and OffsetBytes split LocationFieldSize into the
	// little-endian low part (archive id's low bits) and the big-endian
	// high part (segment_bits of offset plus the archive id's high
	// bits) that together make up a location field. OffsetBytes is the
	// smallest byte count that can hold SegmentBits; FileBytes is
	// whatever's left of LocationFieldSize.
	FileBytes   int
	OffsetBytes int
}

// Entry is one resolved local-index record.
type Entry struct {
	Key      casckey.Key
	Location archive.Location
}

// Index is a parsed, sorted bucket file ready for binary-search lookup.
// A repeatedly-queried Index can additionally build an in-memory
// xxhash→entry secondary index (BuildHashIndex) to turn hot lookups into
// an O(1) map probe, mirroring compactindexsized's BucketHash scheme.
type Index struct {
	Header  Header
	Entries []Entry

	hashOnce  sync.Once
	hashIndex map[uint64]int
}

// BuildHashIndex populates the in-memory xxhash secondary index. It is
// safe to call more than once; later calls are no-ops. Building is O(n)
// in the entry count and trades memory for lookup speed, so it is left
// opt-in rather than run inside Parse.
func (idx *Index) BuildHashIndex() {
	idx.hashOnce.Do(func() {
		idx.hashIndex = make(map[uint64]int, len(idx.Entries))
		for i, e := range idx.Entries {
			idx.hashIndex[xxhash.Sum64(e.Key[:])] = i
		}
	})
}

// entrySize returns the fixed record width for this header's field widths.
func (h Header) entrySize() int {
	return h.KeyFieldSize + h.LocationFieldSize + h.LengthFieldSize
}

// Parse decodes one ".idx" bucket file. declaredBucket is the bucket id
// implied by the file name (the penultimate hex digit before ".idx") and is
// cross-checked against every entry's computed bucket; a mismatch is
// reported via ErrBucketMismatch rather than silently re-bucketed.
func Parse(buf []byte, declaredBucket uint8) (*Index, error) {
	h, body, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	entrySize := h.entrySize()
	if entrySize <= 0 {
		return nil, fmt.Errorf("%w: zero-width entry", ErrBadFieldWidth)
	}
	if len(body)%entrySize != 0 {
		return nil, fmt.Errorf("%w: body length %d not a multiple of entry size %d", ErrTruncated, len(body), entrySize)
	}
	count := len(body) / entrySize
	h.EntryCount = count

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		rec := body[i*entrySize : (i+1)*entrySize]
		entry, err := parseEntry(h, rec)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if bucket := archive.BucketOf(entry.Key); bucket != declaredBucket {
			return nil, fmt.Errorf("%w: entry %d computed bucket %d, file declares %d", ErrBucketMismatch, i, bucket, declaredBucket)
		}
		entries[i] = entry
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})

	log.Debugw("parsed local bucket index", "bucket", declaredBucket, "entries", count)
	return &Index{Header: h, Entries: entries}, nil
}

// parseHeader reads the fixed-layout version/field-width header and
// returns the remaining entry-table bytes.
func parseHeader(buf []byte) (Header, []byte, error) {
	// The on-disk header begins with a version byte, a bucket index byte,
	// three field-width bytes and a segment-bits byte, followed by two
	// unused bytes; the entry table starts at byte 8.
	const minHeader = 8
	if len(buf) < minHeader {
		return Header{}, nil, fmt.Errorf("%w: header shorter than %d bytes", ErrTruncated, minHeader)
	}
	h := Header{
		Version:           buf[0],
		BucketIndex:       buf[1],
		KeyFieldSize:      int(buf[2]),
		LocationFieldSize: int(buf[3]),
		LengthFieldSize:   int(buf[4]),
		SegmentBits:       int(buf[5]),
	}
	if h.KeyFieldSize != 9 && h.KeyFieldSize != 16 {
		return Header{}, nil, fmt.Errorf("%w: key_field_size %d", ErrBadFieldWidth, h.KeyFieldSize)
	}
	if h.LocationFieldSize <= 0 || h.LocationFieldSize > 8 {
		return Header{}, nil, fmt.Errorf("%w: location_field_size %d", ErrBadFieldWidth, h.LocationFieldSize)
	}
	if h.LengthFieldSize <= 0 || h.LengthFieldSize > 4 {
		return Header{}, nil, fmt.Errorf("%w: length_field_size %d", ErrBadFieldWidth, h.LengthFieldSize)
	}
	if h.SegmentBits < 0 || h.SegmentBits > 63 {
		return Header{}, nil, fmt.Errorf("%w: segment_bits %d", ErrBadFieldWidth, h.SegmentBits)
	}

	// offset_bytes is the smallest byte count that can hold segment_bits
	// of offset; whatever's left of location_field_size is file_bytes,
	// the little-endian low part of the archive id.
	h.OffsetBytes = (h.SegmentBits + 7) / 8
	h.FileBytes = h.LocationFieldSize - h.OffsetBytes
	if h.FileBytes < 0 {
		return Header{}, nil, fmt.Errorf("%w: segment_bits %d needs more bytes than location_field_size %d", ErrBadFieldWidth, h.SegmentBits, h.LocationFieldSize)
	}
	return h, buf[minHeader:], nil
}

// parseEntry assembles one (key, archive_id, offset, size) record from a
// fixed-width record.
func parseEntry(h Header, rec []byte) (Entry, error) {
	off := 0
	keyBytes := rec[off : off+h.KeyFieldSize]
	off += h.KeyFieldSize
	key, err := casckey.FromBytes(keyBytes)
	if err != nil {
		return Entry{}, err
	}

	fileBytes := rec[off : off+h.FileBytes]
	off += h.FileBytes
	offsetBytes := rec[off : off+h.OffsetBytes]
	off += h.OffsetBytes

	lengthBytes := rec[off : off+h.LengthFieldSize]

	archiveID, offset := assembleLocation(fileBytes, offsetBytes, h.SegmentBits)
	size := readLE(lengthBytes)

	return Entry{
		Key: key,
		Location: archive.Location{
			ArchiveID: uint32(archiveID),
			Offset:    offset,
			Size:      uint32(size),
		},
	}, nil
}

// assembleLocation splits a location field into an archive id and an
// offset. fileBytes is read little-endian and holds the archive id's low
// bits; offsetBytes is read big-endian and holds segmentBits of real
// offset in its low bits with the archive id's remaining high bits above
// that. The two archive-id parts are recombined into a single value, and
// the high bits are masked out of the offset.
func assembleLocation(fileBytes, offsetBytes []byte, segmentBits int) (archiveID uint64, offset uint64) {
	archiveLow := readLE(fileBytes)

	var combined uint64
	for _, b := range offsetBytes {
		combined = combined<<8 | uint64(b)
	}

	archiveHigh := combined >> uint(segmentBits)
	archiveID = archiveHigh<<uint(8*len(fileBytes)) | archiveLow
	offset = combined & (uint64(1)<<uint(segmentBits) - 1)
	return archiveID, offset
}

// readLE reads up to 8 bytes little-endian into a uint64.
func readLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Lookup resolves key to an archive location. If BuildHashIndex has been
// called it probes the in-memory hash index, otherwise it binary-searches
// the sorted entry table.
func (idx *Index) Lookup(key casckey.Key) (archive.Location, bool) {
	if idx.hashIndex != nil {
		if i, ok := idx.hashIndex[xxhash.Sum64(key[:])]; ok {
			return idx.Entries[i].Location, true
		}
		return archive.Location{}, false
	}

	n := len(idx.Entries)
	i := sort.Search(n, func(i int) bool {
		return !idx.Entries[i].Key.Less(key)
	})
	if i < n && idx.Entries[i].Key.Equal(key) {
		return idx.Entries[i].Location, true
	}
	return archive.Location{}, false
}
