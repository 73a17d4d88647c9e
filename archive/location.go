// Package archive defines the archive-location value type and the offset
// interpretation policy shared by the local (idx) and CDN (cdnindex) index
// readers.
package archive

// Location identifies a byte range inside an archive data file.
type Location struct {
	ArchiveID uint32
	Offset    uint64
	Size      uint32
}

// OffsetStrategy controls how a raw on-disk offset is turned into the byte
// offset actually passed to a range read. Most archives store the offset of
// the BLTE payload itself; a small number of legacy archive layouts store
// an offset computed against a fixed 36-byte archive-entry header that has
// since been folded into the payload, and must be corrected on read.
type OffsetStrategy int

const (
	// ComputedHeaderSize trusts the parsed offset as pointing directly at
	// the BLTE payload. Default.
	ComputedHeaderSize OffsetStrategy = iota
	// LegacyOffset36 subtracts the fixed legacy header width some older
	// archive builds included in the stored offset. Opt-in only: spec
	// guidance is to fall back to this "only if a config flag enables
	// it", never silently on checksum mismatch.
	LegacyOffset36
)

// legacyHeaderWidth is the fixed width folded into pre-BLTE-era archive
// offsets.
const legacyHeaderWidth = 36

// Apply adjusts a raw stored offset according to the strategy.
func (s OffsetStrategy) Apply(rawOffset uint64) uint64 {
	if s == LegacyOffset36 && rawOffset >= legacyHeaderWidth {
		return rawOffset - legacyHeaderWidth
	}
	return rawOffset
}
