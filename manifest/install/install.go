// Package install parses the install manifest: a tag-bitmasked list of
// (path, CKey, size) entries describing which files belong to a given
// platform/locale/architecture selection.
package install

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/ngdp-go/casc/casckey"
)

var (
	ErrBadMagic           = errors.New("install: bad magic")
	ErrUnsupportedVersion = errors.New("install: unsupported version")
	ErrUnsupportedKeySize = errors.New("install: unsupported ckey length")
	ErrTruncated          = errors.New("install: truncated manifest")
)

var magic = [2]byte{'I', 'N'}

// Tag is a named selector (platform, locale, architecture, ...) with one
// bit per entry in Manifest.Entries.
type Tag struct {
	Name    string
	Type    uint16
	Bitmask []byte
}

// Has reports whether the bit for entry index i is set.
func (t Tag) Has(i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(t.Bitmask) {
		return false
	}
	return t.Bitmask[byteIdx]&(1<<uint(7-i%8)) != 0
}

// Entry is one install-manifest file record.
type Entry struct {
	Path string
	CKey casckey.Key
	Size uint32
}

// Manifest is a fully parsed install manifest.
type Manifest struct {
	Tags    []Tag
	Entries []Entry
}

// Parse decodes a full install manifest.
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
	ckeyLength, err := dec.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: ckey_length: %v", ErrTruncated, err)
	}
	if ckeyLength != 16 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKeySize, ckeyLength)
	}
	tagCount, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: tag_count: %v", ErrTruncated, err)
	}
	entryCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_count: %v", ErrTruncated, err)
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

	entries := make([]Entry, entryCount)
	for i := range entries {
		path, err := readCString(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d path: %v", ErrTruncated, i, err)
		}
		var ckeyBuf [16]byte
		if _, err := dec.Read(ckeyBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d ckey: %v", ErrTruncated, i, err)
		}
		ckey, err := casckey.FromBytes(ckeyBuf[:])
		if err != nil {
			return nil, err
		}
		size, err := dec.ReadUint32(bin.BE)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d size: %v", ErrTruncated, i, err)
		}
		entries[i] = Entry{Path: path, CKey: ckey, Size: size}
	}

	return &Manifest{Tags: tags, Entries: entries}, nil
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

// CombineMode selects how multiple tags' bitmasks are combined.
type CombineMode int

const (
	CombineAND CombineMode = iota
	CombineOR
)

// SelectEntries returns the indexes of entries whose bit is set under the
// named tags, combined with mode.
func (m *Manifest) SelectEntries(tagNames []string, mode CombineMode) ([]int, error) {
	var tags []Tag
	for _, name := range tagNames {
		found := false
		for _, t := range m.Tags {
			if t.Name == name {
				tags = append(tags, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("install: unknown tag %q", name)
		}
	}
	if len(tags) == 0 {
		return nil, nil
	}

	var selected []int
	for i := range m.Entries {
		include := mode == CombineAND
		for _, t := range tags {
			has := t.Has(i)
			if mode == CombineAND {
				include = include && has
			} else {
				include = include || has
			}
		}
		if include {
			selected = append(selected, i)
		}
	}
	return selected, nil
}
