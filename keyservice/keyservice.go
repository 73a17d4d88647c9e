// Package keyservice implements blte.KeyService against a line-delimited
// "name_hex key_hex" file, the community-maintained "TACTKeys" format.
package keyservice

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("keyservice")

var ErrMalformedLine = errors.New("keyservice: malformed key line")

// Static is an in-memory, read-only key-name -> key table. It satisfies
// blte.KeyService without importing the blte package (the method set
// matches structurally, matching how the codec only ever sees the trait).
type Static struct {
	mu   sync.RWMutex
	keys map[[8]byte][16]byte
}

// New returns an empty Static key service.
func New() *Static {
	return &Static{keys: make(map[[8]byte][16]byte)}
}

// LookupKey implements blte.KeyService.
func (s *Static) LookupKey(keyName [8]byte) (key [16]byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok = s.keys[keyName]
	return key, ok
}

// Add inserts or replaces one key-name/key pair.
func (s *Static) Add(keyName [8]byte, key [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyName] = key
}

// Len reports how many keys are currently loaded.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// LoadFile reads a TACTKeys-format file: one "name_hex key_hex" pair per
// line (whitespace-separated), blank lines and "#"-prefixed comments
// ignored. Returns the loaded key service.
func LoadFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keyservice: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads the TACTKeys format from r.
func Load(r io.Reader) (*Static, error) {
	s := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w at line %d", ErrMalformedLine, lineNo)
		}
		nameBytes, err := hex.DecodeString(fields[0])
		if err != nil || len(nameBytes) != 8 {
			return nil, fmt.Errorf("%w at line %d: bad key name", ErrMalformedLine, lineNo)
		}
		keyBytes, err := hex.DecodeString(fields[1])
		if err != nil || len(keyBytes) != 16 {
			return nil, fmt.Errorf("%w at line %d: bad key value", ErrMalformedLine, lineNo)
		}
		var name [8]byte
		var key [16]byte
		copy(name[:], nameBytes)
		copy(key[:], keyBytes)
		s.Add(name, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("keyservice: scan: %w", err)
	}
	log.Debugw("loaded key service", "count", s.Len())
	return s, nil
}
