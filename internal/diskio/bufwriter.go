// Package diskio provides a small buffered-file-write helper, used by the
// disk cache's temp-file writes so it does not hand-roll its own bufio
// wiring.
package diskio

import (
	"bufio"
	"os"
)

const defaultBufferSize = 1 << 20

// BufferedFile wraps an *os.File with a write buffer, flushing and
// closing together so callers can't forget one or the other.
type BufferedFile struct {
	file *os.File
	buf  *bufio.Writer
}

// CreateBuffered creates (or truncates) the file at path and wraps it in
// a BufferedFile.
func CreateBuffered(path string) (*BufferedFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return newBufferedFile(f), nil
}

// CreateBufferedTemp creates a uniquely-named temp file in dir matching
// pattern (as os.CreateTemp) and wraps it in a BufferedFile. Name returns
// the file's actual path.
func CreateBufferedTemp(dir, pattern string) (*BufferedFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return newBufferedFile(f), nil
}

func newBufferedFile(f *os.File) *BufferedFile {
	return &BufferedFile{file: f, buf: bufio.NewWriterSize(f, defaultBufferSize)}
}

// Name returns the underlying file's path.
func (b *BufferedFile) Name() string {
	return b.file.Name()
}

func (b *BufferedFile) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

// Close flushes the buffer and closes the underlying file. If the flush
// fails the file is still closed.
func (b *BufferedFile) Close() error {
	flushErr := b.buf.Flush()
	closeErr := b.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
