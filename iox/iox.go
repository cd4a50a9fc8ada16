// Package iox provides I/O helpers for ranged reads and resource cleanup.
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// ClampRange clamps [offset, offset+length) to [0, size).
// Returns the clamped length, which is 0 when offset >= size or length <= 0.
func ClampRange(size, offset, length int64) int64 {
	if length <= 0 || offset >= size {
		return 0
	}
	if remaining := size - offset; length > remaining {
		return remaining
	}
	return length
}

// ReadRangeAt reads [offset, offset+length) from r, clamped to size.
// A short read at the end of r is not an error.
func ReadRangeAt(r io.ReaderAt, size, offset, length int64) ([]byte, error) {
	n := ClampRange(size, offset, length)
	if n == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	read, err := r.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}
