// Package peer is the receiving side of the control channel.
//
// A responder announces a file; the peer exposes it as a RemoteFile whose
// reads are turned into readRequest messages and satisfied by the matching
// readResponse. Remote files can then be copied to storage in parallel
// ranges.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/wire"
)

const (
	// DefaultRequestTimeout bounds a single readRequest round trip.
	DefaultRequestTimeout = 30 * time.Second
	// MaxFileSize is the largest announced size accepted (1 TiB).
	MaxFileSize int64 = 1 << 40
)

var (
	// ErrConnClosed is returned to readers waiting when the connection ends.
	ErrConnClosed = errors.New("control channel closed")
	// ErrReadTimeout is returned when a readResponse does not arrive in time.
	ErrReadTimeout = errors.New("read request timed out")
	// ErrNegativeOffset is returned for reads and seeks before the file start.
	ErrNegativeOffset = errors.New("negative offset")
	// ErrInvalidSize is returned for announcements with an unusable size.
	ErrInvalidSize = errors.New("invalid announced size")
)

// requester issues a ranged read to the responder that owns a file.
type requester interface {
	request(ctx context.Context, f *RemoteFile, offset, length int64) ([]byte, error)
}

// RemoteFile is a file held by a responder, read over the control channel.
// ReadAt is safe for concurrent use; Read and Seek share a cursor guarded by
// a mutex.
type RemoteFile struct {
	ID   string
	Info types.FileInfo

	src     requester
	timeout time.Duration

	mu  sync.Mutex
	off int64
}

// Size returns the announced size.
func (f *RemoteFile) Size() int64 {
	return f.Info.Size
}

// ReadAt implements io.ReaderAt.
func (f *RemoteFile) ReadAt(p []byte, off int64) (int, error) {
	return f.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext reads len(p) bytes at off. Ranges larger than
// wire.MaxReadLength are split into several requests. Returns io.EOF when
// fewer than len(p) bytes are available.
func (f *RemoteFile) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= f.Info.Size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), f.Info.Size-off)
	var n int64
	for n < want {
		chunk := min(want-n, int64(wire.MaxReadLength))

		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		data, err := f.src.request(reqCtx, f, off+n, chunk)
		cancel()
		if err != nil {
			return int(n), err
		}

		copied := copy(p[n:], data)
		n += int64(copied)
		if int64(copied) < chunk {
			// The responder clamped the range; the file is shorter than announced.
			break
		}
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Read implements io.Reader using the shared cursor.
func (f *RemoteFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	n, err := f.ReadAt(p, f.off)
	f.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		return n, nil
	}
	return n, err
}

// Seek implements io.Seeker.
func (f *RemoteFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.off + offset
	case io.SeekEnd:
		abs = f.Info.Size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, ErrNegativeOffset
	}
	f.off = abs
	return abs, nil
}

var (
	_ io.ReaderAt   = (*RemoteFile)(nil)
	_ io.ReadSeeker = (*RemoteFile)(nil)
)
