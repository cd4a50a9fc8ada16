package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/wsfs/wire"
)

// DefaultParts is the number of concurrent ranges used to copy a file.
const DefaultParts = 20

// contextReaderAt is implemented by readers that honor cancellation.
type contextReaderAt interface {
	ReadAtContext(ctx context.Context, p []byte, off int64) (int, error)
}

// CopyResult describes a completed copy.
type CopyResult struct {
	Bytes    int64
	Parts    int
	Duration time.Duration
}

// partRange returns the [offset, offset+length) of part i out of parts.
// The last part absorbs the remainder.
func partRange(size int64, parts, i int) (offset, length int64) {
	partSize := size / int64(parts)
	offset = partSize * int64(i)
	length = partSize
	if i == parts-1 {
		length = size - offset
	}
	return offset, length
}

// copyPart copies [offset, offset+length) from src to dst in chunks of at
// most wire.MaxReadLength, reusing one buffer.
func copyPart(ctx context.Context, dst io.WriterAt, src io.ReaderAt, offset, length int64) (int64, error) {
	buf := make([]byte, min(length, int64(wire.MaxReadLength)))
	var done int64
	for done < length {
		p := buf[:min(length-done, int64(len(buf)))]
		at := offset + done

		var (
			n   int
			err error
		)
		if cr, ok := src.(contextReaderAt); ok {
			n, err = cr.ReadAtContext(ctx, p, at)
		} else {
			n, err = src.ReadAt(p, at)
		}
		if n > 0 {
			if _, werr := dst.WriteAt(p[:n], at); werr != nil {
				return done, fmt.Errorf("write at %d: %w", at, werr)
			}
			done += int64(n)
		}
		if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
			return done, fmt.Errorf("read at %d: %w", at, err)
		}
		if err == nil && n == 0 {
			return done, fmt.Errorf("read at %d: %w", at, io.ErrNoProgress)
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
	}
	return done, nil
}

// CopyTo copies size bytes from src to dst using parts concurrent ranges.
// Each part is streamed in bounded chunks. The first failing part cancels
// the others and its error is returned.
func CopyTo(ctx context.Context, dst io.WriterAt, src io.ReaderAt, size int64, parts int) (CopyResult, error) {
	start := time.Now()
	if size <= 0 {
		return CopyResult{Duration: time.Since(start)}, nil
	}
	if parts <= 0 {
		parts = DefaultParts
	}
	if int64(parts) > size {
		parts = int(size)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		copied   int64
		copiedMu sync.Mutex
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range parts {
		offset, length := partRange(size, parts, i)
		wg.Add(1)
		go func() {
			defer wg.Done()

			n, err := copyPart(ctx, dst, src, offset, length)
			copiedMu.Lock()
			copied += n
			copiedMu.Unlock()
			if err != nil {
				fail(fmt.Errorf("part %d at %d: %w", i, offset, err))
			}
		}()
	}
	wg.Wait()

	result := CopyResult{Bytes: copied, Parts: parts, Duration: time.Since(start)}
	if firstErr != nil {
		return result, firstErr
	}
	return result, ctx.Err()
}
