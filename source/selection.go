// Package source holds the file a responder serves.
//
// A Selection contains at most one file at a time. Selecting a new file
// replaces the old one; readers already in flight against the old file
// finish before it is closed.
package source

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/wsfs/iox"
	"github.com/pithecene-io/wsfs/types"
)

// ErrNoSelection is returned when no file has been selected.
var ErrNoSelection = errors.New("no file selected")

// ErrNegativeOffset is returned for a read range starting before the file.
var ErrNegativeOffset = errors.New("negative offset")

// selected is one installed file. wg tracks in-flight reads so the
// underlying handle is closed only after the last one finishes.
type selected struct {
	info   types.FileInfo
	reader io.ReaderAt
	closer io.Closer

	wg sync.WaitGroup
}

// Selection is the current file. Safe for concurrent use.
type Selection struct {
	mu      sync.RWMutex
	current *selected
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{}
}

// Select opens the file at path and installs it, replacing any previous file.
func (s *Selection) Select(path string) (types.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.FileInfo{}, fmt.Errorf("open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		iox.DiscardClose(f)
		return types.FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.IsDir() {
		iox.DiscardClose(f)
		return types.FileInfo{}, fmt.Errorf("%s is a directory", path)
	}

	info := types.FileInfo{
		Name:         filepath.Base(path),
		Size:         stat.Size(),
		Mime:         DetectMime(path),
		LastModified: stat.ModTime().UTC(),
	}
	s.install(&selected{info: info, reader: f, closer: f})
	return info, nil
}

// SelectReader installs r as the current file. If r implements io.Closer it
// is closed when replaced.
func (s *Selection) SelectReader(info types.FileInfo, r io.ReaderAt) {
	sel := &selected{info: info, reader: r}
	if c, ok := r.(io.Closer); ok {
		sel.closer = c
	}
	s.install(sel)
}

func (s *Selection) install(sel *selected) {
	s.mu.Lock()
	old := s.current
	s.current = sel
	s.mu.Unlock()

	if old != nil {
		go retire(old)
	}
}

// retire waits for in-flight reads on old, then closes it.
func retire(old *selected) {
	old.wg.Wait()
	if old.closer != nil {
		iox.DiscardClose(old.closer)
	}
}

// Current returns the selected file's info.
func (s *Selection) Current() (types.FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return types.FileInfo{}, false
	}
	return s.current.info, true
}

// acquire returns the current file with an in-flight read registered.
func (s *Selection) acquire() (*selected, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoSelection
	}
	s.current.wg.Add(1)
	return s.current, nil
}

// ReadRange returns bytes [offset, offset+length) of the current file,
// clamped to the file size. An offset at or past the end, or a
// non-positive length, yields an empty slice. The FileInfo of the file
// actually read is returned alongside so callers can label the response.
func (s *Selection) ReadRange(offset, length int64) ([]byte, types.FileInfo, error) {
	if offset < 0 {
		return nil, types.FileInfo{}, ErrNegativeOffset
	}

	sel, err := s.acquire()
	if err != nil {
		return nil, types.FileInfo{}, err
	}
	defer sel.wg.Done()

	data, err := iox.ReadRangeAt(sel.reader, sel.info.Size, offset, length)
	if err != nil {
		return nil, sel.info, fmt.Errorf("read %s [%d,+%d): %w", sel.info.Name, offset, length, err)
	}
	return data, sel.info, nil
}

// Close releases the current file. The selection becomes empty.
func (s *Selection) Close() error {
	s.mu.Lock()
	old := s.current
	s.current = nil
	s.mu.Unlock()

	if old == nil {
		return nil
	}
	old.wg.Wait()
	if old.closer != nil {
		return old.closer.Close()
	}
	return nil
}

// DetectMime returns the MIME type for path from its extension, or
// application/octet-stream when unknown.
func DetectMime(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
