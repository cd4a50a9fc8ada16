package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/wire"
)

// pendingKey identifies an outstanding readRequest.
type pendingKey struct {
	fileID string
	offset int64
}

// session is one responder connection.
type session struct {
	id        string
	conn      *wire.Conn
	registry  *Registry
	logger    *log.Logger
	collector *metrics.Collector
	timeout   time.Duration

	mu       sync.Mutex
	pending  map[pendingKey][]chan []byte
	files    map[string]*RemoteFile // by id, owned by this session
	byName   map[string]string      // file name -> latest id
	closed   bool
	doneCh   chan struct{}
	clientID string
}

func newSession(conn *wire.Conn, registry *Registry, logger *log.Logger, collector *metrics.Collector, timeout time.Duration) *session {
	id := uuid.NewString()
	return &session{
		id:        id,
		conn:      conn,
		registry:  registry,
		logger:    logger.With("connection_id", id),
		collector: collector,
		timeout:   timeout,
		pending:   make(map[pendingKey][]chan []byte),
		files:     make(map[string]*RemoteFile),
		byName:    make(map[string]string),
		doneCh:    make(chan struct{}),
	}
}

// request sends a readRequest and waits for the matching response.
func (s *session) request(ctx context.Context, f *RemoteFile, offset, length int64) ([]byte, error) {
	key := pendingKey{fileID: f.ID, offset: offset}
	ch := make(chan []byte, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrConnClosed
	}
	s.pending[key] = append(s.pending[key], ch)
	s.mu.Unlock()

	req := &types.ReadRequest{
		Type:     types.MessageTypeReadRequest,
		FileID:   f.ID,
		FileName: f.Info.Name,
		Offset:   offset,
		Length:   length,
	}
	if err := s.conn.WriteMessage(req); err != nil {
		s.forget(key, ch)
		return nil, fmt.Errorf("send readRequest: %w", err)
	}

	select {
	case data := <-ch:
		return data, nil
	case <-s.doneCh:
		s.forget(key, ch)
		return nil, ErrConnClosed
	case <-ctx.Done():
		s.forget(key, ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s [%d,+%d)", ErrReadTimeout, f.Info.Name, offset, length)
		}
		return nil, ctx.Err()
	}
}

// forget removes ch from the waiters for key.
func (s *session) forget(key pendingKey, ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.pending[key]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(s.pending, key)
	} else {
		s.pending[key] = waiters
	}
}

// deliver hands resp to the oldest waiter for its (file, offset).
// Returns false when nobody was waiting.
func (s *session) deliver(resp *types.ReadResponse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileID := resp.FileID
	if fileID == "" {
		fileID = s.byName[resp.FileName]
	}
	key := pendingKey{fileID: fileID, offset: resp.Offset}

	waiters := s.pending[key]
	if len(waiters) == 0 {
		return false
	}
	ch := waiters[0]
	if len(waiters) == 1 {
		delete(s.pending, key)
	} else {
		s.pending[key] = waiters[1:]
	}
	ch <- resp.Data
	return true
}

// addFile creates and registers a RemoteFile for an announcement.
// Announcements with a negative size or one above MaxFileSize are rejected.
func (s *session) addFile(a *types.FileAnnounce) (*RemoteFile, error) {
	if a.Size < 0 || a.Size > MaxFileSize {
		return nil, fmt.Errorf("%w: %s announced %d bytes", ErrInvalidSize, a.Name, a.Size)
	}
	f := &RemoteFile{
		ID:      uuid.NewString(),
		Info:    types.FileInfoFromAnnounce(a),
		src:     s,
		timeout: s.timeout,
	}

	s.mu.Lock()
	s.files[f.ID] = f
	s.byName[f.Info.Name] = f.ID
	s.mu.Unlock()

	s.registry.Add(f)
	return f, nil
}

// close fails all waiters and unregisters this session's files.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.doneCh)
	s.pending = make(map[pendingKey][]chan []byte)
	files := s.files
	s.files = make(map[string]*RemoteFile)
	s.mu.Unlock()

	for id := range files {
		s.registry.Remove(id)
	}
}
