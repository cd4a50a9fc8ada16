package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/wire"
)

// AnnounceFunc is called, on its own goroutine, for every announced file.
// ctx is canceled when the announcing connection closes.
type AnnounceFunc func(ctx context.Context, f *RemoteFile)

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// OnAnnounce receives each announced file (optional).
	OnAnnounce AnnounceFunc
	// RequestTimeout bounds each readRequest round trip (default 30s).
	RequestTimeout time.Duration
	// CheckOrigin overrides the upgrader origin check. Nil accepts any
	// origin so browser responders on other hosts can connect.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades HTTP requests to control-channel sessions.
type Handler struct {
	config    HandlerConfig
	registry  *Registry
	logger    *log.Logger
	collector *metrics.Collector
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewHandler creates a handler registering files into registry.
// logger and collector may be nil.
func NewHandler(cfg HandlerConfig, registry *Registry, logger *log.Logger, collector *metrics.Collector) *Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Handler{
		config:    cfg,
		registry:  registry,
		logger:    logger,
		collector: collector,
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		sessions:  make(map[*session]struct{}),
	}
}

// ServeHTTP implements http.Handler. It blocks for the life of the session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	conn := wire.NewConn(ws, wire.EncodingJSON)
	sess := newSession(conn, h.registry, h.logger, h.collector, h.config.RequestTimeout)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.sessions[sess] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		sess.close()
		_ = conn.Close()
		h.mu.Lock()
		delete(h.sessions, sess)
		h.mu.Unlock()
	}()

	sess.logger.Info("responder connected", map[string]any{"remote_addr": r.RemoteAddr})
	h.readLoop(ctx, sess)
	sess.logger.Info("responder disconnected", nil)
}

func (h *Handler) readLoop(ctx context.Context, sess *session) {
	for {
		msg, err := sess.conn.ReadMessage()
		if err != nil {
			var codecErr *wire.CodecError
			if errors.As(err, &codecErr) && !codecErr.IsFatal() {
				h.collector.IncDecodeErrors()
				sess.logger.Warn("dropping undecodable message", map[string]any{"error": err.Error()})
				continue
			}
			if !wire.IsClosed(err) {
				sess.logger.Warn("websocket error", map[string]any{"error": err.Error()})
			}
			return
		}

		switch m := msg.(type) {
		case *types.ClientAnnounce:
			sess.mu.Lock()
			sess.clientID = m.ClientID
			sess.mu.Unlock()
			sess.logger.Info("client announced", map[string]any{
				"client_id": m.ClientID,
				"version":   m.Version,
				"encoding":  m.Encoding,
			})

		case *types.FileAnnounce:
			f, err := sess.addFile(m)
			if err != nil {
				sess.logger.Warn("rejecting file announcement", map[string]any{
					"name":  m.Name,
					"size":  m.Size,
					"error": err.Error(),
				})
				continue
			}
			h.collector.IncFileAnnounced()
			sess.logger.Info("file announced", map[string]any{
				"file_id": f.ID,
				"name":    f.Info.Name,
				"size":    f.Info.Size,
			})
			if h.config.OnAnnounce != nil && h.track() {
				go func() {
					defer h.wg.Done()
					h.config.OnAnnounce(ctx, f)
				}()
			}

		case *types.ReadResponse:
			if !sess.deliver(m) {
				reason := "no reader waiting"
				if _, err := h.registry.Get(m.FileID); errors.Is(err, ErrFileNotFound) {
					reason = "unknown file"
				}
				sess.logger.Debug("unsolicited readResponse", map[string]any{
					"file_id": m.FileID,
					"offset":  m.Offset,
					"reason":  reason,
				})
			}

		default:
			sess.logger.Debug("ignoring message", map[string]any{"type": fmt.Sprintf("%T", msg)})
		}
	}
}

// track registers an announce callback with wg. It returns false once the
// handler is closed, so no Add can race with the Wait in Close.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// Files returns the files announced on open sessions, ordered by id.
func (h *Handler) Files() []*RemoteFile {
	return h.registry.List()
}

// Close closes every open session and waits for announce callbacks.
// Connections arriving afterwards are refused.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
	h.wg.Wait()
	return nil
}
