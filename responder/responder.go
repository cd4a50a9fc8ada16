// Package responder serves byte ranges of the selected file to a remote
// peer over a WebSocket control channel.
//
// The responder dials the peer, introduces itself with clientAnnounce,
// announces the selected file, and then answers every readRequest with a
// readResponse on the same connection. Requests are answered concurrently
// and carry no ordering guarantee. A request that arrives while no file is
// selected is dropped without a reply.
package responder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pithecene-io/wsfs/iox"
	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/source"
	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/wire"
)

// DefaultURL is the control channel used when none is configured.
const DefaultURL = "ws://localhost:8015/fileAnnounce"

// DefaultHandshakeTimeout bounds the WebSocket handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrNotConnected is returned by Announce before Run has connected.
var ErrNotConnected = errors.New("responder not connected")

// Config configures a Responder.
type Config struct {
	// URL is the control channel WebSocket URL.
	URL string
	// Encoding selects the codec for responses (default json).
	Encoding wire.Encoding
	// ClientID identifies this responder in clientAnnounce.
	ClientID string
	// Header is sent with the WebSocket handshake.
	Header http.Header
	// HandshakeTimeout bounds the dial (default 10s).
	HandshakeTimeout time.Duration
}

// Responder answers read requests for a Selection.
type Responder struct {
	config    Config
	selection *source.Selection
	logger    *log.Logger
	collector *metrics.Collector

	mu   sync.Mutex
	conn *wire.Conn

	inflight sync.WaitGroup
}

// New creates a responder. logger and collector may be nil.
func New(cfg Config, selection *source.Selection, logger *log.Logger, collector *metrics.Collector) (*Responder, error) {
	if selection == nil {
		return nil, errors.New("responder requires a selection")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Encoding == "" {
		cfg.Encoding = wire.EncodingJSON
	}
	if _, err := wire.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Responder{
		config:    cfg,
		selection: selection,
		logger:    logger,
		collector: collector,
	}, nil
}

// Run connects to the control channel and serves requests until ctx is
// done or the connection fails. A context cancellation returns nil.
func (r *Responder) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: r.config.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, r.config.URL, r.config.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.config.URL, err)
	}
	conn := wire.NewConn(ws, r.config.Encoding)

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	defer func() {
		r.inflight.Wait()
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
	}()

	// Closing the connection unblocks ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer iox.DiscardClose(conn)

	r.logger.Info("control channel open", map[string]any{
		"url":      r.config.URL,
		"encoding": string(r.config.Encoding),
	})

	hello := &types.ClientAnnounce{
		Type:     types.MessageTypeClientAnnounce,
		ClientID: r.config.ClientID,
		Version:  types.Version,
		Encoding: string(r.config.Encoding),
	}
	if err := conn.WriteMessageWith(wire.EncodingJSON, hello); err != nil {
		return fmt.Errorf("send clientAnnounce: %w", err)
	}

	if _, ok := r.selection.Current(); ok {
		if err := r.Announce(); err != nil {
			return err
		}
	}

	err = r.readLoop(ctx, conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Responder) readLoop(ctx context.Context, conn *wire.Conn) error {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			var codecErr *wire.CodecError
			if errors.As(err, &codecErr) && !codecErr.IsFatal() {
				r.collector.IncDecodeErrors()
				if wire.IsCodecError(err, wire.CodecErrorUnknownType) {
					r.logger.Debug("ignoring message of unknown type", map[string]any{"error": err.Error()})
				} else {
					r.logger.Warn("dropping undecodable message", map[string]any{"error": err.Error()})
				}
				continue
			}
			if ctx.Err() != nil || wire.IsClosed(err) {
				r.logger.Info("control channel closed", nil)
				return nil
			}
			return fmt.Errorf("control channel: %w", err)
		}

		switch m := msg.(type) {
		case *types.ReadRequest:
			r.collector.IncRequestReceived()
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				r.serve(conn, m)
			}()
		default:
			r.logger.Debug("ignoring message", map[string]any{"type": fmt.Sprintf("%T", msg)})
		}
	}
}

// serve answers one read request.
func (r *Responder) serve(conn *wire.Conn, req *types.ReadRequest) {
	info, ok := r.selection.Current()
	if !ok {
		r.collector.IncDropped(metrics.DropNoSelection)
		r.logger.Debug("no file selected, dropping request", map[string]any{
			"offset": req.Offset,
			"length": req.Length,
		})
		return
	}
	if req.FileName != "" && req.FileName != info.Name {
		r.collector.IncDropped(metrics.DropStale)
		r.logger.Debug("request names another file, dropping", map[string]any{
			"requested": req.FileName,
			"selected":  info.Name,
		})
		return
	}

	// Only the end of file shortens a range. A range that cannot fit in
	// one frame is refused rather than cut.
	length := req.Length
	if req.Offset >= 0 {
		length = iox.ClampRange(info.Size, req.Offset, req.Length)
		if length > wire.MaxServeLength {
			r.collector.IncDropped(metrics.DropTooLarge)
			r.logger.Warn("range exceeds frame limit, dropping request", map[string]any{
				"offset": req.Offset,
				"end":    req.End(),
				"limit":  wire.MaxServeLength,
			})
			return
		}
	}
	data, read, err := r.selection.ReadRange(req.Offset, length)
	if err != nil {
		reason := metrics.DropReadError
		if errors.Is(err, source.ErrNoSelection) {
			reason = metrics.DropNoSelection
		}
		r.collector.IncDropped(reason)
		r.logger.Warn("read failed, dropping request", map[string]any{
			"offset": req.Offset,
			"length": req.Length,
			"error":  err.Error(),
		})
		return
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = read.Name
	}
	resp := &types.ReadResponse{
		Type:     types.MessageTypeReadResponse,
		FileID:   req.FileID,
		FileName: fileName,
		Offset:   req.Offset,
		Data:     data,
	}
	if err := conn.WriteMessage(resp); err != nil {
		r.collector.IncDropped(metrics.DropWriteError)
		r.logger.Warn("write failed", map[string]any{"offset": req.Offset, "error": err.Error()})
		return
	}

	r.collector.RecordServed(int64(len(data)), int64(len(data)) < req.Length)
	r.logger.Debug("served range", map[string]any{
		"offset":    req.Offset,
		"requested": req.Length,
		"sent":      len(data),
	})
}

// Announce sends fileAnnounce for the current selection.
func (r *Responder) Announce() error {
	info, ok := r.selection.Current()
	if !ok {
		return source.ErrNoSelection
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.WriteMessageWith(wire.EncodingJSON, types.NewFileAnnounce(info)); err != nil {
		return fmt.Errorf("send fileAnnounce: %w", err)
	}
	r.collector.IncAnnounceSent()
	r.logger.Info("announced file", map[string]any{
		"name": info.Name,
		"size": info.Size,
		"mime": info.Mime,
	})
	return nil
}

// Select installs the file at path and announces it when connected.
func (r *Responder) Select(path string) (types.FileInfo, error) {
	info, err := r.selection.Select(path)
	if err != nil {
		return info, err
	}
	if err := r.Announce(); err != nil && !errors.Is(err, ErrNotConnected) {
		return info, err
	}
	return info, nil
}
