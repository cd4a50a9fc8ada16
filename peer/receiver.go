package peer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/wsfs/iox"
	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/types"
)

// FileStore persists a received file and returns where it landed.
type FileStore interface {
	PutFile(ctx context.Context, fileID string, info types.FileInfo, r io.Reader) (string, error)
}

// Received describes a file copied from a responder into storage.
type Received struct {
	FileID      string
	Info        types.FileInfo
	StoragePath string
	Bytes       int64
	Parts       int
	Duration    time.Duration
	CompletedAt time.Time
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Parts is the number of concurrent ranges per file (default 20).
	Parts int
	// SpoolDir holds partial copies before they are stored (default os.TempDir()).
	SpoolDir string
	// OnReceived is called after a file is stored (optional).
	OnReceived func(ctx context.Context, r *Received)
}

// Receiver copies announced files into a FileStore.
type Receiver struct {
	config    ReceiverConfig
	store     FileStore
	logger    *log.Logger
	collector *metrics.Collector
}

// NewReceiver creates a receiver. logger and collector may be nil.
func NewReceiver(cfg ReceiverConfig, store FileStore, logger *log.Logger, collector *metrics.Collector) *Receiver {
	if cfg.Parts <= 0 {
		cfg.Parts = DefaultParts
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Receiver{config: cfg, store: store, logger: logger, collector: collector}
}

// OnAnnounce adapts Receive to a Handler callback. Failures are logged.
func (r *Receiver) OnAnnounce(ctx context.Context, f *RemoteFile) {
	if _, err := r.Receive(ctx, f); err != nil {
		r.logger.Error("receive failed", map[string]any{
			"file_id": f.ID,
			"name":    f.Info.Name,
			"error":   err.Error(),
		})
	}
}

// Receive copies f to a spool file in parallel parts, then stores it.
func (r *Receiver) Receive(ctx context.Context, f *RemoteFile) (*Received, error) {
	received, err := r.receive(ctx, f)
	if err != nil {
		r.collector.IncFileFailed()
		return nil, err
	}
	r.collector.RecordFileReceived(received.Bytes)

	r.logger.Info("file received", map[string]any{
		"file_id":      received.FileID,
		"name":         received.Info.Name,
		"bytes":        received.Bytes,
		"parts":        received.Parts,
		"duration_ms":  received.Duration.Milliseconds(),
		"storage_path": received.StoragePath,
	})

	if r.config.OnReceived != nil {
		r.config.OnReceived(ctx, received)
	}
	return received, nil
}

func (r *Receiver) receive(ctx context.Context, f *RemoteFile) (*Received, error) {
	spool, err := os.CreateTemp(r.config.SpoolDir, "wsfs-*.part")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		iox.DiscardClose(spool)
		_ = os.Remove(spool.Name())
	}()

	r.logger.Debug("copying file", map[string]any{
		"file_id": f.ID,
		"size":    f.Size(),
		"parts":   r.config.Parts,
		"spool":   spool.Name(),
	})

	result, err := CopyTo(ctx, spool, f, f.Size(), r.config.Parts)
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", f.Info.Name, err)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	path, err := r.store.PutFile(ctx, f.ID, f.Info, io.LimitReader(spool, result.Bytes))
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", f.Info.Name, err)
	}

	return &Received{
		FileID:      f.ID,
		Info:        f.Info,
		StoragePath: path,
		Bytes:       result.Bytes,
		Parts:       result.Parts,
		Duration:    result.Duration,
		CompletedAt: time.Now().UTC(),
	}, nil
}
