package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/notify"
	"github.com/pithecene-io/wsfs/peer"
	"github.com/pithecene-io/wsfs/storage"
	"github.com/pithecene-io/wsfs/types"
)

// DefaultListen is the receiver listen address.
const DefaultListen = ":8015"

const shutdownTimeout = 5 * time.Second

// ReceiveCommand returns the receive command.
// Receive accepts responder connections, copies every announced file into
// storage, records it in the ledger, and publishes file_received.
func ReceiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "receive",
		Usage: "Accept announced files from responders and store them",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address",
				Value: DefaultListen,
			},
			&cli.IntFlag{
				Name:  "parts",
				Usage: "Concurrent ranges per file",
				Value: peer.DefaultParts,
			},
			&cli.DurationFlag{
				Name:  "request-timeout",
				Usage: "Timeout for a single read request",
				Value: peer.DefaultRequestTimeout,
			},
			&cli.StringFlag{
				Name:  "spool-dir",
				Usage: "Directory for partial copies (default system temp)",
			},
		}, storageFlags(), adapterFlags()),
		Action: receiveAction,
	}
}

// receiveMux routes both control channel paths to h.
func receiveMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/fileAnnounce", h)
	mux.Handle("/ws", h)
	return mux
}

// receivedHook records each stored file in the ledger and publishes it.
func receivedHook(store *storage.Store, publisher notify.Publisher, logger *log.Logger) func(context.Context, *peer.Received) {
	return func(ctx context.Context, r *peer.Received) {
		// The announcing connection may already be gone; the copy is stored.
		ctx = context.WithoutCancel(ctx)

		err := store.RecordTransfer(ctx, storage.TransferRecord{
			FileID:      r.FileID,
			Name:        r.Info.Name,
			Size:        r.Info.Size,
			Mime:        r.Info.Mime,
			StoragePath: r.StoragePath,
			Bytes:       r.Bytes,
			Parts:       r.Parts,
			Duration:    r.Duration,
			Direction:   storage.DirectionReceived,
			CompletedAt: r.CompletedAt,
		})
		if err != nil {
			logger.Warn("record transfer failed", map[string]any{
				"file_id": r.FileID,
				"error":   err.Error(),
			})
		}

		publish(ctx, publisher, logger, notify.FileReceived(
			r.FileID, r.Info.Name, r.Bytes, r.Info.Mime, r.StoragePath,
			r.Duration, r.CompletedAt, types.Version))
	}
}

func receiveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rc := cfg.Receiver

	storeCfg, err := storageConfig(c, cfg.Storage)
	if err != nil {
		return configError("%v", err)
	}

	sess, err := newSession(c, cfg, types.RoleReceiver, "", "", string(storeCfg.Backend))
	if err != nil {
		return err
	}
	defer func() { _ = sess.logger.Sync() }()

	publisher, err := newPublisher(c, cfg.Adapter)
	if err != nil {
		return configError("%v", err)
	}
	defer func() { _ = publisher.Close() }()

	ctx, stop := signalContext()
	defer stop()

	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return failure("open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	receiver := peer.NewReceiver(peer.ReceiverConfig{
		Parts:      intOption(c, "parts", rc.Parts),
		SpoolDir:   stringOption(c, "spool-dir", rc.SpoolDir),
		OnReceived: receivedHook(store, publisher, sess.logger),
	}, store, sess.logger, sess.collector)

	handler := peer.NewHandler(peer.HandlerConfig{
		OnAnnounce:     receiver.OnAnnounce,
		RequestTimeout: durationOption(c, "request-timeout", rc.RequestTimeout),
	}, peer.NewRegistry(), sess.logger, sess.collector)

	listen := stringOption(c, "listen", rc.Listen)
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return failure("listen %s: %v", listen, err)
	}

	srv := &http.Server{
		Handler:           receiveMux(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	sess.logger.Info("receiver listening", map[string]any{
		"addr":    ln.Addr().String(),
		"backend": string(store.Backend()),
	})

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Stop accepting first: Close must not race with new sessions.
	_ = srv.Shutdown(shutdownCtx)
	for _, f := range handler.Files() {
		sess.logger.Warn("abandoning in-flight file", map[string]any{
			"file_id": f.ID,
			"name":    f.Info.Name,
			"size":    f.Info.Size,
		})
	}
	_ = handler.Close()

	if err := renderStats(c, sess.collector.Snapshot()); err != nil {
		return configError("%v", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return failure("serve: %v", serveErr)
	}
	return nil
}
