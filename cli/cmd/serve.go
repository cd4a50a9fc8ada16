package cmd

import (
	"errors"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/responder"
	"github.com/pithecene-io/wsfs/source"
	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/wire"
)

// ServeCommand returns the serve command.
// Serve selects a local file and answers read requests for it until
// interrupted or the control channel closes.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve byte ranges of a local file to a remote peer",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to the file to serve",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Control channel WebSocket URL",
				Value: responder.DefaultURL,
			},
			&cli.StringFlag{
				Name:  "encoding",
				Usage: "Response encoding: json or msgpack",
				Value: string(wire.EncodingJSON),
			},
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "Identifier sent in clientAnnounce",
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "Handshake header as 'Key: Value' (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Re-announce the file when it changes on disk",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Coalesce change events within this window (--watch)",
				Value: source.DefaultDebounce,
			},
		}),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rc := cfg.Responder

	enc, err := wire.ParseEncoding(stringOption(c, "encoding", rc.Encoding))
	if err != nil {
		return configError("%v", err)
	}
	header, err := parseHeaders(rc.Headers, c.StringSlice("header"))
	if err != nil {
		return configError("%v", err)
	}

	path := c.String("file")
	sess, err := newSession(c, cfg, types.RoleResponder, filepath.Base(path), string(enc), "")
	if err != nil {
		return err
	}
	defer func() { _ = sess.logger.Sync() }()

	selection := source.NewSelection()
	defer func() { _ = selection.Close() }()

	r, err := responder.New(responder.Config{
		URL:      stringOption(c, "url", rc.URL),
		Encoding: enc,
		ClientID: stringOption(c, "client-id", rc.ClientID),
		Header:   header,
	}, selection, sess.logger, sess.collector)
	if err != nil {
		return configError("%v", err)
	}

	if _, err := r.Select(path); err != nil {
		return failure("select %s: %v", path, err)
	}

	ctx, stop := signalContext()
	defer stop()

	if boolOption(c, "watch", rc.Watch) {
		debounce := durationOption(c, "debounce", rc.Debounce)
		go func() {
			err := source.Watch(ctx, path, debounce, func() {
				if _, err := r.Select(path); err != nil {
					sess.logger.Warn("reselect failed", map[string]any{"error": err.Error()})
				}
			})
			if err != nil && ctx.Err() == nil {
				sess.logger.Warn("watch stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	runErr := r.Run(ctx)
	if err := renderStats(c, sess.collector.Snapshot()); err != nil {
		return configError("%v", err)
	}
	if runErr != nil && !errors.Is(runErr, ctx.Err()) {
		return failure("serve: %v", runErr)
	}
	return nil
}
