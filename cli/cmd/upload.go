package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/cli/render"
	"github.com/pithecene-io/wsfs/cli/tui"
	"github.com/pithecene-io/wsfs/notify"
	"github.com/pithecene-io/wsfs/source"
	"github.com/pithecene-io/wsfs/storage"
	"github.com/pithecene-io/wsfs/types"
	"github.com/pithecene-io/wsfs/upload"
)

// UploadResponse is the response for the upload command.
type UploadResponse struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
	Seconds   int64  `json:"seconds"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// UploadCommand returns the upload command.
func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload a file to a tus endpoint",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to the file to upload",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "tus creation endpoint",
				Value: upload.DefaultEndpoint,
			},
			&cli.StringFlag{
				Name:  "retry-delays",
				Usage: "Comma-separated waits before each retry (empty disables retries)",
				Value: formatDelays(upload.DefaultRetryDelays),
			},
			&cli.Int64Flag{
				Name:  "chunk-size",
				Usage: "PATCH body size in bytes",
				Value: upload.DefaultChunkSize,
			},
			&cli.StringSliceFlag{
				Name:  "header",
				Usage: "tus request header as 'Key: Value' (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show an interactive progress view",
			},
			&cli.BoolFlag{
				Name:  "record",
				Usage: "Record the upload in the transfer ledger",
			},
		}, storageFlags(), adapterFlags()),
		Action: uploadAction,
	}
}

func parseDelays(s string) ([]time.Duration, error) {
	delays := []time.Duration{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("retry delay %q is negative", part)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

func formatDelays(delays []time.Duration) string {
	parts := make([]string, len(delays))
	for i, d := range delays {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func uploadAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	uc := cfg.Upload

	delays := uc.Delays()
	if c.IsSet("retry-delays") || delays == nil {
		if delays, err = parseDelays(c.String("retry-delays")); err != nil {
			return configError("%v", err)
		}
	}
	header, err := parseHeaders(uc.Headers, c.StringSlice("header"))
	if err != nil {
		return configError("%v", err)
	}
	chunkSize := c.Int64("chunk-size")
	if !c.IsSet("chunk-size") && uc.ChunkSize > 0 {
		chunkSize = uc.ChunkSize
	}

	path := c.String("file")
	info, err := os.Stat(path)
	if err != nil {
		return failure("stat %s: %v", path, err)
	}
	name := filepath.Base(path)

	record := boolOption(c, "record", uc.Record)
	var storeCfg storage.Config
	if record {
		if storeCfg, err = storageConfig(c, cfg.Storage); err != nil {
			return configError("%v", err)
		}
	}

	sess, err := newSession(c, cfg, types.RoleUploader, name, "", string(storeCfg.Backend))
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

	var store *storage.Store
	if record {
		if store, err = storage.Open(ctx, storeCfg); err != nil {
			return failure("open storage: %v", err)
		}
		defer func() { _ = store.Close() }()
	}

	ucfg := upload.Config{
		Endpoint:    stringOption(c, "endpoint", uc.Endpoint),
		RetryDelays: delays,
		ChunkSize:   chunkSize,
		Header:      header,
	}

	var prog *tui.UploadProgram
	if c.Bool("tui") {
		prog = tui.NewUploadProgram(name, info.Size())
		ucfg.OnProgress = prog.Progress
		ucfg.OnError = prog.Failed
		ucfg.OnSuccess = prog.Done
	} else if isStderrTTY() {
		ucfg.OnProgress = func(p upload.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s %s", name, p)
		}
		ucfg.OnSuccess = func(upload.Result) { fmt.Fprintln(os.Stderr) }
		ucfg.OnError = func(error) { fmt.Fprintln(os.Stderr) }
	}

	u, err := upload.New(ucfg, sess.logger, sess.collector)
	if err != nil {
		return configError("%v", err)
	}

	started := time.Now()
	result, uploadErr := runUpload(ctx, u, path, prog)

	if store != nil {
		rec := storage.TransferRecord{
			Name:        name,
			Size:        info.Size(),
			Mime:        source.DetectMime(path),
			Direction:   storage.DirectionUploaded,
			Duration:    time.Since(started),
			CompletedAt: time.Now().UTC(),
		}
		if uploadErr != nil {
			rec.Status = storage.StatusFailed
			rec.Error = uploadErr.Error()
		} else {
			rec.URL = result.URL
			rec.Bytes = result.Size
			rec.Duration = result.Elapsed
		}
		if err := store.RecordTransfer(context.WithoutCancel(ctx), rec); err != nil {
			sess.logger.Warn("record transfer failed", map[string]any{"error": err.Error()})
		}
	}

	if uploadErr != nil {
		return failure("upload %s: %v", name, uploadErr)
	}

	publish(ctx, publisher, sess.logger, notify.UploadCompleted(
		result.Name, result.Size, result.URL, result.Elapsed, time.Now().UTC(), types.Version))

	r, err := render.NewRenderer(c)
	if err != nil {
		return configError("%v", err)
	}
	return r.Render(UploadResponse{
		Name:      result.Name,
		Size:      result.Size,
		URL:       result.URL,
		Seconds:   result.Seconds,
		ElapsedMs: result.Elapsed.Milliseconds(),
	})
}

// runUpload runs u on the calling goroutine, or alongside the progress view
// when prog is set. Quitting the view cancels the upload.
func runUpload(ctx context.Context, u *upload.Uploader, path string, prog *tui.UploadProgram) (*upload.Result, error) {
	if prog == nil {
		return u.Upload(ctx, path)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *upload.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := u.Upload(ctx, path)
		done <- outcome{res, err}
	}()

	state, tuiErr := prog.Run()
	if tuiErr != nil || state == tui.StateCanceled {
		cancel()
	}
	out := <-done
	if tuiErr != nil {
		return nil, fmt.Errorf("progress view: %w", tuiErr)
	}
	return out.result, out.err
}
