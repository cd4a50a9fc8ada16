// Package upload sends a file to a tus resumable-upload endpoint.
//
// Chunking and the tus protocol exchange are handled by go-tus. This
// package adds a retry-delay schedule that resumes from the offset the
// server reports, progress reporting, and exactly-once error and success
// callbacks.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tus "github.com/eventials/go-tus"

	"github.com/pithecene-io/wsfs/iox"
	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/source"
)

// DefaultEndpoint is the tus endpoint used when none is configured.
const DefaultEndpoint = "http://localhost:8018/files/"

// DefaultChunkSize is the PATCH body size.
const DefaultChunkSize = 2 * 1024 * 1024

// DefaultRetryDelays is the wait before each retry. Its length is the
// number of retries.
var DefaultRetryDelays = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// Progress reports bytes acknowledged by the server.
type Progress struct {
	Uploaded int64
	Total    int64
}

// Percent returns Uploaded/Total*100. An empty upload is 100%.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 100
	}
	return float64(p.Uploaded) / float64(p.Total) * 100
}

// String formats the percentage with two decimals, e.g. "42.17%".
func (p Progress) String() string {
	return strconv.FormatFloat(p.Percent(), 'f', 2, 64) + "%"
}

// Result describes a finished upload.
type Result struct {
	URL     string
	Name    string
	Size    int64
	Elapsed time.Duration
	// Seconds is Elapsed rounded to whole seconds.
	Seconds int64
}

// Config configures an Uploader.
type Config struct {
	// Endpoint is the tus creation URL.
	Endpoint string
	// RetryDelays is the wait before each retry (default DefaultRetryDelays).
	// An empty non-nil slice disables retries.
	RetryDelays []time.Duration
	// ChunkSize is the PATCH body size (default 2 MiB).
	ChunkSize int64
	// Header is added to every tus request.
	Header http.Header
	// HTTPClient overrides the client used for tus requests.
	HTTPClient *http.Client

	// OnProgress is called after every acknowledged chunk (optional).
	OnProgress func(Progress)
	// OnError is called once when the upload fails for good (optional).
	OnError func(error)
	// OnSuccess is called once when the upload completes (optional).
	OnSuccess func(Result)
}

// Uploader performs tus uploads. An Uploader may be reused; callbacks fire
// once per Upload call.
type Uploader struct {
	config    Config
	logger    *log.Logger
	collector *metrics.Collector

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Uploader. logger and collector may be nil.
func New(cfg Config, logger *log.Logger, collector *metrics.Collector) (*Uploader, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays
	}
	for i, d := range cfg.RetryDelays {
		if d < 0 {
			return nil, fmt.Errorf("retry delay %d is negative: %v", i, d)
		}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Uploader{
		config:    cfg,
		logger:    logger,
		collector: collector,
		now:       time.Now,
		sleep:     sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Upload sends the file at path. The filename metadata is the base name
// and filetype is derived from the extension.
func (u *Uploader) Upload(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, u.fail(fmt.Errorf("open %s: %w", path, err))
	}
	defer iox.DiscardClose(f)

	stat, err := f.Stat()
	if err != nil {
		return nil, u.fail(fmt.Errorf("stat %s: %w", path, err))
	}
	if stat.IsDir() {
		return nil, u.fail(fmt.Errorf("%s is a directory", path))
	}

	return u.UploadReader(ctx, filepath.Base(path), source.DetectMime(path), f, stat.Size())
}

// UploadReader sends size bytes from r under name.
func (u *Uploader) UploadReader(ctx context.Context, name, filetype string, r io.ReadSeeker, size int64) (*Result, error) {
	start := u.now()

	url, err := u.run(ctx, name, filetype, r, size)
	if err != nil {
		return nil, u.fail(err)
	}

	elapsed := u.now().Sub(start)
	result := Result{
		URL:     url,
		Name:    name,
		Size:    size,
		Elapsed: elapsed,
		Seconds: int64(math.Round(elapsed.Seconds())),
	}

	u.collector.IncUploadSucceeded()
	u.logger.Info("upload complete", map[string]any{
		"name":    name,
		"url":     url,
		"size":    size,
		"seconds": result.Seconds,
	})
	if u.config.OnSuccess != nil {
		u.config.OnSuccess(result)
	}
	return &result, nil
}

// fail records err and fires the error callback.
func (u *Uploader) fail(err error) error {
	u.collector.IncUploadFailed()
	u.logger.Error("upload failed", map[string]any{"error": err.Error()})
	if u.config.OnError != nil {
		u.config.OnError(err)
	}
	return err
}

// run drives the attempts and returns the upload URL.
func (u *Uploader) run(ctx context.Context, name, filetype string, r io.ReadSeeker, size int64) (string, error) {
	cfg := tus.DefaultConfig()
	cfg.ChunkSize = u.config.ChunkSize
	cfg.Header = u.header()
	cfg.HttpClient = u.config.HTTPClient

	client, err := tus.NewClient(u.config.Endpoint, cfg)
	if err != nil {
		return "", fmt.Errorf("tus client: %w", err)
	}

	t := &transfer{
		u:      u,
		client: client,
		upload: tus.NewUpload(r, size, tus.Metadata{"filename": name, "filetype": filetype}, ""),
		size:   size,
	}

	for retry := 0; ; retry++ {
		err := t.attempt(ctx)
		if err == nil {
			return t.url, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("upload %s: %w", name, ctx.Err())
		}
		if !retriable(err) || retry >= len(u.config.RetryDelays) {
			return "", fmt.Errorf("upload %s: %w", name, err)
		}

		delay := u.config.RetryDelays[retry]
		u.collector.IncUploadRetry()
		u.logger.Warn("upload attempt failed, retrying", map[string]any{
			"name":   name,
			"retry":  retry + 1,
			"delay":  delay.String(),
			"offset": t.offset(),
			"error":  err.Error(),
		})
		if err := u.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("upload %s: %w", name, err)
		}
	}
}

func (u *Uploader) header() http.Header {
	h := make(http.Header)
	for k, v := range u.config.Header {
		h[k] = append([]string(nil), v...)
	}
	return h
}

// retriable reports whether an attempt error may succeed on a later try.
// Client errors other than conflict, locked and rate limiting are final.
func retriable(err error) bool {
	switch {
	case errors.Is(err, tus.ErrVersionMismatch), errors.Is(err, tus.ErrLargeUpload):
		return false
	}
	var ce tus.ClientError
	if errors.As(err, &ce) && ce.Code >= 400 && ce.Code < 500 {
		switch ce.Code {
		case http.StatusConflict, http.StatusLocked, http.StatusTooManyRequests:
			return true
		}
		return false
	}
	return true
}
