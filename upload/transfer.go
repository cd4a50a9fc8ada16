package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tus "github.com/eventials/go-tus"
)

// transfer is the state of one upload across attempts.
type transfer struct {
	u      *Uploader
	client *tus.Client
	upload *tus.Upload
	size   int64

	url      string
	uploader *tus.Uploader
}

func (t *transfer) offset() int64 {
	if t.uploader == nil {
		return 0
	}
	return t.uploader.Offset()
}

// attempt creates the upload on first use, or resumes it from the server
// offset, then sends chunks until done.
func (t *transfer) attempt(ctx context.Context) error {
	switch {
	case t.uploader == nil:
		created, err := t.client.CreateUpload(t.upload)
		if err != nil {
			return fmt.Errorf("create upload: %w", err)
		}
		t.uploader = created
		t.url = created.Url()
		t.u.logger.Debug("upload created", map[string]any{"url": t.url, "size": t.size})

	default:
		off, err := t.serverOffset(ctx)
		if errors.Is(err, tus.ErrUploadNotFound) {
			// The server dropped the upload; start over.
			t.uploader = nil
			return err
		}
		if err != nil {
			return err
		}
		t.uploader = tus.NewUploader(t.client, t.url, t.upload, off)
		t.u.logger.Debug("upload resumed", map[string]any{"url": t.url, "offset": off})
	}

	for t.uploader.Offset() < t.size {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.uploader.UploadChunck(); err != nil {
			return fmt.Errorf("upload chunk at %d: %w", t.uploader.Offset(), err)
		}
		t.progress(t.uploader.Offset())
	}
	if t.size == 0 {
		t.progress(0)
	}
	return nil
}

func (t *transfer) progress(uploaded int64) {
	if t.u.config.OnProgress != nil {
		t.u.config.OnProgress(Progress{Uploaded: uploaded, Total: t.size})
	}
}

// serverOffset asks the server how many bytes it holds with a HEAD request.
func (t *transfer) serverOffset(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create HEAD request: %w", err)
	}
	req.Header = t.u.header()
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := t.u.config.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", t.url, err)
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		off, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("HEAD %s: bad Upload-Offset: %w", t.url, err)
		}
		return off, nil
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		return 0, tus.ErrUploadNotFound
	default:
		return 0, tus.ClientError{Code: resp.StatusCode}
	}
}
