package upload

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/wsfs/metrics"
)

func testData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 13)
	}
	return b
}

// recorder captures callbacks.
type recorder struct {
	progress []Progress
	errs     []error
	results  []Result
}

func (r *recorder) config(endpoint string, delays ...time.Duration) Config {
	if delays == nil {
		delays = []time.Duration{}
	}
	return Config{
		Endpoint:    endpoint,
		RetryDelays: delays,
		ChunkSize:   16,
		OnProgress:  func(p Progress) { r.progress = append(r.progress, p) },
		OnError:     func(err error) { r.errs = append(r.errs, err) },
		OnSuccess:   func(res Result) { r.results = append(r.results, res) },
	}
}

// fakeClock returns start on the first call and start+elapsed afterwards.
func fakeClock(elapsed time.Duration) func() time.Time {
	start := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	calls := 0
	return func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(elapsed)
	}
}

func newTestUploader(t *testing.T, cfg Config, c *metrics.Collector) (*Uploader, *[]time.Duration) {
	t.Helper()
	u, err := New(cfg, nil, c)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var slept []time.Duration
	u.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return u, &slept
}

func TestUpload_Success(t *testing.T) {
	srv := newFakeTus(t)
	rec := &recorder{}
	c := metrics.NewCollector("uploader", "test", "", "")
	u, _ := newTestUploader(t, rec.config(srv.endpoint()), c)
	u.now = fakeClock(2600 * time.Millisecond)

	data := testData(100)
	res, err := u.UploadReader(t.Context(), "clip.mp4", "video/mp4", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("UploadReader failed: %v", err)
	}

	if len(rec.results) != 1 {
		t.Fatalf("OnSuccess called %d times, want 1", len(rec.results))
	}
	if len(rec.errs) != 0 {
		t.Errorf("OnError called %d times, want 0", len(rec.errs))
	}
	if rec.results[0] != *res {
		t.Errorf("callback result %+v differs from returned %+v", rec.results[0], *res)
	}
	if res.Seconds != 3 {
		t.Errorf("Seconds = %d, want 3", res.Seconds)
	}
	if res.Elapsed != 2600*time.Millisecond {
		t.Errorf("Elapsed = %v, want 2.6s", res.Elapsed)
	}
	if res.URL != srv.srv.URL+"/files/u1" {
		t.Errorf("URL = %q", res.URL)
	}

	up := srv.upload("u1")
	if !bytes.Equal(up.data, data) {
		t.Error("server data differs from source")
	}
	if up.metadata["filename"] != "clip.mp4" || up.metadata["filetype"] != "video/mp4" {
		t.Errorf("metadata = %v", up.metadata)
	}

	// 100 bytes in 16-byte chunks.
	if len(rec.progress) != 7 {
		t.Errorf("progress calls = %d, want 7", len(rec.progress))
	}
	last := rec.progress[len(rec.progress)-1]
	if last.Uploaded != 100 || last.Total != 100 {
		t.Errorf("last progress = %+v, want 100/100", last)
	}
	for i := 1; i < len(rec.progress); i++ {
		if rec.progress[i].Uploaded <= rec.progress[i-1].Uploaded {
			t.Errorf("progress not increasing at %d: %v", i, rec.progress)
		}
	}

	if got := c.Snapshot().UploadsSucceeded; got != 1 {
		t.Errorf("UploadsSucceeded = %d, want 1", got)
	}
}

func TestUpload_ElapsedSecondsRounding(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{0, 0},
		{400 * time.Millisecond, 0},
		{2499 * time.Millisecond, 2},
		{2500 * time.Millisecond, 3},
		{61 * time.Second, 61},
	}
	for _, tt := range tests {
		srv := newFakeTus(t)
		rec := &recorder{}
		u, _ := newTestUploader(t, rec.config(srv.endpoint()), nil)
		u.now = fakeClock(tt.elapsed)

		res, err := u.UploadReader(t.Context(), "a", "text/plain", bytes.NewReader([]byte("abc")), 3)
		if err != nil {
			t.Fatalf("UploadReader failed: %v", err)
		}
		if res.Seconds != tt.want {
			t.Errorf("elapsed %v: Seconds = %d, want %d", tt.elapsed, res.Seconds, tt.want)
		}
	}
}

func TestUpload_ResumesFromServerOffset(t *testing.T) {
	srv := newFakeTus(t)
	srv.failPatch = func(n int) bool { return n == 3 }

	rec := &recorder{}
	c := metrics.NewCollector("uploader", "test", "", "")
	u, slept := newTestUploader(t, rec.config(srv.endpoint(), 0, 3*time.Second), c)

	data := testData(100)
	if _, err := u.UploadReader(t.Context(), "a.bin", "application/octet-stream", bytes.NewReader(data), 100); err != nil {
		t.Fatalf("UploadReader failed: %v", err)
	}

	if !bytes.Equal(srv.upload("u1").data, data) {
		t.Error("resumed upload differs from source")
	}
	if srv.heads != 1 {
		t.Errorf("HEAD requests = %d, want 1", srv.heads)
	}
	if len(*slept) != 1 || (*slept)[0] != 0 {
		t.Errorf("slept = %v, want [0s]", *slept)
	}
	if len(rec.results) != 1 || len(rec.errs) != 0 {
		t.Errorf("callbacks: %d successes, %d errors, want 1 and 0", len(rec.results), len(rec.errs))
	}
	if got := c.Snapshot().UploadRetries; got != 1 {
		t.Errorf("UploadRetries = %d, want 1", got)
	}
}

func TestUpload_ExhaustsRetryDelays(t *testing.T) {
	srv := newFakeTus(t)
	srv.failPatch = func(int) bool { return true }

	rec := &recorder{}
	c := metrics.NewCollector("uploader", "test", "", "")
	u, slept := newTestUploader(t, rec.config(srv.endpoint(), time.Millisecond, 2*time.Millisecond), c)

	_, err := u.UploadReader(t.Context(), "a.bin", "", bytes.NewReader(testData(64)), 64)
	if err == nil {
		t.Fatal("expected error")
	}

	if len(rec.errs) != 1 {
		t.Errorf("OnError called %d times, want 1", len(rec.errs))
	}
	if len(rec.results) != 0 {
		t.Errorf("OnSuccess called %d times, want 0", len(rec.results))
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("slept = %v, want %v", *slept, want)
	}
	snap := c.Snapshot()
	if snap.UploadsFailed != 1 || snap.UploadRetries != 2 {
		t.Errorf("failed = %d retries = %d, want 1 and 2", snap.UploadsFailed, snap.UploadRetries)
	}
}

func TestUpload_ClientErrorIsFinal(t *testing.T) {
	srv := newFakeTus(t)
	srv.createFn = func() int { return http.StatusForbidden }

	rec := &recorder{}
	u, slept := newTestUploader(t, rec.config(srv.endpoint(), 0, 0, 0), nil)

	if _, err := u.UploadReader(t.Context(), "a", "", bytes.NewReader([]byte("x")), 1); err == nil {
		t.Fatal("expected error")
	}
	if len(*slept) != 0 {
		t.Errorf("retried %d times after 403, want 0", len(*slept))
	}
	if len(rec.errs) != 1 {
		t.Errorf("OnError called %d times, want 1", len(rec.errs))
	}
}

func TestUpload_ServerErrorOnCreateRetries(t *testing.T) {
	srv := newFakeTus(t)
	creates := 0
	srv.createFn = func() int {
		creates++
		if creates == 1 {
			return http.StatusServiceUnavailable
		}
		return 0
	}

	rec := &recorder{}
	u, _ := newTestUploader(t, rec.config(srv.endpoint(), 0), nil)

	if _, err := u.UploadReader(t.Context(), "a", "", bytes.NewReader([]byte("xyz")), 3); err != nil {
		t.Fatalf("UploadReader failed: %v", err)
	}
	if creates != 2 {
		t.Errorf("create attempts = %d, want 2", creates)
	}
}

func TestUpload_ContextCanceledDuringDelay(t *testing.T) {
	srv := newFakeTus(t)
	srv.failPatch = func(int) bool { return true }

	rec := &recorder{}
	u, _ := newTestUploader(t, rec.config(srv.endpoint(), time.Hour), nil)
	ctx, cancel := context.WithCancel(t.Context())
	u.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := u.UploadReader(ctx, "a", "", bytes.NewReader(testData(32)), 32)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(rec.errs) != 1 {
		t.Errorf("OnError called %d times, want 1", len(rec.errs))
	}
}

func TestUpload_FromPath(t *testing.T) {
	srv := newFakeTus(t)
	rec := &recorder{}
	u, _ := newTestUploader(t, rec.config(srv.endpoint()), nil)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("some notes"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	res, err := u.Upload(t.Context(), path)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.Name != "notes.txt" || res.Size != 10 {
		t.Errorf("result = %+v", res)
	}
	up := srv.upload("u1")
	if up.metadata["filename"] != "notes.txt" || !strings.HasPrefix(up.metadata["filetype"], "text/plain") {
		t.Errorf("metadata = %v", up.metadata)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	rec := &recorder{}
	u, _ := newTestUploader(t, rec.config("http://127.0.0.1:1/files/"), nil)

	if _, err := u.Upload(t.Context(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error")
	}
	if len(rec.errs) != 1 {
		t.Errorf("OnError called %d times, want 1", len(rec.errs))
	}
}

func TestNew_Defaults(t *testing.T) {
	u, err := New(Config{}, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if u.config.Endpoint != DefaultEndpoint {
		t.Errorf("Endpoint = %q, want %q", u.config.Endpoint, DefaultEndpoint)
	}
	if len(u.config.RetryDelays) != 5 || u.config.RetryDelays[4] != 20*time.Second {
		t.Errorf("RetryDelays = %v", u.config.RetryDelays)
	}
	if u.config.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", u.config.ChunkSize, DefaultChunkSize)
	}

	if _, err := New(Config{RetryDelays: []time.Duration{-time.Second}}, nil, nil); err == nil {
		t.Error("expected error for negative delay")
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		p    Progress
		want string
	}{
		{Progress{Uploaded: 0, Total: 100}, "0.00%"},
		{Progress{Uploaded: 4217, Total: 10000}, "42.17%"},
		{Progress{Uploaded: 1, Total: 3}, "33.33%"},
		{Progress{Uploaded: 0, Total: 0}, "100.00%"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
