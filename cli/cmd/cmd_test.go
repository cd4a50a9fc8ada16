package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/storage"
	"github.com/pithecene-io/wsfs/types"
)

func newTestApp() *cli.App {
	return &cli.App{
		Name:           "wsfs",
		Commands:       Commands("test"),
		ExitErrHandler: func(*cli.Context, error) {},
		Writer:         io.Discard,
		ErrWriter:      io.Discard,
	}
}

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, r)
		close(done)
	}()

	runErr := newTestApp().Run(append([]string{"wsfs"}, args...))
	_ = w.Close()
	<-done
	_ = r.Close()
	return buf.String(), runErr
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitFailure
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	var resp VersionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if resp.Version != types.Version {
		t.Errorf("version = %q, want %q", resp.Version, types.Version)
	}
	if resp.Commit != "test" {
		t.Errorf("commit = %q, want test", resp.Commit)
	}
}

func TestInfo(t *testing.T) {
	path := writeFile(t, "notes.txt", "hello world")

	out, err := runApp(t, "info", "--file", path, "--format", "json")
	if err != nil {
		t.Fatalf("info: %v", err)
	}

	var resp InfoResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if resp.Name != "notes.txt" {
		t.Errorf("name = %q, want notes.txt", resp.Name)
	}
	if resp.Size != 11 {
		t.Errorf("size = %d, want 11", resp.Size)
	}
	if !strings.HasPrefix(resp.Mime, "text/plain") {
		t.Errorf("mime = %q, want text/plain", resp.Mime)
	}
	if resp.LastModified <= 0 {
		t.Errorf("lastModified = %d, want > 0", resp.LastModified)
	}
}

func TestInfo_MissingFile(t *testing.T) {
	_, err := runApp(t, "info", "--file", filepath.Join(t.TempDir(), "nope"), "--format", "json")
	if got := exitCode(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitFailure, err)
	}
}

func TestConfigErrors(t *testing.T) {
	file := writeFile(t, "a.bin", "abc")
	badConfig := writeFile(t, "wsfs.yaml", "responder:\n  encoding: xml\n")

	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"info", "--file", file, "--format", "xml"}},
		{"missing config", []string{"info", "--file", file, "--config", filepath.Join(t.TempDir(), "none.yaml")}},
		{"invalid config", []string{"serve", "--file", file, "--config", badConfig}},
		{"bad encoding", []string{"serve", "--file", file, "--encoding", "xml"}},
		{"bad header", []string{"serve", "--file", file, "--header", "no-colon"}},
		{"bad log level", []string{"serve", "--file", file, "--log-level", "loud"}},
		{"bad retry delays", []string{"upload", "--file", file, "--retry-delays", "soon"}},
		{"negative retry delay", []string{"upload", "--file", file, "--retry-delays", "1s,-1s"}},
		{"unknown adapter", []string{"upload", "--file", file, "--adapter", "kafka"}},
		{"webhook without url", []string{"upload", "--file", file, "--adapter", "webhook"}},
		{"bad backend", []string{"receive", "--storage-backend", "ftp"}},
		{"bad direction", []string{"history", "--storage-backend", "memory", "--direction", "sideways"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			if got := exitCode(err); got != exitConfigError {
				t.Errorf("exit code = %d, want %d (err %v)", got, exitConfigError, err)
			}
		})
	}
}

func TestServe_DialFailure(t *testing.T) {
	file := writeFile(t, "a.bin", "abc")
	_, err := runApp(t, "serve", "--file", file, "--url", "ws://127.0.0.1:1/fileAnnounce", "--format", "json")
	if got := exitCode(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitFailure, err)
	}
}

// tusServer accepts whole uploads in any number of PATCH requests.
type tusServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	uploads map[string][]byte
	sizes   map[string]int64
	next    int
}

func newTusServer(t *testing.T) *tusServer {
	t.Helper()
	s := &tusServer{uploads: make(map[string][]byte), sizes: make(map[string]int64)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *tusServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", "1.0.0")
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimPrefix(r.URL.Path, "/files/")
	switch r.Method {
	case http.MethodPost:
		size, _ := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		s.next++
		id = "u" + strconv.Itoa(s.next)
		s.uploads[id] = nil
		s.sizes[id] = size
		w.Header().Set("Location", s.srv.URL+"/files/"+id)
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead:
		w.Header().Set("Upload-Offset", strconv.Itoa(len(s.uploads[id])))
		w.WriteHeader(http.StatusOK)
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		s.uploads[id] = append(s.uploads[id], body...)
		w.Header().Set("Upload-Offset", strconv.Itoa(len(s.uploads[id])))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *tusServer) data(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}

func TestUpload_RecordsAndReportsHistory(t *testing.T) {
	tus := newTusServer(t)
	content := strings.Repeat("wsfs", 1000)
	file := writeFile(t, "payload.bin", content)
	storePath := t.TempDir()

	out, err := runApp(t, "upload",
		"--file", file,
		"--endpoint", tus.srv.URL+"/files/",
		"--chunk-size", "1024",
		"--retry-delays", "",
		"--record",
		"--storage-path", storePath,
		"--format", "json",
	)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	var resp UploadResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if resp.URL != tus.srv.URL+"/files/u1" {
		t.Errorf("url = %q, want %q", resp.URL, tus.srv.URL+"/files/u1")
	}
	if resp.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", resp.Size, len(content))
	}
	if got := string(tus.data("u1")); got != content {
		t.Errorf("server received %d bytes, want %d", len(got), len(content))
	}

	out, err = runApp(t, "history", "--storage-path", storePath, "--format", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec["direction"] != "uploaded" || rec["status"] != "completed" {
		t.Errorf("record = %v, want uploaded/completed", rec)
	}
	if rec["url"] != resp.URL {
		t.Errorf("record url = %v, want %s", rec["url"], resp.URL)
	}
	if rec["name"] != "payload.bin" {
		t.Errorf("record name = %v, want payload.bin", rec["name"])
	}
}

func TestUpload_FailureExitCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	file := writeFile(t, "a.bin", "abc")
	_, err := runApp(t, "upload", "--file", file, "--endpoint", ts.URL+"/files/", "--retry-delays", "", "--format", "json")
	if got := exitCode(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitFailure, err)
	}
}

func TestHistory_Empty(t *testing.T) {
	out, err := runApp(t, "history", "--storage-backend", "memory", "--format", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("output = %q, want []", out)
	}
}

func TestFiles_ListReadDelete(t *testing.T) {
	root := t.TempDir()
	store, err := storage.Open(t.Context(), storage.Config{Backend: storage.BackendFS, Path: root})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	p, err := store.PutFile(t.Context(), "f1", types.FileInfo{Name: "a.txt"}, strings.NewReader("hello wsfs"))
	if err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out, err := runApp(t, "files", "--storage-path", root, "--format", "json")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	var listed []StoredFile
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if len(listed) != 1 || listed[0].Path != p {
		t.Fatalf("listed = %v, want [%s]", listed, p)
	}

	reads := []struct {
		args []string
		want string
	}{
		{nil, "hello wsfs"},
		{[]string{"--offset", "6", "--length", "4"}, "wsfs"},
		{[]string{"--offset", "6"}, "wsfs"},
	}
	for _, rd := range reads {
		args := append([]string{"files", "--storage-path", root, "--path", p}, rd.args...)
		out, err := runApp(t, args...)
		if err != nil {
			t.Fatalf("files %v: %v", rd.args, err)
		}
		if out != rd.want {
			t.Errorf("files %v = %q, want %q", rd.args, out, rd.want)
		}
	}

	dest := filepath.Join(t.TempDir(), "copy.txt")
	if _, err := runApp(t, "files", "--storage-path", root, "--path", p, "--out", dest); err != nil {
		t.Fatalf("files --out: %v", err)
	}
	if got, _ := os.ReadFile(dest); string(got) != "hello wsfs" {
		t.Errorf("--out wrote %q, want %q", got, "hello wsfs")
	}

	out, err = runApp(t, "files", "--storage-path", root, "--path", p, "--delete", "--format", "json")
	if err != nil {
		t.Fatalf("files --delete: %v", err)
	}
	var deleted StoredFile
	if err := json.Unmarshal([]byte(out), &deleted); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if !deleted.Deleted || deleted.Path != p {
		t.Errorf("deleted = %+v, want %s deleted", deleted, p)
	}

	_, err = runApp(t, "files", "--storage-path", root, "--path", p)
	if got := exitCode(err); got != exitFailure {
		t.Errorf("read after delete: exit code = %d, want %d (err %v)", got, exitFailure, err)
	}
}

func TestFiles_FlagsRequirePath(t *testing.T) {
	_, err := runApp(t, "files", "--storage-backend", "memory", "--delete")
	if got := exitCode(err); got != exitConfigError {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitConfigError, err)
	}
}

func TestConfigFileOverriddenByFlags(t *testing.T) {
	file := writeFile(t, "a.bin", "abc")
	cfg := writeFile(t, "wsfs.yaml", "responder:\n  encoding: msgpack\n  url: ws://127.0.0.1:1/fileAnnounce\n")

	// The config value is used when the flag is absent: the dial fails.
	_, err := runApp(t, "serve", "--file", file, "--config", cfg, "--format", "json")
	if got := exitCode(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitFailure, err)
	}

	// An explicit flag wins over the config file.
	_, err = runApp(t, "serve", "--file", file, "--config", cfg, "--encoding", "xml")
	if got := exitCode(err); got != exitConfigError {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitConfigError, err)
	}
}

func TestParseDelays(t *testing.T) {
	tests := []struct {
		in      string
		want    []time.Duration
		wantErr bool
	}{
		{"0s,3s,5s", []time.Duration{0, 3 * time.Second, 5 * time.Second}, false},
		{" 1s , 2s ", []time.Duration{time.Second, 2 * time.Second}, false},
		{"", []time.Duration{}, false},
		{"soon", nil, true},
		{"-1s", nil, true},
	}
	for _, tt := range tests {
		got, err := parseDelays(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDelays(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if got == nil || len(got) != len(tt.want) {
			t.Errorf("parseDelays(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseDelays(%q)[%d] = %v, want %v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestFormatDelays(t *testing.T) {
	got := formatDelays([]time.Duration{0, 3 * time.Second, 500 * time.Millisecond})
	if got != "0s,3s,500ms" {
		t.Errorf("formatDelays = %q, want 0s,3s,500ms", got)
	}
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders(map[string]string{"X-From-Config": "a", "Authorization": "old"},
		[]string{"Authorization: Bearer new", "X-Empty:"})
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer new" {
		t.Errorf("Authorization = %q, want flag value", got)
	}
	if got := h.Get("X-From-Config"); got != "a" {
		t.Errorf("X-From-Config = %q, want a", got)
	}
	if _, ok := h["X-Empty"]; !ok {
		t.Error("X-Empty header missing")
	}

	if _, err := parseHeaders(nil, []string{": value"}); err == nil {
		t.Error("expected error for empty header name")
	}
}
