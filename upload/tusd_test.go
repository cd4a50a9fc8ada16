package upload

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeTus is a minimal tus 1.0 server: creation, PATCH and HEAD.
type fakeTus struct {
	srv *httptest.Server

	mu       sync.Mutex
	uploads  map[string]*fakeUpload
	nextID   int
	patches  int
	heads    int
	createFn func() int // optional status override for POST
	// failPatch, when it returns true for the n-th PATCH (1-based), stores
	// half the body and replies 500.
	failPatch func(n int) bool
}

type fakeUpload struct {
	length   int64
	data     []byte
	metadata map[string]string
}

func newFakeTus(t *testing.T) *fakeTus {
	t.Helper()
	f := &fakeTus{uploads: make(map[string]*fakeUpload)}
	mux := http.NewServeMux()
	mux.HandleFunc("/files/", f.handle)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTus) endpoint() string {
	return f.srv.URL + "/files/"
}

func (f *fakeTus) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Tus-Resumable", "1.0.0")
	f.mu.Lock()
	defer f.mu.Unlock()

	id := strings.TrimPrefix(r.URL.Path, "/files/")
	switch {
	case r.Method == http.MethodPost && id == "":
		if f.createFn != nil {
			if code := f.createFn(); code != 0 {
				w.WriteHeader(code)
				return
			}
		}
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.nextID++
		id := fmt.Sprintf("u%d", f.nextID)
		f.uploads[id] = &fakeUpload{length: length, metadata: parseMetadata(r.Header.Get("Upload-Metadata"))}
		w.Header().Set("Location", f.srv.URL+"/files/"+id)
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodHead:
		f.heads++
		up := f.uploads[id]
		if up == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Upload-Offset", strconv.Itoa(len(up.data)))
		w.Header().Set("Upload-Length", strconv.FormatInt(up.length, 10))
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPatch:
		f.patches++
		up := f.uploads[id]
		if up == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		off, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
		if err != nil || off != int64(len(up.data)) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if f.failPatch != nil && f.failPatch(f.patches) {
			up.data = append(up.data, body[:len(body)/2]...)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		up.data = append(up.data, body...)
		w.Header().Set("Upload-Offset", strconv.Itoa(len(up.data)))
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeTus) upload(id string) *fakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

func parseMetadata(h string) map[string]string {
	m := make(map[string]string)
	for _, pair := range strings.Split(h, ",") {
		key, val, _ := strings.Cut(strings.TrimSpace(pair), " ")
		if key == "" {
			continue
		}
		decoded, _ := base64.StdEncoding.DecodeString(val)
		m[key] = string(decoded)
	}
	return m
}
