package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/wsfs/types"
)

// Backend names a storage backend.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendMemory Backend = "memory"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendFS, BackendS3, BackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q (want fs, s3 or memory)", s)
	}
}

const (
	// DefaultDataset is the ledger dataset id.
	DefaultDataset = "wsfs"
	// DefaultPath is the fs storage root.
	DefaultPath = "./wsfs-data"
	// filesPrefix is where received file bodies are stored.
	filesPrefix = "files"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is fs, s3 or memory (default fs).
	Backend Backend `yaml:"backend"`
	// Path is the fs root, or "bucket/prefix" for s3 when S3.Bucket is empty.
	Path string `yaml:"path"`
	// Dataset is the ledger dataset id (default "wsfs").
	Dataset string `yaml:"dataset"`
	// S3 configures the s3 backend.
	S3 S3Config `yaml:"s3"`
}

// Store writes received files to a lode store and records each transfer
// in a lode dataset. Safe for concurrent use.
type Store struct {
	backend Backend
	store   lode.Store
	ledger  lode.Dataset
	lock    *flock.Flock
	now     func() time.Time

	mu sync.Mutex // serializes ledger writes
}

// Open creates a Store for cfg. For the fs backend the root is created if
// missing and locked for the life of the Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendFS
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}

	switch cfg.Backend {
	case BackendFS:
		root := cfg.Path
		if root == "" {
			root = DefaultPath
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, wrap(err, "init", root)
		}
		lock, err := lockRoot(root)
		if err != nil {
			return nil, err
		}
		s, err := NewWithFactory(cfg.Dataset, lode.NewFSFactory(root))
		if err != nil {
			_ = lock.Unlock()
			return nil, err
		}
		s.backend = BackendFS
		s.lock = lock
		return s, nil

	case BackendS3:
		s3cfg := cfg.S3
		if s3cfg.Bucket == "" {
			s3cfg.Bucket, s3cfg.Prefix = ParseS3Path(cfg.Path)
		}
		factory, err := newS3Factory(ctx, s3cfg)
		if err != nil {
			return nil, wrap(err, "init", s3cfg.Bucket)
		}
		s, err := NewWithFactory(cfg.Dataset, factory)
		if err != nil {
			return nil, err
		}
		s.backend = BackendS3
		return s, nil

	case BackendMemory:
		mem := lode.NewMemory()
		s, err := NewWithFactory(cfg.Dataset, func() (lode.Store, error) { return mem, nil })
		if err != nil {
			return nil, err
		}
		s.backend = BackendMemory
		return s, nil

	default:
		_, err := ParseBackend(string(cfg.Backend))
		return nil, err
	}
}

// NewWithFactory creates a Store over factory. The factory is called once
// for file bodies and once by the ledger dataset; pass a factory returning
// a shared store when both must see the same state (lode.NewMemory()).
func NewWithFactory(dataset string, factory lode.StoreFactory) (*Store, error) {
	store, err := factory()
	if err != nil {
		return nil, wrap(err, "init", dataset)
	}
	ledger, err := newLedgerDataset(dataset, factory)
	if err != nil {
		return nil, wrap(err, "init", dataset)
	}
	return &Store{
		backend: BackendMemory,
		store:   store,
		ledger:  ledger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Backend returns the configured backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// FilePath returns the Hive-partitioned path for a received file.
// Format: files/day=<YYYY-MM-DD>/file_id=<id>/<name>
func FilePath(day time.Time, fileID, name string) (string, error) {
	clean, err := safeName(name)
	if err != nil {
		return "", err
	}
	if fileID == "" || strings.ContainsAny(fileID, `/\`) || fileID == ".." {
		return "", fmt.Errorf("%w: file id %q", ErrInvalidName, fileID)
	}
	return path.Join(filesPrefix, "day="+day.Format(time.DateOnly), "file_id="+fileID, clean), nil
}

// safeName reduces name to its final element and rejects names that would
// escape the partition directory.
func safeName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// PutFile stores the body of a received file and returns its path.
func (s *Store) PutFile(ctx context.Context, fileID string, info types.FileInfo, r io.Reader) (string, error) {
	p, err := FilePath(s.now(), fileID, info.Name)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, p, r); err != nil {
		return "", wrap(err, "put", p)
	}
	return p, nil
}

// GetFile opens a stored file.
func (s *Store) GetFile(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, wrap(err, "get", p)
	}
	return rc, nil
}

// ReadRange reads [offset, offset+length) of a stored file.
func (s *Store) ReadRange(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	data, err := s.store.ReadRange(ctx, p, offset, length)
	if err != nil {
		return nil, wrap(err, "read", p)
	}
	return data, nil
}

// Exists reports whether a stored file exists.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	ok, err := s.store.Exists(ctx, p)
	if err != nil {
		return false, wrap(err, "exists", p)
	}
	return ok, nil
}

// ListFiles returns the paths of all stored files, sorted.
func (s *Store) ListFiles(ctx context.Context) ([]string, error) {
	paths, err := s.store.List(ctx, filesPrefix+"/")
	if err != nil {
		return nil, wrap(err, "list", filesPrefix)
	}
	sort.Strings(paths)
	return paths, nil
}

// DeleteFile removes a stored file.
func (s *Store) DeleteFile(ctx context.Context, p string) error {
	return wrap(s.store.Delete(ctx, p), "delete", p)
}

// Close releases the storage root lock, if held.
func (s *Store) Close() error {
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
