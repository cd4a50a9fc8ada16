package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrFileNotFound is returned when a file id is not registered.
var ErrFileNotFound = errors.New("file not found")

// Registry tracks announced remote files by id. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	files map[string]*RemoteFile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]*RemoteFile)}
}

// Add registers f under its id, replacing any previous entry.
func (r *Registry) Add(f *RemoteFile) {
	r.mu.Lock()
	r.files[f.ID] = f
	r.mu.Unlock()
}

// Get returns the file registered under id.
func (r *Registry) Get(id string) (*RemoteFile, error) {
	r.mu.RLock()
	f := r.files[id]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return f, nil
}

// Remove drops id from the registry. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.files, id)
	r.mu.Unlock()
}

// List returns the registered files ordered by id.
func (r *Registry) List() []*RemoteFile {
	r.mu.RLock()
	files := make([]*RemoteFile, 0, len(r.files))
	for _, f := range r.files {
		files = append(files, f)
	}
	r.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}
