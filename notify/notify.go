// Package notify defines the boundary for announcing finished transfers to
// downstream systems.
//
// Publishers deliver an Event after a received file is stored or an upload
// completes. The CLI owns publisher lifecycle; users provide configuration
// only.
package notify

import (
	"context"
	"time"
)

// Event types.
const (
	EventFileReceived    = "file_received"
	EventUploadCompleted = "upload_completed"
)

// Event is the payload published for a finished transfer.
type Event struct {
	EventType   string `json:"event_type"`
	FileID      string `json:"file_id,omitempty"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Mime        string `json:"mime,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	URL         string `json:"url,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Timestamp   string `json:"timestamp"` // RFC 3339
	Version     string `json:"version"`
}

// FileReceived builds the event for a stored file.
func FileReceived(fileID, name string, size int64, mime, storagePath string, d time.Duration, at time.Time, version string) *Event {
	return &Event{
		EventType:   EventFileReceived,
		FileID:      fileID,
		Name:        name,
		Size:        size,
		Mime:        mime,
		StoragePath: storagePath,
		DurationMs:  d.Milliseconds(),
		Timestamp:   at.UTC().Format(time.RFC3339),
		Version:     version,
	}
}

// UploadCompleted builds the event for a finished upload.
func UploadCompleted(name string, size int64, url string, d time.Duration, at time.Time, version string) *Event {
	return &Event{
		EventType:  EventUploadCompleted,
		Name:       name,
		Size:       size,
		URL:        url,
		DurationMs: d.Milliseconds(),
		Timestamp:  at.UTC().Format(time.RFC3339),
		Version:    version,
	}
}

// Publisher sends transfer events to a downstream system.
type Publisher interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases publisher resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (1-based): 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i <= 0 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }
func (Nop) Close() error                          { return nil }

var _ Publisher = Nop{}
