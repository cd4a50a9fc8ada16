// Package metrics provides per-session counters.
//
// The Collector accumulates counters for one process session. It is a leaf
// package with no internal dependencies so that every role can record into
// it without import cycles.
package metrics

import "sync"

// Drop reasons for read requests that produce no response.
const (
	DropNoSelection = "no_selection"
	DropStale       = "stale"
	DropReadError   = "read_error"
	DropWriteError  = "write_error"
	DropTooLarge    = "too_large"
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Responder
	RequestsReceived int64            `json:"requests_received"`
	RequestsServed   int64            `json:"requests_served"`
	RequestsDropped  int64            `json:"requests_dropped"`
	DroppedByReason  map[string]int64 `json:"dropped_by_reason"`
	BytesServed      int64            `json:"bytes_served"`
	RequestsClamped  int64            `json:"requests_clamped"`
	AnnouncesSent    int64            `json:"announces_sent"`
	DecodeErrors     int64            `json:"decode_errors"`

	// Receiver
	FilesAnnounced int64 `json:"files_announced"`
	FilesReceived  int64 `json:"files_received"`
	FilesFailed    int64 `json:"files_failed"`
	BytesReceived  int64 `json:"bytes_received"`

	// Uploader
	UploadsSucceeded int64 `json:"uploads_succeeded"`
	UploadsFailed    int64 `json:"uploads_failed"`
	UploadRetries    int64 `json:"upload_retries"`

	// Dimensions
	Role           string `json:"role"`
	SessionID      string `json:"session_id"`
	Encoding       string `json:"encoding,omitempty"`
	StorageBackend string `json:"storage_backend,omitempty"`
}

// Collector accumulates counters during a session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsReceived int64
	requestsServed   int64
	requestsDropped  int64
	droppedByReason  map[string]int64
	bytesServed      int64
	requestsClamped  int64
	announcesSent    int64
	decodeErrors     int64

	filesAnnounced int64
	filesReceived  int64
	filesFailed    int64
	bytesReceived  int64

	uploadsSucceeded int64
	uploadsFailed    int64
	uploadRetries    int64

	role           string
	sessionID      string
	encoding       string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
// encoding and storageBackend may be empty for roles that do not use them.
func NewCollector(role, sessionID, encoding, storageBackend string) *Collector {
	return &Collector{
		droppedByReason: make(map[string]int64),
		role:            role,
		sessionID:       sessionID,
		encoding:        encoding,
		storageBackend:  storageBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Responder ---

// IncRequestReceived records an inbound read request.
func (c *Collector) IncRequestReceived() {
	if c == nil {
		return
	}
	c.add(&c.requestsReceived, 1)
}

// RecordServed records a response sent with n data bytes.
// clamped marks a response shorter than the requested length.
func (c *Collector) RecordServed(n int64, clamped bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsServed++
	c.bytesServed += n
	if clamped {
		c.requestsClamped++
	}
	c.mu.Unlock()
}

// IncDropped records a read request that produced no response.
func (c *Collector) IncDropped(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsDropped++
	c.droppedByReason[reason]++
	c.mu.Unlock()
}

// IncAnnounceSent records a fileAnnounce sent to the peer.
func (c *Collector) IncAnnounceSent() {
	if c == nil {
		return
	}
	c.add(&c.announcesSent, 1)
}

// IncDecodeErrors records an undecodable inbound message.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// --- Receiver ---

// IncFileAnnounced records an inbound fileAnnounce.
func (c *Collector) IncFileAnnounced() {
	if c == nil {
		return
	}
	c.add(&c.filesAnnounced, 1)
}

// RecordFileReceived records a file copied to storage.
func (c *Collector) RecordFileReceived(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesReceived++
	c.bytesReceived += size
	c.mu.Unlock()
}

// IncFileFailed records a failed copy.
func (c *Collector) IncFileFailed() {
	if c == nil {
		return
	}
	c.add(&c.filesFailed, 1)
}

// --- Uploader ---

// IncUploadSucceeded records a completed upload.
func (c *Collector) IncUploadSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.uploadsSucceeded, 1)
}

// IncUploadFailed records an upload that exhausted its retries.
func (c *Collector) IncUploadFailed() {
	if c == nil {
		return
	}
	c.add(&c.uploadsFailed, 1)
}

// IncUploadRetry records a retry attempt.
func (c *Collector) IncUploadRetry() {
	if c == nil {
		return
	}
	c.add(&c.uploadRetries, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByReason))
	for k, v := range c.droppedByReason {
		dropped[k] = v
	}

	return Snapshot{
		RequestsReceived: c.requestsReceived,
		RequestsServed:   c.requestsServed,
		RequestsDropped:  c.requestsDropped,
		DroppedByReason:  dropped,
		BytesServed:      c.bytesServed,
		RequestsClamped:  c.requestsClamped,
		AnnouncesSent:    c.announcesSent,
		DecodeErrors:     c.decodeErrors,

		FilesAnnounced: c.filesAnnounced,
		FilesReceived:  c.filesReceived,
		FilesFailed:    c.filesFailed,
		BytesReceived:  c.bytesReceived,

		UploadsSucceeded: c.uploadsSucceeded,
		UploadsFailed:    c.uploadsFailed,
		UploadRetries:    c.uploadRetries,

		Role:           c.role,
		SessionID:      c.sessionID,
		Encoding:       c.encoding,
		StorageBackend: c.storageBackend,
	}
}
