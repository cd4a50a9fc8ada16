// Package types defines the control-channel messages exchanged between a
// responder and a receiving peer.
//
// Every message is a flat object carrying a "type" discriminant. Field tags
// cover both encodings: json for text frames, msgpack for binary frames.
package types

// MessageType is the control-channel message discriminant.
type MessageType string

// Message type constants.
const (
	MessageTypeFileAnnounce   MessageType = "fileAnnounce"
	MessageTypeClientAnnounce MessageType = "clientAnnounce"
	MessageTypeReadRequest    MessageType = "readRequest"
	MessageTypeReadResponse   MessageType = "readResponse"
)

// IsKnown reports whether t is one of the defined message types.
func (t MessageType) IsKnown() bool {
	switch t {
	case MessageTypeFileAnnounce, MessageTypeClientAnnounce,
		MessageTypeReadRequest, MessageTypeReadResponse:
		return true
	default:
		return false
	}
}

// FileAnnounce tells the peer that a file has been selected and can be read.
type FileAnnounce struct {
	Type MessageType `json:"type" msgpack:"type"`
	// Size is the file size in bytes.
	Size int64 `json:"size" msgpack:"size"`
	// Name is the base name of the file.
	Name string `json:"name" msgpack:"name"`
	// Mime is the MIME type, empty when unknown.
	Mime string `json:"mime" msgpack:"mime"`
	// LastModified is milliseconds since the Unix epoch.
	LastModified int64 `json:"lastModified" msgpack:"lastModified"`
}

// ClientAnnounce is sent once by the responder right after connecting.
type ClientAnnounce struct {
	Type     MessageType `json:"type" msgpack:"type"`
	ClientID string      `json:"client_id" msgpack:"client_id"`
	Version  string      `json:"version" msgpack:"version"`
	// Encoding is the codec the responder uses for read responses.
	Encoding string `json:"encoding,omitempty" msgpack:"encoding,omitempty"`
}

// ReadRequest asks the responder for bytes [Offset, Offset+Length) of a file.
// Either FileID or FileName may identify the file; both are echoed back.
type ReadRequest struct {
	Type     MessageType `json:"type" msgpack:"type"`
	FileID   string      `json:"file_id,omitempty" msgpack:"file_id,omitempty"`
	FileName string      `json:"file_name,omitempty" msgpack:"file_name,omitempty"`
	Offset   int64       `json:"offset" msgpack:"offset"`
	Length   int64       `json:"length" msgpack:"length"`
}

// End returns the exclusive end offset of the requested range.
func (r *ReadRequest) End() int64 {
	return r.Offset + r.Length
}

// ReadResponse carries the bytes read for a ReadRequest.
// Data may be shorter than the requested length when the range runs past
// the end of the file. In JSON, Data is base64 (standard alphabet).
type ReadResponse struct {
	Type     MessageType `json:"type" msgpack:"type"`
	FileID   string      `json:"file_id,omitempty" msgpack:"file_id,omitempty"`
	FileName string      `json:"file_name,omitempty" msgpack:"file_name,omitempty"`
	Offset   int64       `json:"offset" msgpack:"offset"`
	Data     []byte      `json:"data" msgpack:"data"`
}

// NewFileAnnounce builds the announcement for a selected file.
func NewFileAnnounce(info FileInfo) *FileAnnounce {
	return &FileAnnounce{
		Type:         MessageTypeFileAnnounce,
		Size:         info.Size,
		Name:         info.Name,
		Mime:         info.Mime,
		LastModified: info.LastModifiedMillis(),
	}
}
