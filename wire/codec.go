// Package wire encodes and decodes control-channel messages.
//
// A message travels as one WebSocket frame. Text frames carry JSON, binary
// frames carry msgpack. Either side may send either kind; the decoder picks
// the codec from the frame type and the message type from the "type" field.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/wsfs/types"
)

// Size limits.
const (
	// MaxMessageSize is the largest frame either side accepts (128 MiB).
	MaxMessageSize = 128 * 1024 * 1024
	// MaxServeLength is the largest byte range a single response can carry:
	// base64 growth plus envelope slack keeps a JSON response under
	// MaxMessageSize.
	MaxServeLength = MaxMessageSize/4*3 - 64*1024
	// MaxReadLength is the range size the receiving peer asks for per
	// request (8 MiB).
	MaxReadLength = 8 * 1024 * 1024
)

// Encoding selects the codec used for outbound messages.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding parses an encoding name. Empty selects JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("invalid encoding: %q (must be json or msgpack)", s)
	}
}

// FrameType returns the WebSocket frame type used for this encoding.
func (e Encoding) FrameType() int {
	if e == EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// CodecErrorKind classifies codec errors.
type CodecErrorKind int

const (
	// CodecErrorDecode indicates a malformed payload.
	CodecErrorDecode CodecErrorKind = iota
	// CodecErrorUnknownType indicates a well-formed payload with an unknown type field.
	CodecErrorUnknownType
	// CodecErrorTooLarge indicates a payload exceeding MaxMessageSize.
	CodecErrorTooLarge
	// CodecErrorEncode indicates a value that could not be encoded.
	CodecErrorEncode
)

// CodecError represents a message encoding or decoding error.
type CodecError struct {
	Kind CodecErrorKind
	Msg  string
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the connection should be dropped.
// Oversized frames are fatal; a single bad message is not.
func (e *CodecError) IsFatal() bool {
	return e.Kind == CodecErrorTooLarge
}

// IsCodecError reports whether err is a *CodecError of the given kind.
func IsCodecError(err error, kind CodecErrorKind) bool {
	var codecErr *CodecError
	if errors.As(err, &codecErr) {
		return codecErr.Kind == kind
	}
	return false
}

// typeProbe is used to peek at the type field without a full decode.
type typeProbe struct {
	Type types.MessageType `json:"type" msgpack:"type"`
}

// Encode encodes v with the given encoding.
// Returns the WebSocket frame type to send the payload with.
func Encode(enc Encoding, v any) (int, []byte, error) {
	var (
		payload []byte
		err     error
	)
	switch enc {
	case EncodingMsgpack:
		payload, err = msgpack.Marshal(v)
	case EncodingJSON, "":
		payload, err = json.Marshal(v)
	default:
		return 0, nil, &CodecError{Kind: CodecErrorEncode, Msg: fmt.Sprintf("unknown encoding %q", enc)}
	}
	if err != nil {
		return 0, nil, &CodecError{Kind: CodecErrorEncode, Msg: "failed to encode message", Err: err}
	}
	if len(payload) > MaxMessageSize {
		return 0, nil, &CodecError{
			Kind: CodecErrorTooLarge,
			Msg:  fmt.Sprintf("message size %d exceeds maximum %d", len(payload), MaxMessageSize),
		}
	}
	return enc.FrameType(), payload, nil
}

// Decode decodes a frame payload into one of *types.FileAnnounce,
// *types.ClientAnnounce, *types.ReadRequest or *types.ReadResponse.
func Decode(frameType int, payload []byte) (any, error) {
	if len(payload) > MaxMessageSize {
		return nil, &CodecError{
			Kind: CodecErrorTooLarge,
			Msg:  fmt.Sprintf("message size %d exceeds maximum %d", len(payload), MaxMessageSize),
		}
	}

	unmarshal := json.Unmarshal
	if frameType == websocket.BinaryMessage {
		unmarshal = msgpack.Unmarshal
	}

	var probe typeProbe
	if err := unmarshal(payload, &probe); err != nil {
		return nil, &CodecError{Kind: CodecErrorDecode, Msg: "failed to decode message type", Err: err}
	}

	// Peers that only ever send read requests may omit the type field.
	if probe.Type == "" {
		probe.Type = types.MessageTypeReadRequest
	}
	if !probe.Type.IsKnown() {
		return nil, &CodecError{
			Kind: CodecErrorUnknownType,
			Msg:  fmt.Sprintf("unknown message type %q", probe.Type),
		}
	}

	var msg any
	switch probe.Type {
	case types.MessageTypeFileAnnounce:
		msg = &types.FileAnnounce{}
	case types.MessageTypeClientAnnounce:
		msg = &types.ClientAnnounce{}
	case types.MessageTypeReadRequest:
		msg = &types.ReadRequest{}
	case types.MessageTypeReadResponse:
		msg = &types.ReadResponse{}
	}

	if err := unmarshal(payload, msg); err != nil {
		return nil, &CodecError{
			Kind: CodecErrorDecode,
			Msg:  fmt.Sprintf("failed to decode %s", probe.Type),
			Err:  err,
		}
	}
	return msg, nil
}
