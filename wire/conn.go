package wire

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 30 * time.Second

// Conn wraps a WebSocket connection with message-level reads and
// serialized writes. The underlying connection supports one concurrent
// writer; Conn makes WriteMessage safe to call from many goroutines.
// ReadMessage must still be called from a single goroutine.
type Conn struct {
	ws       *websocket.Conn
	encoding Encoding

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewConn wraps ws. Outbound messages use enc.
func NewConn(ws *websocket.Conn, enc Encoding) *Conn {
	ws.SetReadLimit(MaxMessageSize)
	return &Conn{
		ws:           ws,
		encoding:     enc,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Encoding returns the outbound encoding.
func (c *Conn) Encoding() Encoding {
	return c.encoding
}

// WriteMessage encodes and sends v.
func (c *Conn) WriteMessage(v any) error {
	return c.WriteMessageWith(c.encoding, v)
}

// WriteMessageWith encodes v with enc regardless of the connection default.
func (c *Conn) WriteMessageWith(enc Encoding, v any) error {
	frameType, payload, err := Encode(enc, v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(frameType, payload)
}

// ReadMessage blocks for the next frame and decodes it.
// Transport errors are returned unwrapped; decode problems are *CodecError.
func (c *Conn) ReadMessage() (any, error) {
	frameType, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return Decode(frameType, payload)
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

// IsClosed reports whether err indicates the peer went away normally.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
