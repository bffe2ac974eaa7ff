package wire

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Codec reads and writes frames over a websocket connection. Writes are
// serialised: per §5, the control channel is a single writer-shared
// object on the edge side, so every frame must land atomically.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with frame encoding/decoding.
func NewCodec(conn *websocket.Conn) *Codec {
	return &Codec{conn: conn}
}

// WriteFrame serialises and sends a single frame as one binary websocket
// message, holding the write lock for the duration so concurrent
// request-body pumps never interleave partial frames.
func (c *Codec) WriteFrame(f *Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReadFrame reads and deserialises the next frame from the websocket.
func (c *Codec) ReadFrame() (*Frame, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d", msgType)
	}
	return Unmarshal(data)
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
