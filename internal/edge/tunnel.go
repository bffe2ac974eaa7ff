package edge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dyonisos/htunnel/internal/wire"
)

// Tunnel wraps one agent websocket connection on the edge side. Frame
// dispatch to in-flight requests lives in Manager, which owns the
// id-keyed table; Tunnel itself only owns the wire and its keepalive.
type Tunnel struct {
	codec        *wire.Codec
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
}

// NewTunnel wraps an agent websocket connection and starts its
// keepalive ping loop.
func NewTunnel(conn *websocket.Conn, pingInterval time.Duration) *Tunnel {
	t := &Tunnel{
		codec:        wire.NewCodec(conn),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	go t.pingLoop()
	return t
}

// ReadFrame reads the next frame from the agent.
func (t *Tunnel) ReadFrame() (*wire.Frame, error) {
	return t.codec.ReadFrame()
}

// SendFrame writes a frame to the agent.
func (t *Tunnel) SendFrame(f *wire.Frame) error {
	return t.codec.WriteFrame(f)
}

// Close shuts the tunnel down. Safe to call more than once.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
	})
}

// Done returns a channel closed when the tunnel shuts down, used by
// every in-flight request's driver loop to notice disconnection
// without a central fan-out step.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

func (t *Tunnel) pingLoop() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.codec.WriteFrame(&wire.Frame{Type: wire.TypePing}); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}
