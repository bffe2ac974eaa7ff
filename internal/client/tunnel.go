package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dyonisos/htunnel/internal/wire"
)

// Tunnel manages the client-side websocket connection to the edge
// server: the handshake, keepalive, and frame dispatch loop described
// in spec.md §4.3.
type Tunnel struct {
	codec        *wire.Codec
	dispatcher   *Dispatcher
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
}

// Connect dials the edge's tunnel endpoint, sends a register frame
// carrying the declared port, and waits for the registered ack, per
// spec.md §4.1's register/registered pair.
func Connect(ctx context.Context, edgeURL string, port int, pingInterval time.Duration, dispatcher *Dispatcher) (*Tunnel, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, edgeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialling edge: %w", err)
	}

	codec := wire.NewCodec(conn)

	regPayload, _ := json.Marshal(wire.RegisterPayload{Port: port})
	if err := codec.WriteFrame(&wire.Frame{Type: wire.TypeRegister, Payload: regPayload}); err != nil {
		codec.Close()
		return nil, fmt.Errorf("sending register frame: %w", err)
	}

	frame, err := codec.ReadFrame()
	if err != nil || frame.Type != wire.TypeRegistered {
		codec.Close()
		return nil, fmt.Errorf("edge did not acknowledge registration: %w", err)
	}

	return &Tunnel{
		codec:        codec,
		dispatcher:   dispatcher,
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}, nil
}

// SendFrame writes a frame to the edge server.
func (t *Tunnel) SendFrame(f *wire.Frame) error {
	return t.codec.WriteFrame(f)
}

// Close shuts down the tunnel connection. Safe to call more than once.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		t.dispatcher.CloseAllPending()
	})
}

// Done returns a channel closed when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Run processes frames from the edge until the tunnel closes, per
// spec.md §4.3. It blocks until disconnection.
func (t *Tunnel) Run() error {
	go t.pingLoop()
	defer t.Close()

	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}

		switch frame.Type {
		case wire.TypePing:
			if err := t.codec.WriteFrame(&wire.Frame{Type: wire.TypePong}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case wire.TypePong:
			// keepalive response, nothing to do
		case wire.TypeRequestHead:
			var head wire.RequestHead
			if err := json.Unmarshal(frame.Payload, &head); err != nil {
				slog.Warn("malformed request head frame", "id", frame.ID, "err", err)
				continue
			}
			t.dispatcher.HandleRequestHead(t, frame.ID, &head)
		case wire.TypeChunk, wire.TypeEnd:
			t.dispatcher.DispatchBodyFrame(frame, t.done)
		case wire.TypeError:
			var payload wire.ErrorPayload
			if err := json.Unmarshal(frame.Payload, &payload); err == nil {
				slog.Warn("edge reported error", "message", payload.Message)
			}
		default:
			slog.Warn("unexpected frame type from edge", "type", frame.Type)
		}
	}
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
