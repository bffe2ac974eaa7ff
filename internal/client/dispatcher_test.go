package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dyonisos/htunnel/internal/wire"
)

// fakeSender captures frames sent back toward the edge without a real
// websocket, mirroring the narrow FrameSender interface dispatcher uses.
type fakeSender struct {
	mu     sync.Mutex
	frames []*wire.Frame
}

func (f *fakeSender) SendFrame(frame *wire.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) snapshot() []*wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func waitForFrames(t *testing.T, sender *fakeSender, min int) []*wire.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := sender.snapshot(); len(frames) >= min {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", min)
	return nil
}

func Test_handle_request_head_forwards_to_backend_and_streams_response(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/hello" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("X-Test", "ok")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "hi")
	}))
	defer backend.Close()

	d := NewDispatcher(backend.URL)
	sender := &fakeSender{}

	d.HandleRequestHead(sender, "req-1", &wire.RequestHead{Method: "GET", URL: "/hello"})

	frames := waitForFrames(t, sender, 3)
	if frames[0].Type != wire.TypeResponseHead {
		t.Fatalf("expected first frame to be a response head, got type %d", frames[0].Type)
	}
	head, body, err := wire.DecodeResponseHead(frames[0].Payload)
	if err != nil {
		t.Fatalf("decoding response head: %v", err)
	}
	if head.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", head.Status)
	}
	if len(body) != 0 {
		t.Errorf("expected no inline body on a streaming response, got %q", body)
	}

	last := frames[len(frames)-1]
	if last.Type != wire.TypeEnd {
		t.Errorf("expected the stream to terminate with an end frame, got type %d", last.Type)
	}
}

func Test_handle_request_head_with_body_pumps_chunks_through(t *testing.T) {
	received := make(chan string, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		received <- string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	d := NewDispatcher(backend.URL)
	sender := &fakeSender{}

	done := make(chan struct{})
	d.HandleRequestHead(sender, "req-2", &wire.RequestHead{Method: "POST", URL: "/upload", HasBody: true})
	d.DispatchBodyFrame(&wire.Frame{Type: wire.TypeChunk, ID: "req-2", Direction: wire.DirRequest, Payload: []byte("hello body")}, done)
	d.DispatchBodyFrame(&wire.Frame{Type: wire.TypeEnd, ID: "req-2", Direction: wire.DirRequest}, done)

	select {
	case got := <-received:
		if got != "hello body" {
			t.Errorf("expected backend to receive %q, got %q", "hello body", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received the request body")
	}
}

func Test_dispatch_body_frame_for_unknown_id_is_ignored(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1")
	// should not panic or block
	d.DispatchBodyFrame(&wire.Frame{Type: wire.TypeChunk, ID: "does-not-exist", Payload: []byte("x")}, make(chan struct{}))
}

func Test_backend_unreachable_sends_inline_502(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1") // nothing listens here
	sender := &fakeSender{}

	d.HandleRequestHead(sender, "req-3", &wire.RequestHead{Method: "GET", URL: "/"})

	frames := waitForFrames(t, sender, 1)
	head, _, err := wire.DecodeResponseHead(frames[0].Payload)
	if err != nil {
		t.Fatalf("decoding response head: %v", err)
	}
	if head.Status != http.StatusBadGateway {
		t.Errorf("expected 502 for unreachable backend, got %d", head.Status)
	}
	if head.Streaming {
		t.Error("expected a non-streaming inline error response")
	}
}

func Test_close_all_pending_unblocks_body_pumps(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	d := NewDispatcher(backend.URL)
	sender := &fakeSender{}
	d.HandleRequestHead(sender, "req-4", &wire.RequestHead{Method: "POST", URL: "/upload", HasBody: true})

	d.CloseAllPending()

	d.mu.Lock()
	remaining := len(d.pending)
	d.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected no pending requests after CloseAllPending, got %d", remaining)
	}
}
