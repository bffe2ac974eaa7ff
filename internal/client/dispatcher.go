package client

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/dyonisos/htunnel/internal/wire"
)

// bodyChunkSize bounds how much of a local response body is read per
// wire.Chunk frame while streaming it back to the edge.
const bodyChunkSize = 32 * 1024

// pendingRequest mirrors the edge's request record on the client side,
// per spec.md §3's "Request record at the client" entry: it carries
// the inbound request-direction frames to the body pump feeding the
// outbound loopback request.
type pendingRequest struct {
	frameCh chan *wire.Frame
}

// Dispatcher consumes request frames from the tunnel, issues loopback
// HTTP requests against the configured backend, and streams responses
// back, per spec.md §4.3.
type Dispatcher struct {
	targetURL string
	client    *http.Client

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewDispatcher creates a dispatcher targeting the given backend URL.
func NewDispatcher(targetURL string) *Dispatcher {
	return &Dispatcher{
		targetURL: strings.TrimRight(targetURL, "/"),
		client:    &http.Client{},
		pending:   make(map[string]*pendingRequest),
	}
}

// HandleRequestHead begins processing a newly arrived request, per
// spec.md §4.3's numbered steps. It returns immediately; the loopback
// round trip and response streaming run on their own goroutine bound to
// this request's lifetime.
func (d *Dispatcher) HandleRequestHead(sender FrameSender, id string, head *wire.RequestHead) {
	var body io.ReadCloser = http.NoBody
	if head.HasBody {
		pr, pw := io.Pipe()
		body = pr
		pending := &pendingRequest{frameCh: make(chan *wire.Frame, 64)}
		d.addPending(id, pending)
		go d.pumpRequestBody(pw, pending, id)
	}

	go d.execute(sender, id, head, body)
}

// DispatchBodyFrame routes a request-direction chunk or end frame to
// the pending request's body pump. Frames for an unknown id (a race
// with the inline-body / no-body path, or a closed stream) are
// silently ignored, per spec.md §4.3's pending-table note. A full
// mailbox blocks the tunnel's read loop rather than dropping a frame,
// matching the teacher's single read loop applying backpressure to the
// whole tunnel when one request's consumer lags; done is closed when
// the tunnel itself goes away, unblocking this send instead of leaking
// the read loop.
func (d *Dispatcher) DispatchBodyFrame(frame *wire.Frame, done <-chan struct{}) {
	d.mu.Lock()
	pending, ok := d.pending[frame.ID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case pending.frameCh <- frame:
	case <-done:
	}
}

func (d *Dispatcher) addPending(id string, p *pendingRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = p
}

func (d *Dispatcher) removePending(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

// pumpRequestBody feeds request-direction chunk frames into the local
// request's body pipe until an end frame arrives or the tunnel drops.
func (d *Dispatcher) pumpRequestBody(pw *io.PipeWriter, p *pendingRequest, id string) {
	defer d.removePending(id)
	for frame := range p.frameCh {
		switch frame.Type {
		case wire.TypeChunk:
			if _, err := pw.Write(frame.Payload); err != nil {
				pw.CloseWithError(err)
				return
			}
		case wire.TypeEnd:
			pw.Close()
			return
		}
	}
	// channel closed without an End frame: the tunnel went away mid-body.
	pw.CloseWithError(io.ErrUnexpectedEOF)
}

// CloseAllPending aborts every pending request body pump, used when the
// tunnel disconnects so upload goroutines do not leak.
func (d *Dispatcher) CloseAllPending() {
	d.mu.Lock()
	pendings := make([]*pendingRequest, 0, len(d.pending))
	for _, p := range d.pending {
		pendings = append(pendings, p)
	}
	d.pending = make(map[string]*pendingRequest)
	d.mu.Unlock()

	for _, p := range pendings {
		close(p.frameCh)
	}
}

// FrameSender is the subset of the tunnel used to send frames back to
// the edge; a narrow interface keeps the dispatcher testable without a
// live websocket.
type FrameSender interface {
	SendFrame(f *wire.Frame) error
}

func (d *Dispatcher) execute(sender FrameSender, id string, head *wire.RequestHead, body io.ReadCloser) {
	req, err := http.NewRequest(head.Method, d.targetURL+head.URL, body)
	if err != nil {
		body.Close() // unblock the body pump if one was started
		d.sendInlineError(sender, id, http.StatusInternalServerError, "invalid request", err)
		return
	}
	wire.ApplyHeaders(req.Header, head.Headers)
	req.Host = req.URL.Host

	slog.Debug("forwarding request to backend", "method", head.Method, "url", req.URL.String())

	resp, err := d.client.Do(req)
	if err != nil {
		// the Transport closes req.Body itself in nearly every failure
		// path; close it again defensively so a body pump goroutine
		// blocked on a pipe write is never left stranded.
		body.Close()
		d.sendInlineError(sender, id, http.StatusBadGateway, "could not reach local backend", err)
		return
	}
	defer resp.Body.Close()

	respHead := &wire.ResponseHead{
		Status:    resp.StatusCode,
		Headers:   map[string][]string(resp.Header),
		Streaming: true,
	}
	payload, err := wire.EncodeResponseHead(respHead, nil)
	if err != nil {
		slog.Error("encoding response head", "id", id, "err", err)
		return
	}
	if err := sender.SendFrame(&wire.Frame{Type: wire.TypeResponseHead, ID: id, Payload: payload}); err != nil {
		slog.Error("sending response head", "id", id, "err", err)
		return
	}

	buf := make([]byte, bodyChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := sender.SendFrame(&wire.Frame{Type: wire.TypeChunk, ID: id, Direction: wire.DirResponse, Payload: chunk}); sendErr != nil {
				return
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				_ = sender.SendFrame(&wire.Frame{Type: wire.TypeEnd, ID: id, Direction: wire.DirResponse})
			} else {
				// headers already sent: abort with no further frames,
				// per spec.md §4.3 step 5.
				slog.Warn("local response stream errored mid-body", "id", id, "err", readErr)
			}
			return
		}
	}
}

// sendInlineError sends a single non-streaming synthetic response
// frame describing a failure that happened before any local response
// was available, per spec.md §4.3 steps 4 and the error taxonomy in
// §7.
func (d *Dispatcher) sendInlineError(sender FrameSender, id string, status int, kind string, cause error) {
	body, _ := json.Marshal(map[string]string{
		"error":   kind,
		"message": cause.Error(),
	})
	head := &wire.ResponseHead{
		Status:    status,
		Headers:   map[string][]string{"Content-Type": {"application/json"}},
		Streaming: false,
	}
	payload, err := wire.EncodeResponseHead(head, body)
	if err != nil {
		slog.Error("encoding inline error response", "id", id, "err", err)
		return
	}
	if err := sender.SendFrame(&wire.Frame{Type: wire.TypeResponseHead, ID: id, Payload: payload}); err != nil {
		slog.Error("sending inline error response", "id", id, "err", err)
	}
}
