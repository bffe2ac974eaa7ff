package edge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyonisos/htunnel/internal/wire"
)

// bodyChunkSize bounds how much of a public request body is read per
// wire.Chunk frame while streaming it to the client.
const bodyChunkSize = 32 * 1024

// Manager owns the active registration and the in-flight request
// table, and implements forward/register/status from spec.md §4.2.
type Manager struct {
	registry       *Registry
	requestTimeout time.Duration

	mu      sync.Mutex
	records map[string]*requestRecord
}

// NewManager creates a request manager bound to a registry.
func NewManager(registry *Registry, requestTimeout time.Duration) *Manager {
	return &Manager{
		registry:       registry,
		requestTimeout: requestTimeout,
		records:        make(map[string]*requestRecord),
	}
}

// Register installs a new tunnel as the sole active registration,
// closing out any previous one. Per spec.md §3 invariant 5, the
// previous channel's in-flight requests are implicitly failed because
// each request's driver loop watches that specific tunnel's Done()
// channel.
func (m *Manager) Register(t *Tunnel, port int) {
	old := m.registry.Swap(t, port)
	if old != nil {
		slog.Info("replacing active tunnel registration")
		old.Close()
	}
}

// Status returns the current registration snapshot.
func (m *Manager) Status() Status {
	return m.registry.Status()
}

// ServeHTTP implements the generic "forward everything else" catch-all
// described in spec.md §4.2.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tunnel := m.registry.Current()
	if tunnel == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "No active tunnel", "no agent tunnel is currently registered")
		return
	}

	id := wire.NewRequestID()
	rec := newRequestRecord(id, w, m.requestTimeout)
	m.addRecord(id, rec)
	defer m.removeRecord(id)

	hasBody := r.ContentLength > 0
	head := wire.RequestHead{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Headers: wire.SanitizeHeaders(r.Header),
		HasBody: hasBody,
	}
	payload, err := json.Marshal(head)
	if err != nil {
		slog.Error("marshalling request head", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}

	if err := tunnel.SendFrame(&wire.Frame{Type: wire.TypeRequestHead, ID: id, Payload: payload}); err != nil {
		slog.Error("sending request frame", "id", id, "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "Tunnel disconnected", err.Error())
		return
	}

	var g errgroup.Group
	if hasBody {
		g.Go(func() error {
			m.streamRequestBody(tunnel, id, r.Body)
			return nil
		})
	} else if r.Body != nil {
		_ = r.Body.Close()
	}

	g.Go(func() error {
		m.drive(w, rec, tunnel)
		return nil
	})
	_ = g.Wait()
}

// streamRequestBody pipes the public request body to the client as a
// sequence of direction=request chunk frames, per spec.md §4.2 step 4.
// Runs alongside drive in ServeHTTP's errgroup so the handler doesn't
// return until both finish. Streaming is best-effort: a send failure
// mid-stream simply stops, the request record is reaped by its own
// deadline or by the channel-close path, never by this goroutine.
func (m *Manager) streamRequestBody(tunnel *Tunnel, id string, body io.ReadCloser) {
	defer body.Close()
	buf := make([]byte, bodyChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := tunnel.SendFrame(&wire.Frame{Type: wire.TypeChunk, ID: id, Direction: wire.DirRequest, Payload: chunk}); sendErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("reading public request body", "id", id, "err", err)
			}
			_ = tunnel.SendFrame(&wire.Frame{Type: wire.TypeEnd, ID: id, Direction: wire.DirRequest})
			return
		}
	}
}

// drive runs the per-request state machine until the record reaches
// phaseClosed, per spec.md §4.2's state table.
func (m *Manager) drive(w http.ResponseWriter, rec *requestRecord, tunnel *Tunnel) {
	timer := time.NewTimer(time.Until(rec.deadline))
	defer timer.Stop()

	for {
		select {
		case frame, ok := <-rec.frameCh:
			if !ok {
				m.onDisconnect(rec)
				return
			}
			if m.applyFrame(rec, frame) {
				return
			}
		case <-timer.C:
			m.onDeadline(rec)
			return
		case <-tunnel.Done():
			m.onDisconnect(rec)
			return
		}
	}
}

// applyFrame transitions rec according to one inbound frame and
// reports whether the record is now Closed.
func (m *Manager) applyFrame(rec *requestRecord, frame *wire.Frame) bool {
	switch frame.Type {
	case wire.TypeResponseHead:
		return m.applyResponseHead(rec, frame)
	case wire.TypeChunk:
		return m.applyChunk(rec, frame)
	case wire.TypeEnd:
		return m.applyEnd(rec)
	default:
		return m.applyMalformed(rec)
	}
}

func (m *Manager) applyResponseHead(rec *requestRecord, frame *wire.Frame) bool {
	if rec.phase != phaseAwaitingHead {
		return m.applyMalformed(rec)
	}
	head, body, err := wire.DecodeResponseHead(frame.Payload)
	if err != nil {
		return m.applyMalformed(rec)
	}

	wire.ApplyHeaders(rec.w.Header(), head.Headers)
	rec.w.WriteHeader(head.Status)
	rec.headersSent = true
	if len(body) > 0 {
		_, _ = rec.w.Write(body)
	}

	if head.Streaming {
		rec.phase = phaseStreaming
		rec.flush()
		return false
	}
	rec.phase = phaseClosed
	return true
}

func (m *Manager) applyChunk(rec *requestRecord, frame *wire.Frame) bool {
	switch rec.phase {
	case phaseAwaitingHead:
		rec.writeImplicitOK()
		rec.phase = phaseStreaming
	case phaseStreaming:
		// already open
	default:
		return m.applyMalformed(rec)
	}
	if len(frame.Payload) > 0 {
		_, _ = rec.w.Write(frame.Payload)
	}
	rec.flush()
	return false
}

func (m *Manager) applyEnd(rec *requestRecord) bool {
	switch rec.phase {
	case phaseAwaitingHead:
		rec.writeImplicitOK()
		rec.phase = phaseClosed
		return true
	case phaseStreaming:
		rec.phase = phaseClosed
		return true
	default:
		return m.applyMalformed(rec)
	}
}

func (m *Manager) applyMalformed(rec *requestRecord) bool {
	if rec.phase == phaseAwaitingHead {
		writeJSONError(rec.w, http.StatusInternalServerError, "Malformed response", "received a malformed or out-of-sequence frame from the client")
	}
	rec.phase = phaseClosed
	return true
}

func (m *Manager) onDeadline(rec *requestRecord) {
	if rec.phase == phaseAwaitingHead {
		writeJSONError(rec.w, http.StatusGatewayTimeout, "Request timeout", "deadline exceeded before any response frame was received")
	}
	rec.phase = phaseClosed
}

func (m *Manager) onDisconnect(rec *requestRecord) {
	if rec.phase == phaseAwaitingHead {
		writeJSONError(rec.w, http.StatusServiceUnavailable, "Tunnel disconnected", "the tunnel closed before a response was received")
	}
	rec.phase = phaseClosed
}

func (m *Manager) addRecord(id string, rec *requestRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec
}

// removeRecord deletes id from the in-flight table. Idempotent: a
// second call for the same id is a no-op, matching the "delete exactly
// once" invariant even when multiple exit paths race to clean up.
func (m *Manager) removeRecord(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// dispatch routes one inbound agent frame to its owning record's
// mailbox. Frames for an unknown id are dropped, tolerating races with
// channel close per spec.md §4.3's pending-table note (symmetric on
// the edge side). A full mailbox blocks the read loop rather than
// dropping a frame, matching the teacher's single read loop applying
// backpressure to the whole tunnel when one request's consumer lags;
// the tunnel closing while blocked unblocks this send instead of
// leaking the goroutine.
func (m *Manager) dispatch(t *Tunnel, frame *wire.Frame) {
	m.mu.Lock()
	rec, ok := m.records[frame.ID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case rec.frameCh <- frame:
	case <-t.Done():
	}
}

// readLoop consumes frames from a newly registered tunnel until it
// disconnects, handling keepalive locally and routing everything else
// through dispatch.
func (m *Manager) readLoop(t *Tunnel) {
	for {
		frame, err := t.ReadFrame()
		if err != nil {
			t.Close()
			m.registry.Clear(t)
			return
		}
		switch frame.Type {
		case wire.TypePing:
			_ = t.SendFrame(&wire.Frame{Type: wire.TypePong})
		case wire.TypePong:
			// keepalive response, nothing to do
		case wire.TypeError:
			var payload wire.ErrorPayload
			if err := json.Unmarshal(frame.Payload, &payload); err == nil {
				slog.Warn("client reported error", "message", payload.Message)
			}
		default:
			m.dispatch(t, frame)
		}
	}
}
