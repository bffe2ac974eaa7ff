package edge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dyonisos/htunnel/internal/wire"
)

// phase is the per-request state, per spec.md §4.2.
type phase int

const (
	phaseAwaitingHead phase = iota
	phaseStreaming
	phaseClosed
)

// requestRecord is the edge-side bookkeeping for one in-flight public
// request, per spec.md §3's "Request record" data model entry.
type requestRecord struct {
	id           string
	w            http.ResponseWriter
	flusher      http.Flusher
	phase        phase
	headersSent  bool
	deadline     time.Time
	frameCh      chan *wire.Frame
}

// defaultRequestTimeout is the absolute deadline applied from creation,
// per spec.md §3 and §5 (no streaming exemption — resolves the Open
// Question in spec.md §9 in favor of retaining the source's behavior).
const defaultRequestTimeout = 30 * time.Second

func newRequestRecord(id string, w http.ResponseWriter, timeout time.Duration) *requestRecord {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	flusher, _ := w.(http.Flusher)
	return &requestRecord{
		id:       id,
		w:        w,
		flusher:  flusher,
		phase:    phaseAwaitingHead,
		deadline: time.Now().Add(timeout),
		frameCh:  make(chan *wire.Frame, 64),
	}
}

func (rec *requestRecord) flush() {
	if rec.flusher != nil {
		rec.flusher.Flush()
	}
}

// writeImplicitOK emits a bare 200 OK when a body-bearing frame arrives
// before any response head, per spec.md §4.2's permissive chunk-first
// rule (an explicit Open Question resolved in favor of the source's
// existing behavior, see spec.md §9).
func (rec *requestRecord) writeImplicitOK() {
	if !rec.headersSent {
		rec.w.WriteHeader(http.StatusOK)
		rec.headersSent = true
	}
}

// errorBody is the JSON shape of every edge-originated error response,
// per spec.md §7.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(errorBody{Error: kind, Message: message})
	_, _ = w.Write(data)
}
