package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RequestHead is the JSON payload of a TypeRequestHead frame: the
// spec's `request` message fields.
type RequestHead struct {
	Method  string              `json:"method"`
	URL     string              `json:"url"`
	Headers map[string][]string `json:"headers"`
	HasBody bool                `json:"hasBody"`
}

// ResponseHead is the JSON payload of a TypeResponseHead frame: the
// spec's `response` message fields. An inline body, if any, is appended
// raw after the JSON header's length-prefixed encoding (see
// EncodeResponseHead).
type ResponseHead struct {
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers"`
	Streaming bool                `json:"streaming"`
}

// RegisterPayload is the JSON payload of TypeRegister/TypeRegistered.
type RegisterPayload struct {
	Port int `json:"port"`
}

// ErrorPayload is the JSON payload of a TypeError frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeResponseHead marshals a response head and appends an inline
// body, if any, so it travels as a single frame payload.
func EncodeResponseHead(h *ResponseHead, inlineBody []byte) ([]byte, error) {
	headJSON, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshalling response head: %w", err)
	}
	out := make([]byte, 4+len(headJSON)+len(inlineBody))
	putUint32(out, uint32(len(headJSON)))
	copy(out[4:], headJSON)
	copy(out[4+len(headJSON):], inlineBody)
	return out, nil
}

// DecodeResponseHead splits a response-head frame payload back into the
// JSON head and any inline body bytes that followed it.
func DecodeResponseHead(payload []byte) (*ResponseHead, []byte, error) {
	if len(payload) < 4 {
		return nil, nil, fmt.Errorf("response head payload too short")
	}
	headLen := getUint32(payload)
	if 4+int(headLen) > len(payload) {
		return nil, nil, fmt.Errorf("response head length %d exceeds payload", headLen)
	}
	var h ResponseHead
	if err := json.Unmarshal(payload[4:4+headLen], &h); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling response head: %w", err)
	}
	body := payload[4+headLen:]
	return &h, body, nil
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func getUint32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// NewRequestID mints an id unique for the lifetime of a registration,
// per spec.md §4.2 step 1.
func NewRequestID() string {
	return uuid.NewString()
}
