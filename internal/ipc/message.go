package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message families routed by the state server.
const (
	TypeState = "state"
	TypeGap   = "gap"
	TypeQueue = "queue"
)

// Request is the envelope for every frame the engine sends. The payload
// carries an "action" field plus the action's own parameters.
type Request struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Response is the envelope for every frame the state server returns.
type Response struct {
	ID               string          `json:"id"`
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	ProcessingTimeMs float64         `json:"processingTimeMs,omitempty"`
}

// NewRequest builds an envelope around an action payload.
func NewRequest(msgType string, payload interface{}) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("ipc: marshal payload: %w", err)
	}
	return Request{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Ok builds a success response answering req, carrying optional data.
func Ok(req Request, data interface{}) Response {
	resp := Response{ID: req.ID, Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Fail(req, fmt.Errorf("marshal response data: %w", err))
		}
		resp.Data = raw
	}
	return resp
}

// Fail builds an error response answering req.
func Fail(req Request, err error) Response {
	return Response{ID: req.ID, Success: false, Error: err.Error()}
}

// DecodeData unmarshals a response's data into out.
func (r Response) DecodeData(out interface{}) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("ipc: response %s has no data", r.ID)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("ipc: decode response data: %w", err)
	}
	return nil
}
