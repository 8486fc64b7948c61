package remote

import (
	"encoding/json"

	"footprint-systemv1/internal/ipc"
)

// Queue is the fire-and-forget durable fallback channel. Enqueue never
// waits for an acknowledgement; delivery is the state server's problem.
type Queue struct {
	client *ipc.Client
}

// NewQueue wraps an established client.
func NewQueue(client *ipc.Client) *Queue {
	return &Queue{client: client}
}

type queuePayload struct {
	Action  string          `json:"action"`
	Queue   string          `json:"queue,omitempty"`
	Message json.RawMessage `json:"message"`
}

// Enqueue sends one message to the named queue on the state server.
func (q *Queue) Enqueue(queue string, message []byte) error {
	return q.client.Notify(ipc.TypeQueue, queuePayload{
		Action:  "enqueue",
		Queue:   queue,
		Message: json.RawMessage(message),
	})
}
