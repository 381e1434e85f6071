package domain

import "github.com/bytedance/sonic"

// Command represents a write request for one record. Commands never mutate
// an in-memory store directly; the change relay applies them to the tables
// and the resulting change event is the sole mutation path back in.
type Command struct {
	// ID carries the idempotency key when enqueued to the command queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     EntityType             `json:"entityType"`
	Op             Operation              `json:"op"`
	EntityID       string                 `json:"entityId"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}
