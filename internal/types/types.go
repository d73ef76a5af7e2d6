package types

import "time"

// Task is one to-do record. The store hands out copies; nothing outside the
// store holds a mutable reference.
type Task struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// Status is the marker returned by operations that have no record to return.
type Status struct {
	Status string `json:"status"`
}

// StatusDeleted is the only status the store emits today.
const StatusDeleted = "deleted"

// Role identifies a component publishing on the bus.
type Role string

const (
	RoleUser         Role = "User"
	RoleOrchestrator Role = "Orchestrator"
	RoleLLM          Role = "LLM"
	RoleDispatcher   Role = "Dispatcher"
	RoleRenderer     Role = "Renderer"
	RoleAuditor      Role = "Auditor"
)

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgUserMessage    MessageType = "UserMessage"
	MsgCallRequest    MessageType = "CallRequest"
	MsgDispatchResult MessageType = "DispatchResult"
	MsgReply          MessageType = "Reply"
	MsgUpstreamError  MessageType = "UpstreamError"
)

// Message is the envelope for everything published on the bus.
type Message struct {
	ID        string      `json:"id"`
	TurnID    string      `json:"turn_id"`
	Timestamp time.Time   `json:"timestamp"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
}

// UserMessage is published when a chat turn starts.
type UserMessage struct {
	Text string `json:"text"`
}

// CallRequest is published when the LLM proposes a capability call.
type CallRequest struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DispatchOutcome summarises a dispatch for observers. Kind is one of
// "task", "task_list", "status", "not_found", "validation_error".
type DispatchOutcome struct {
	Capability string `json:"capability"`
	Kind       string `json:"kind"`
	Field      string `json:"field,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Reply is published when a turn produces its final reply.
type Reply struct {
	UserText   string `json:"user_text"`
	Text       string `json:"text"`
	Capability string `json:"capability,omitempty"` // empty for free-text replies
}

// UpstreamError is published when the LLM call fails or times out.
type UpstreamError struct {
	Error string `json:"error"`
}

// AuditEvent is one JSONL line written by the auditor.
type AuditEvent struct {
	EventID     string  `json:"event_id"`
	TurnID      string  `json:"turn_id"`
	Timestamp   string  `json:"timestamp"`
	FromRole    Role    `json:"from"`
	ToRole      Role    `json:"to"`
	MessageType string  `json:"message_type"`
	Anomaly     string  `json:"anomaly"` // "none", "boundary_violation", "unknown_capability", "validation_error", "thrashing" or "upstream_error"
	Detail      *string `json:"detail"`
}

// Turn is one completed chat exchange kept in the transcript.
type Turn struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	Reply      string    `json:"reply"`
	Capability string    `json:"capability,omitempty"`
}
