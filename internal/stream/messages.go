package stream

// MessageType discriminates control messages on the streaming connection.
type MessageType string

// Message types. Client → server: auth, submit_task, cancel_task,
// heartbeat. Server → client: auth_success, auth_required,
// task_submitted, task_update, heartbeat_ack, error.
const (
	MsgAuth          MessageType = "auth"
	MsgAuthSuccess   MessageType = "auth_success"
	MsgAuthRequired  MessageType = "auth_required"
	MsgSubmitTask    MessageType = "submit_task"
	MsgTaskSubmitted MessageType = "task_submitted"
	MsgTaskUpdate    MessageType = "task_update"
	MsgCancelTask    MessageType = "cancel_task"
	MsgHeartbeat     MessageType = "heartbeat"
	MsgHeartbeatAck  MessageType = "heartbeat_ack"
	MsgError         MessageType = "error"
)

// Status is a task's lifecycle position as reported by the server.
type Status string

// Task statuses.
const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"

	// StatusTimedOut and StatusOrphaned are never sent by the server;
	// the client records them when it stops waiting for a task.
	StatusTimedOut Status = "timed_out"
	StatusOrphaned Status = "orphaned"
)

// Terminal reports whether no further server updates are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDenied, StatusCancelled:
		return true
	default:
		return false
	}
}

// Envelope is the JSON shape of every message. Fields irrelevant to a
// given type are omitted.
type Envelope struct {
	Type MessageType `json:"type"`

	DeviceID   string `json:"device_id,omitempty"`
	Token      string `json:"token,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	ServerTime int64  `json:"server_time,omitempty"`

	TaskID       string         `json:"task_id,omitempty"`
	ClientTaskID string         `json:"client_task_id,omitempty"`
	TaskType     string         `json:"task_type,omitempty"`
	TaskData     map[string]any `json:"task_data,omitempty"`
	Priority     *int           `json:"priority,omitempty"`
	Status       Status         `json:"status,omitempty"`
	Result       map[string]any `json:"result,omitempty"`

	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorText returns the failure text of an update: the top-level error,
// else result.error, else the message.
func (e *Envelope) ErrorText() string {
	if e.Error != "" {
		return e.Error
	}
	if s, ok := e.Result["error"].(string); ok && s != "" {
		return s
	}
	return e.Message
}
