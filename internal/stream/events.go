package stream

import (
	"fmt"
	"time"
)

// State is the connection's position in the auth state machine.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthSent
	StateAuthenticated
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthSent:
		return "auth_sent"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies session events.
type EventKind int

// Event kinds.
const (
	EventStateChanged EventKind = iota
	EventTaskSubmitted
	EventTaskUpdate
	EventServerError
	EventHeartbeatMissed
	EventAuthFailed
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventTaskSubmitted:
		return "task_submitted"
	case EventTaskUpdate:
		return "task_update"
	case EventServerError:
		return "server_error"
	case EventHeartbeatMissed:
		return "heartbeat_missed"
	case EventAuthFailed:
		return "auth_failed"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on Session.Events.
type Event struct {
	Kind  EventKind
	State State

	// Message is the server message for task and error events.
	Message *Envelope

	// InferredClientID is set on task_submitted events whose ack did not
	// echo client_task_id and was matched by submission order instead.
	InferredClientID bool

	// Orphaned lists submissions on a dropped connection that never saw
	// a terminal update. They are not resubmitted.
	Orphaned []Submission

	Err error
}

// Submission is the client-side record of one submit_task message.
type Submission struct {
	ClientTaskID  string
	SynthesizedID string
	TaskType      string
	TaskData      map[string]any
	Priority      *int
	SubmittedAt   time.Time
}
