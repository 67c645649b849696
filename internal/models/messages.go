package models

import (
	"time"
)

// WebSocket message types emitted by the progress broadcast channel
const (
	MessageTypeProgress     = "progress"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypeHeartbeatAck = "heartbeat-ack"
	MessageTypeCompleted    = "completed"
	MessageTypeError        = "error"
)

// Client actions accepted by the connection-level protocol
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// WSMessage is the envelope for every server-to-client message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ClientMessage is the envelope for every client-to-server message
type ClientMessage struct {
	Action string `json:"action"`
	JobID  string `json:"jobId,omitempty"`
}

// ProgressUpdate carries one job's state and counters to subscribers
type ProgressUpdate struct {
	JobID      string    `json:"jobId"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Phase      string    `json:"phase"`
	Total      *int      `json:"total,omitempty"`
	Processed  int       `json:"processed"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Percentage float64   `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Terminal returns true when the update reports a terminal status
func (u *ProgressUpdate) Terminal() bool {
	return u.Status == JobStatusCompleted ||
		u.Status == JobStatusFailed ||
		u.Status == JobStatusCancelled
}

// SubscriptionPayload acknowledges a subscribe/unsubscribe action
type SubscriptionPayload struct {
	JobID string `json:"jobId"`
}

// CompletedPayload announces that a job reached a terminal status
type CompletedPayload struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// ErrorPayload reports a protocol-level error to one connection
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
