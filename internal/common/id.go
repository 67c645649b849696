package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewConnectionID generates a unique websocket connection ID with the "conn_" prefix
func NewConnectionID() string {
	return "conn_" + uuid.New().String()
}
