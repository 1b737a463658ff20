package models

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one pipeline invocation as kept in the run log.
type Run struct {
	ID          uuid.UUID `json:"run_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	Records     int64     `json:"records"`
	Merged      int64     `json:"merged"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}
