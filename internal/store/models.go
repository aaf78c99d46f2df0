package store

import "time"

// Job lifecycle states.
const (
	JobRunning      = "running"
	JobCompleted    = "completed"
	JobDisconnected = "disconnected"
)

type Job struct {
	ID         string
	Status     string
	FromEmail  string
	DryRun     bool
	Total      int
	Sent       int
	Failed     int
	Batches    int
	BatchSize  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is the stored result of one attempted recipient. Message bodies
// and attachment content are never stored.
type Outcome struct {
	JobID       string
	Index       int
	Batch       int
	Recipient   string
	Status      string
	Subject     string
	MessageID   string
	Error       string
	Attachments int
	SentAt      time.Time
}
