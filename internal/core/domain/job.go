package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queued event job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDead       JobStatus = "dead"
)

// Job is one durably queued event delivery. Payload holds the full RawEvent so
// a dead-lettered job can be replayed with its original content intact.
type Job struct {
	ID        string
	EventType EventType
	TxHash    string
	Payload   json.RawMessage
	Status    JobStatus
	Attempts  int
	LastError string
	NextRunAt time.Time
	CreatedAt time.Time
}
