package domain

import (
	"fmt"
	"time"
)

type JobID string

type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
)

// FailureKind classifies a failed delivery attempt. Blocked and deleted
// recipients are permanent and never retried; the rest are transient.
type FailureKind string

const (
	FailureBlocked   FailureKind = "blocked"
	FailureDeleted   FailureKind = "deleted"
	FailureTimeout   FailureKind = "timeout"
	FailureTransport FailureKind = "transport"
)

// DeliveryError is returned by the transport callback when a send fails.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery failed: %s", e.Kind)
	}
	return fmt.Sprintf("delivery failed (%s): %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent reports whether the failure excludes the recipient from retries.
func (e *DeliveryError) Permanent() bool {
	return e.Kind == FailureBlocked || e.Kind == FailureDeleted
}

// BroadcastSnapshot is the durable state of a job: enough to resume chunk
// pulling after a process restart without replaying completed chunks.
type BroadcastSnapshot struct {
	ID        JobID    `json:"id"`
	Payload   []byte   `json:"payload"`
	Cursor    int64    `json:"cursor"`
	State     JobState `json:"state"`
	Delivered int64    `json:"delivered"`
	Failed    int64    `json:"failed"`
	Skipped   int64    `json:"skipped"`
	// Failures breaks Failed+Skipped down by kind; it is checkpointed with
	// the rest of the snapshot so the breakdown survives restarts.
	Failures  map[FailureKind]int64 `json:"failures,omitempty"`
	StartedAt time.Time             `json:"startedAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// BroadcastStatus is the progress summary reported to the admin layer.
type BroadcastStatus struct {
	ID         JobID                 `json:"id"`
	State      JobState              `json:"state"`
	Delivered  int64                 `json:"delivered"`
	Failed     int64                 `json:"failed"`
	Skipped    int64                 `json:"skipped"`
	Cursor     int64                 `json:"cursor"`
	Failures   map[FailureKind]int64 `json:"failures,omitempty"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt,omitzero"`
}

// Completed is the number of recipients with a terminal outcome. It only
// grows over the life of a job, including after cancellation.
func (s BroadcastStatus) Completed() int64 {
	return s.Delivered + s.Failed + s.Skipped
}
