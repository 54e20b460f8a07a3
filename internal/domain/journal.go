package domain

// TaskPhase is a lifecycle step recorded in the task journal.
type TaskPhase string

const (
	PhaseDispatched    TaskPhase = "DISPATCHED"
	PhaseAttemptFailed TaskPhase = "ATTEMPT_FAILED"
	PhaseSucceeded     TaskPhase = "SUCCEEDED"
	PhaseFailed        TaskPhase = "FAILED"
)

// TaskEvent is one row of the append-only task journal.
// Corresponds to task_events table in ClickHouse.
type TaskEvent struct {
	TaskID    string
	Kind      TaskKind
	Phase     TaskPhase
	Attempt   int
	Detail    string // task summary for DISPATCHED, error text otherwise
	Timestamp int64  // ms
}
