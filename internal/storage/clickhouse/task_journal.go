package clickhouse

import (
	"context"
	"fmt"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// TaskJournal implements storage.TaskJournal using ClickHouse.
// Rows are append-only; MergeTree ordering keeps per-task history contiguous.
type TaskJournal struct {
	conn *Conn
}

// NewTaskJournal creates a new TaskJournal.
func NewTaskJournal(conn *Conn) *TaskJournal {
	return &TaskJournal{conn: conn}
}

// Compile-time interface check.
var _ storage.TaskJournal = (*TaskJournal)(nil)

// Append adds a lifecycle event.
func (j *TaskJournal) Append(ctx context.Context, e *domain.TaskEvent) error {
	if e == nil || e.TaskID == "" {
		return storage.ErrInvalidInput
	}

	batch, err := j.conn.PrepareBatch(ctx, `
		INSERT INTO task_events (task_id, kind, phase, attempt, detail, timestamp_ms)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.TaskID, string(e.Kind), string(e.Phase),
		uint32(e.Attempt), e.Detail, uint64(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ListByTask returns events of a task ordered by timestamp ASC.
func (j *TaskJournal) ListByTask(ctx context.Context, taskID string) ([]*domain.TaskEvent, error) {
	rows, err := j.conn.Query(ctx, `
		SELECT task_id, kind, phase, attempt, detail, timestamp_ms
		FROM task_events
		WHERE task_id = ?
		ORDER BY timestamp_ms ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListFailed returns tasks whose last event is FAILED within [start, end] (ms, inclusive).
func (j *TaskJournal) ListFailed(ctx context.Context, start, end int64) ([]*domain.TaskEvent, error) {
	rows, err := j.conn.Query(ctx, `
		SELECT task_id, kind, phase, attempt, detail, timestamp_ms
		FROM (
			SELECT
				task_id,
				argMax(kind, timestamp_ms) AS kind,
				argMax(phase, timestamp_ms) AS phase,
				argMax(attempt, timestamp_ms) AS attempt,
				argMax(detail, timestamp_ms) AS detail,
				max(timestamp_ms) AS timestamp_ms
			FROM task_events
			GROUP BY task_id
		)
		WHERE phase = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, task_id ASC
	`, string(domain.PhaseFailed), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query failed tasks: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]*domain.TaskEvent, error) {
	var result []*domain.TaskEvent
	for rows.Next() {
		var (
			e           domain.TaskEvent
			kind, phase string
			attempt     uint32
			ts          uint64
		)
		if err := rows.Scan(&e.TaskID, &kind, &phase, &attempt, &e.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		e.Kind = domain.TaskKind(kind)
		e.Phase = domain.TaskPhase(phase)
		e.Attempt = int(attempt)
		e.Timestamp = int64(ts)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task events: %w", err)
	}
	return result, nil
}
