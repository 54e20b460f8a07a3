package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-twin-mirror/internal/domain"
)

func TestTaskJournal_AppendAndListByTask(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewTaskJournal(conn)
	ctx := context.Background()

	require.NoError(t, journal.Append(ctx, &domain.TaskEvent{
		TaskID: "task-1", Kind: domain.TaskDeployToken, Phase: domain.PhaseDispatched, Timestamp: 1000,
	}))
	require.NoError(t, journal.Append(ctx, &domain.TaskEvent{
		TaskID: "task-1", Kind: domain.TaskDeployToken, Phase: domain.PhaseAttemptFailed, Attempt: 1, Detail: "rate limited", Timestamp: 2000,
	}))
	require.NoError(t, journal.Append(ctx, &domain.TaskEvent{
		TaskID: "task-1", Kind: domain.TaskDeployToken, Phase: domain.PhaseSucceeded, Attempt: 2, Timestamp: 3000,
	}))

	events, err := journal.ListByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.PhaseAttemptFailed, events[1].Phase)
	assert.Equal(t, "rate limited", events[1].Detail)
	assert.Equal(t, 2, events[2].Attempt)
}

func TestTaskJournal_ListFailed(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewTaskJournal(conn)
	ctx := context.Background()

	for _, e := range []*domain.TaskEvent{
		{TaskID: "ok", Kind: domain.TaskTransferToken, Phase: domain.PhaseSucceeded, Attempt: 1, Timestamp: 100},
		{TaskID: "bad", Kind: domain.TaskTransferToken, Phase: domain.PhaseDispatched, Timestamp: 100},
		{TaskID: "bad", Kind: domain.TaskTransferToken, Phase: domain.PhaseFailed, Attempt: 1, Detail: "insufficient funds", Timestamp: 200},
	} {
		require.NoError(t, journal.Append(ctx, e))
	}

	failed, err := journal.ListFailed(ctx, 0, 1000)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].TaskID)
	assert.Equal(t, "insufficient funds", failed[0].Detail)
}

func TestParseDSN(t *testing.T) {
	opts, err := parseDSN("clickhouse://user:pw@localhost/journal")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9000"}, opts.Addr)
	assert.Equal(t, "user", opts.Auth.Username)
	assert.Equal(t, "pw", opts.Auth.Password)
	assert.Equal(t, "journal", opts.Auth.Database)

	_, err = parseDSN("clickhouse:///nohost")
	assert.Error(t, err)
}
