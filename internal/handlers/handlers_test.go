package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/idhash"
	"solana-twin-mirror/internal/ledger/fake"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/storage/memory"
	"solana-twin-mirror/internal/taskqueue"
)

const (
	custodian  = "Cust1111111111111111111111111111111111111111"
	realWallet = "Wa11etReaL11111111111111111111111111111111"
	realMint   = "MintReaL11111111111111111111111111111111111"
	twinMint   = "MintTwin11111111111111111111111111111111111"
	oldTwin    = "Wa11etOLD111111111111111111111111111111111"
	newTwin    = "Wa11etNEW111111111111111111111111111111111"
)

type recorder struct {
	mu    sync.Mutex
	tasks []domain.Task
}

func (r *recorder) Dispatch(task domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recorder) Tasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Task(nil), r.tasks...)
}

type fixture struct {
	ledger   *fake.Ledger
	targets  *memory.MiningTargetStore
	holdings *memory.TokenHoldingStore
	recovery *memory.RecoveryStore
	metadata *memory.TokenMetadataStore
	queue    *recorder
	h        *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   fake.New(custodian),
		targets:  memory.NewMiningTargetStore(),
		holdings: memory.NewTokenHoldingStore(),
		recovery: memory.NewRecoveryStore(),
		metadata: memory.NewTokenMetadataStore(),
		queue:    &recorder{},
	}
	f.h = New(Options{
		Ledger:             f.ledger,
		Targets:            f.targets,
		Holdings:           f.holdings,
		Recovery:           f.recovery,
		Queue:              f.queue,
		Logger:             logging.Discard(),
		Metadata:           f.metadata,
		DeployStallWarning: 5 * time.Second,
	})
	t.Cleanup(f.h.Close)
	return f
}

// addTarget creates a target and assigns each twin in turn with increasing score.
func (f *fixture) addTarget(t *testing.T, kind domain.TargetKind, real string, deployed bool, twins ...string) {
	t.Helper()
	ctx := context.Background()
	id := idhash.ComputeTargetID(kind, real)
	_, err := f.targets.CreateIfAbsent(ctx, domain.NewMiningTarget(id, real, kind, time.Now().UnixMilli()))
	require.NoError(t, err)

	for i, twin := range twins {
		ok, err := f.targets.AssignTwin(ctx, id, uint8(i+1), twin, "secret-"+twin)
		require.NoError(t, err)
		require.True(t, ok)
	}
	if deployed {
		require.NoError(t, f.targets.MarkDeployed(ctx, twins[len(twins)-1]))
	}
}

func (f *fixture) addHolding(t *testing.T, wallet, mint string, amount uint64) {
	t.Helper()
	require.NoError(t, f.holdings.Upsert(context.Background(), &domain.TokenHolding{
		WalletAddress: wallet,
		TokenMint:     mint,
		Amount:        amount,
	}))
}

func transfers(tasks []domain.Task) []domain.TransferToken {
	var out []domain.TransferToken
	for _, task := range tasks {
		if tr, ok := task.(domain.TransferToken); ok {
			out = append(out, tr)
		}
	}
	return out
}

func TestTransferToken_MovesBalance(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(custodian, twinMint, 1000)

	err := f.h.TransferToken(context.Background(), domain.TransferToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     twinMint,
		Amount:        300,
		SourceAddress: custodian,
		TargetAddress: newTwin,
		SourceSigner:  custodian,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(700), f.ledger.Balance(custodian, twinMint))
	assert.Equal(t, uint64(300), f.ledger.Balance(newTwin, twinMint))
	assert.Equal(t, uint64(1000), f.ledger.Balance(custodian, twinMint)+f.ledger.Balance(newTwin, twinMint))
	assert.Equal(t, 1, f.ledger.Mutations()["CreateTokenAccount"])
}

func TestTransferToken_InsufficientFundsIsFatal(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(custodian, twinMint, 10)

	err := f.h.TransferToken(context.Background(), domain.TransferToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     twinMint,
		Amount:        11,
		SourceAddress: custodian,
		TargetAddress: newTwin,
		SourceSigner:  custodian,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.ErrorIs(t, err, taskqueue.ErrFatal)
	assert.True(t, taskqueue.Classify(err))

	assert.Empty(t, f.ledger.Transfers())
	assert.Zero(t, f.ledger.MutationCount())
	assert.Equal(t, uint64(10), f.ledger.Balance(custodian, twinMint))
}

func TestTransferToken_Native(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(oldTwin, domain.NativeMint, 2_000_000_000)

	err := f.h.TransferToken(context.Background(), domain.TransferToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     domain.NativeMint,
		Amount:        1_500_000_000,
		SourceAddress: oldTwin,
		TargetAddress: newTwin,
		SourceSigner:  oldTwin,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(500_000_000), f.ledger.Balance(oldTwin, domain.NativeMint))
	assert.Equal(t, uint64(1_500_000_000), f.ledger.Balance(newTwin, domain.NativeMint))
	assert.Zero(t, f.ledger.Mutations()["CreateTokenAccount"])
}

func TestTransferToken_ZeroAmountIsNoop(t *testing.T) {
	f := newFixture(t)
	err := f.h.TransferToken(context.Background(), domain.TransferToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     twinMint,
		SourceAddress: custodian,
		TargetAddress: newTwin,
		SourceSigner:  custodian,
	})
	require.NoError(t, err)
	assert.Zero(t, f.ledger.MutationCount())
}

func TestTransferToken_ConfirmFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(custodian, twinMint, 10)
	f.ledger.Errors["ConfirmTransaction"] = errors.New("confirmation timed out")

	err := f.h.TransferToken(context.Background(), domain.TransferToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     twinMint,
		Amount:        5,
		SourceAddress: custodian,
		TargetAddress: newTwin,
		SourceSigner:  custodian,
	})
	require.Error(t, err)
	assert.False(t, taskqueue.Classify(err))
}

func deployTask() domain.DeployToken {
	return domain.DeployToken{
		TaskHeader:    domain.NewTaskHeader(),
		TokenMint:     realMint,
		TwinTokenMint: twinMint,
		TwinSigner:    twinMint,
	}
}

func TestDeployToken_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTarget(t, domain.KindToken, realMint, false, twinMint)
	f.ledger.SetTokenMetadata(domain.TokenMetadata{
		Mint: realMint, Name: "Real Token", Symbol: "REAL", URI: "https://real/meta.json",
		Decimals: 6, Supply: 1_000_000,
	})

	// First attempt fails at the last step.
	f.ledger.Errors["RevokeMintAuthority"] = errors.New("node unhealthy")
	require.Error(t, f.h.DeployToken(ctx, deployTask()))

	target, err := f.targets.GetByAddress(ctx, realMint)
	require.NoError(t, err)
	assert.False(t, target.Deployed)
	assert.Equal(t, map[string]int{"DeployMint": 1, "SetMetadata": 1, "MintSupply": 1}, f.ledger.Mutations())

	// The retry resumes without repeating completed steps.
	delete(f.ledger.Errors, "RevokeMintAuthority")
	require.NoError(t, f.h.DeployToken(ctx, deployTask()))
	assert.Equal(t, map[string]int{"DeployMint": 1, "SetMetadata": 1, "MintSupply": 1, "RevokeMintAuthority": 1}, f.ledger.Mutations())

	mint := f.ledger.MintState(twinMint)
	require.NotNil(t, mint)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Equal(t, uint64(1_000_000), mint.Supply)
	assert.Equal(t, "Real Token", mint.Name)
	assert.Equal(t, "REAL", mint.Symbol)
	assert.True(t, mint.AuthorityRevoked)
	assert.Equal(t, uint64(1_000_000), f.ledger.Balance(custodian, twinMint))

	target, err = f.targets.GetByAddress(ctx, realMint)
	require.NoError(t, err)
	assert.True(t, target.Deployed)

	rec, err := f.recovery.GetByAddress(ctx, twinMint)
	require.NoError(t, err)
	assert.Equal(t, "secret-"+twinMint, rec.Secret)

	// Once deployed, re-running performs no ledger mutations.
	before := f.ledger.MutationCount()
	require.NoError(t, f.h.DeployToken(ctx, deployTask()))
	assert.Equal(t, before, f.ledger.MutationCount())
}

func TestDeployToken_RetryUsesCachedMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addTarget(t, domain.KindToken, realMint, false, twinMint)
	f.ledger.SetTokenMetadata(domain.TokenMetadata{Mint: realMint, Name: "Real Token", Symbol: "REAL", Decimals: 6, Supply: 500})

	f.ledger.Errors["DeployMint"] = errors.New("blockhash not found")
	require.Error(t, f.h.DeployToken(ctx, deployTask()))

	cached, err := f.metadata.GetByMint(ctx, realMint)
	require.NoError(t, err)
	assert.Equal(t, "REAL", cached.Symbol)
	assert.NotZero(t, cached.FetchedAt)

	// The registry and RPC are down on retry; the cached copy is enough.
	delete(f.ledger.Errors, "DeployMint")
	f.ledger.Errors["FetchMetadata"] = errors.New("registry unavailable")
	require.NoError(t, f.h.DeployToken(ctx, deployTask()))
	assert.Equal(t, uint64(500), f.ledger.Balance(custodian, twinMint))
}

func TestDeployToken_SupersededTwinSkipped(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, domain.KindToken, realMint, false, twinMint, "MintNewer1111111111111111111111111111111111")

	require.NoError(t, f.h.DeployToken(context.Background(), deployTask()))
	assert.Zero(t, f.ledger.MutationCount())
}

func TestDeployToken_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	err := f.h.DeployToken(context.Background(), deployTask())
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.True(t, taskqueue.Classify(err))
}

func TestMigrateWallet_FromOldTwin(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, domain.KindWallet, realWallet, false, oldTwin, newTwin)
	f.addTarget(t, domain.KindToken, realMint, true, twinMint)
	f.addTarget(t, domain.KindToken, "MintUndep1111111111111111111111111111111111", false, "MintUndepTwin11111111111111111111111111111")
	f.addHolding(t, realWallet, realMint, 400)
	f.addHolding(t, realWallet, "MintUndep1111111111111111111111111111111111", 9)
	f.addHolding(t, realWallet, "MintNoTarget111111111111111111111111111111", 9)

	// On-chain balance differs from the cached holding; the ledger wins.
	f.ledger.SetBalance(oldTwin, twinMint, 500)
	f.ledger.SetBalance(oldTwin, domain.NativeMint, 3_000_000_000)

	err := f.h.MigrateWallet(context.Background(), domain.MigrateWallet{
		TaskHeader:       domain.NewTaskHeader(),
		OldWalletAddress: oldTwin,
		NewWalletAddress: newTwin,
		OldWalletSigner:  oldTwin,
	})
	require.NoError(t, err)

	got := transfers(f.queue.Tasks())
	require.Len(t, got, 2)

	assert.Equal(t, twinMint, got[0].TokenMint)
	assert.Equal(t, uint64(500), got[0].Amount)
	assert.Equal(t, oldTwin, got[0].SourceAddress)
	assert.Equal(t, newTwin, got[0].TargetAddress)
	assert.Equal(t, domain.SignerRef(oldTwin), got[0].SourceSigner)

	assert.True(t, got[1].IsNative())
	assert.Equal(t, uint64(3_000_000_000)-domain.DefaultRentReserve, got[1].Amount)
	assert.Equal(t, oldTwin, got[1].SourceAddress)
	assert.Equal(t, newTwin, got[1].TargetAddress)

	assert.Zero(t, f.ledger.MutationCount())
}

func TestMigrateWallet_FirstTwinFundedByCustodian(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, domain.KindWallet, realWallet, false, newTwin)
	f.addTarget(t, domain.KindToken, realMint, true, twinMint)
	f.addHolding(t, realWallet, realMint, 100)
	f.ledger.SetBalance(realWallet, realMint, 120)

	err := f.h.MigrateWallet(context.Background(), domain.MigrateWallet{
		TaskHeader:       domain.NewTaskHeader(),
		NewWalletAddress: newTwin,
	})
	require.NoError(t, err)

	got := transfers(f.queue.Tasks())
	require.Len(t, got, 1)
	assert.Equal(t, twinMint, got[0].TokenMint)
	assert.Equal(t, uint64(120), got[0].Amount)
	assert.Equal(t, custodian, got[0].SourceAddress)
	assert.Equal(t, domain.SignerRef(custodian), got[0].SourceSigner)
}

func TestMigrateWallet_UnknownTwin(t *testing.T) {
	f := newFixture(t)
	err := f.h.MigrateWallet(context.Background(), domain.MigrateWallet{
		TaskHeader:       domain.NewTaskHeader(),
		NewWalletAddress: newTwin,
	})
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Empty(t, f.queue.Tasks())
}

func TestMigrateWallet_BalanceErrorDispatchesNothing(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, domain.KindWallet, realWallet, false, oldTwin, newTwin)
	f.addTarget(t, domain.KindToken, realMint, true, twinMint)
	f.addHolding(t, realWallet, realMint, 100)
	f.ledger.Errors["GetBalance"] = errors.New("429 too many requests")

	err := f.h.MigrateWallet(context.Background(), domain.MigrateWallet{
		TaskHeader:       domain.NewTaskHeader(),
		OldWalletAddress: oldTwin,
		NewWalletAddress: newTwin,
		OldWalletSigner:  oldTwin,
	})
	require.Error(t, err)
	assert.False(t, taskqueue.Classify(err))
	assert.Empty(t, f.queue.Tasks())
}

// queueFixture runs the handlers behind a real task queue.
type queueFixture struct {
	*fixture
	q         *taskqueue.Queue
	completed chan domain.Task
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	f := newFixture(t)
	q := taskqueue.New(taskqueue.Options{
		Policy: taskqueue.Policy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
			AttemptTimeout: 10 * time.Second,
		},
		Logger: logging.Discard(),
	})
	f.h.queue = q

	qf := &queueFixture{fixture: f, q: q, completed: make(chan domain.Task, 64)}
	f.h.Register(q)
	q.OnComplete(func(task domain.Task, _ error) { qf.completed <- task })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		q.Close()
	})
	return qf
}

func (qf *queueFixture) waitFor(t *testing.T, kind domain.TaskKind) domain.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case task := <-qf.completed:
			if task.Kind() == kind {
				return task
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}

func TestMigrateToken_TransfersWaitForDeployment(t *testing.T) {
	qf := newQueueFixture(t)
	qf.addTarget(t, domain.KindToken, realMint, false, twinMint)
	qf.addTarget(t, domain.KindWallet, realWallet, false, newTwin)
	qf.addHolding(t, realWallet, realMint, 250)
	qf.ledger.SetBalance(realWallet, realMint, 250)
	qf.ledger.SetTokenMetadata(domain.TokenMetadata{Mint: realMint, Name: "Real", Symbol: "R", Decimals: 6, Supply: 1000})

	gate := make(chan struct{})
	qf.ledger.DeployGate = gate

	require.NoError(t, qf.q.Dispatch(domain.MigrateToken{TaskHeader: domain.NewTaskHeader(), NewTokenMint: twinMint}))
	qf.waitFor(t, domain.TaskMigrateToken)

	// Deployment is blocked; no transfer may be issued.
	assert.Never(t, func() bool { return len(qf.ledger.Transfers()) > 0 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, qf.h.Tracker().Pending(twinMint))

	close(gate)
	qf.waitFor(t, domain.TaskDeployToken)
	qf.waitFor(t, domain.TaskTransferToken)

	assert.Equal(t, uint64(250), qf.ledger.Balance(newTwin, twinMint))
	assert.Equal(t, uint64(750), qf.ledger.Balance(custodian, twinMint))
	assert.Equal(t, uint64(1000), qf.ledger.Balance(newTwin, twinMint)+qf.ledger.Balance(custodian, twinMint))
}

func TestMigrateToken_SlowDeploymentStillFunds(t *testing.T) {
	qf := newQueueFixture(t)
	qf.h.deployStall = 20 * time.Millisecond
	qf.addTarget(t, domain.KindToken, realMint, false, twinMint)
	qf.addTarget(t, domain.KindWallet, realWallet, false, newTwin)
	qf.addHolding(t, realWallet, realMint, 80)
	qf.ledger.SetBalance(realWallet, realMint, 80)
	qf.ledger.SetTokenMetadata(domain.TokenMetadata{Mint: realMint, Decimals: 0, Supply: 100})

	gate := make(chan struct{})
	qf.ledger.DeployGate = gate

	require.NoError(t, qf.q.Dispatch(domain.MigrateToken{TaskHeader: domain.NewTaskHeader(), NewTokenMint: twinMint}))
	qf.waitFor(t, domain.TaskMigrateToken)

	// Held for many stall intervals.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, qf.h.Tracker().Pending(twinMint))

	close(gate)
	qf.waitFor(t, domain.TaskDeployToken)
	qf.waitFor(t, domain.TaskTransferToken)

	assert.Equal(t, uint64(80), qf.ledger.Balance(newTwin, twinMint))
	assert.Equal(t, uint64(20), qf.ledger.Balance(custodian, twinMint))
}

func TestMigrateToken_ReturnsOldTwinTokens(t *testing.T) {
	const previousTwin = "MintPrev111111111111111111111111111111111111"

	qf := newQueueFixture(t)
	qf.addTarget(t, domain.KindToken, realMint, false, previousTwin, twinMint)
	qf.addTarget(t, domain.KindWallet, realWallet, false, newTwin)
	qf.addHolding(t, realWallet, realMint, 40)
	qf.ledger.SetBalance(realWallet, realMint, 40)
	qf.ledger.SetBalance(newTwin, previousTwin, 40)
	qf.ledger.SetBalance(custodian, previousTwin, 60)
	qf.ledger.SetTokenMetadata(domain.TokenMetadata{Mint: realMint, Decimals: 0, Supply: 100})

	require.NoError(t, qf.q.Dispatch(domain.MigrateToken{
		TaskHeader:   domain.NewTaskHeader(),
		OldTokenMint: previousTwin,
		NewTokenMint: twinMint,
	}))
	qf.waitFor(t, domain.TaskTransferToken)
	qf.waitFor(t, domain.TaskTransferToken)

	assert.Zero(t, qf.ledger.Balance(newTwin, previousTwin))
	assert.Equal(t, uint64(100), qf.ledger.Balance(custodian, previousTwin))
	assert.Equal(t, uint64(40), qf.ledger.Balance(newTwin, twinMint))
}

func TestMigrateToken_FailedDeploymentIssuesNoTransfers(t *testing.T) {
	qf := newQueueFixture(t)
	qf.addTarget(t, domain.KindToken, realMint, false, twinMint)
	qf.addTarget(t, domain.KindWallet, realWallet, false, newTwin)
	qf.addHolding(t, realWallet, realMint, 250)
	qf.ledger.SetBalance(realWallet, realMint, 250)
	qf.ledger.Errors["FetchMetadata"] = errors.New("invalid account data")

	require.NoError(t, qf.q.Dispatch(domain.MigrateToken{TaskHeader: domain.NewTaskHeader(), NewTokenMint: twinMint}))
	qf.waitFor(t, domain.TaskDeployToken)

	require.Eventually(t, func() bool { return qf.h.Tracker().Pending(twinMint) == 0 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(qf.ledger.Transfers()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMigrateToken_UnknownTwin(t *testing.T) {
	f := newFixture(t)
	err := f.h.MigrateToken(context.Background(), domain.MigrateToken{TaskHeader: domain.NewTaskHeader(), NewTokenMint: twinMint})
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Empty(t, f.queue.Tasks())
}
