package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// NativeMint is the wrapped SOL mint. A transfer on this mint moves lamports.
const NativeMint = "So11111111111111111111111111111111111111112"

// DefaultRentReserve is the lamport balance left in a twin wallet when its SOL is swept.
const DefaultRentReserve uint64 = 1_000_000

// TaskKind identifies a task variant.
type TaskKind string

const (
	TaskTransferToken TaskKind = "TRANSFER_TOKEN"
	TaskDeployToken   TaskKind = "DEPLOY_TOKEN"
	TaskMigrateToken  TaskKind = "MIGRATE_TOKEN"
	TaskMigrateWallet TaskKind = "MIGRATE_WALLET"
)

// String returns the string representation of TaskKind.
func (k TaskKind) String() string {
	return string(k)
}

// SignerRef names the address whose secret signs on behalf of a task.
// The secret itself is resolved by the key ring at signing time.
type SignerRef string

// Task is a unit of work executed by the task queue.
type Task interface {
	Kind() TaskKind
	ID() string
}

// TaskHeader carries the identifier shared by all task variants.
type TaskHeader struct {
	TaskID string
}

// NewTaskHeader returns a header with a fresh random task id.
func NewTaskHeader() TaskHeader {
	return TaskHeader{TaskID: uuid.NewString()}
}

// ID returns the task identifier.
func (h TaskHeader) ID() string { return h.TaskID }

// TransferToken moves Amount raw units of TokenMint from SourceAddress to
// TargetAddress. SourceSigner must control SourceAddress.
type TransferToken struct {
	TaskHeader
	TokenMint     string
	Amount        uint64
	SourceAddress string
	TargetAddress string
	SourceSigner  SignerRef
}

func (TransferToken) Kind() TaskKind { return TaskTransferToken }

// IsNative reports whether the transfer moves lamports instead of SPL tokens.
func (t TransferToken) IsNative() bool { return t.TokenMint == NativeMint }

func (t TransferToken) String() string {
	return fmt.Sprintf("transfer %d of %s %s -> %s", t.Amount, t.TokenMint, t.SourceAddress, t.TargetAddress)
}

// DeployToken materialises TwinTokenMint as a look-alike of TokenMint.
type DeployToken struct {
	TaskHeader
	TokenMint     string
	TwinTokenMint string
	TwinSigner    SignerRef
}

func (DeployToken) Kind() TaskKind { return TaskDeployToken }

// MigrateToken moves every twin wallet from OldTokenMint to NewTokenMint.
// OldTokenMint is empty when the token had no twin before.
type MigrateToken struct {
	TaskHeader
	OldTokenMint string
	NewTokenMint string
}

func (MigrateToken) Kind() TaskKind { return TaskMigrateToken }

// MigrateWallet moves twin holdings from OldWalletAddress to NewWalletAddress.
// OldWalletAddress is empty when the wallet had no twin before.
type MigrateWallet struct {
	TaskHeader
	OldWalletAddress string
	NewWalletAddress string
	OldWalletSigner  SignerRef
}

func (MigrateWallet) Kind() TaskKind { return TaskMigrateWallet }
