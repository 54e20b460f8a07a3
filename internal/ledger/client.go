// Package ledger exposes the blockchain capabilities the mirror needs on top
// of the Solana JSON-RPC and WebSocket transports.
package ledger

import (
	"context"
	"errors"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/solana"
)

var (
	// ErrTransactionFailed is returned when a submitted transaction executed with an error.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTransactionNotFound is returned when a transaction is not (yet) available.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrMintNotFound is returned when a mint account does not exist.
	ErrMintNotFound = errors.New("mint not found")

	// ErrAuthorityRevoked is returned when minting is required but the authority is gone.
	ErrAuthorityRevoked = errors.New("mint authority revoked")

	// ErrWrongAuthority is returned when the signer is not the mint authority.
	ErrWrongAuthority = errors.New("signer is not the mint authority")

	// ErrNotMintAccount is returned when a twin mint address is occupied by another account type.
	ErrNotMintAccount = errors.New("account exists but is not a mint")
)

// Client is the ledger capability set used by the monitor and task handlers.
//
// Token amounts are raw units. An empty mint or domain.NativeMint denotes
// lamports. Every transaction is paid for by the custodian.
type Client interface {
	// Custodian returns the custodial address that fronts twin liquidity and pays fees.
	Custodian() string

	// SubmitTransfer signs and submits one transfer of amount from owner from to
	// owner to. For SPL mints both token accounts must already exist.
	SubmitTransfer(ctx context.Context, mint string, amount uint64, from, to string, signer domain.SignerRef) (string, error)

	// ConfirmTransaction waits until sig reaches confirmed commitment.
	ConfirmTransaction(ctx context.Context, sig string) error

	// GetBalance returns the balance of owner for mint.
	GetBalance(ctx context.Context, owner, mint string) (uint64, error)

	// CreateOrGetTokenAccount returns the associated token account of owner for
	// mint, creating it when absent.
	CreateOrGetTokenAccount(ctx context.Context, owner, mint string) (string, error)

	// DeployMint creates the mint account whose key signer names. Reports
	// whether the mint already existed.
	DeployMint(ctx context.Context, signer domain.SignerRef, decimals uint8) (bool, error)

	// SetMetadata creates the Metaplex metadata account of mint. Reports whether
	// it already existed.
	SetMetadata(ctx context.Context, mint string, signer domain.SignerRef, name, symbol, uri string) (bool, error)

	// MintSupply mints up to amount total supply into the custodian's token
	// account. Reports whether the supply was already minted.
	MintSupply(ctx context.Context, mint string, signer domain.SignerRef, amount uint64) (bool, error)

	// RevokeMintAuthority removes the mint authority. Reports whether it was
	// already revoked.
	RevokeMintAuthority(ctx context.Context, mint string, signer domain.SignerRef) (bool, error)

	// SubscribeLogs opens a logs subscription for transactions mentioning address.
	SubscribeLogs(ctx context.Context, address string) (*solana.Subscription, error)

	// UnsubscribeLogs cancels a subscription by handle.
	UnsubscribeLogs(ctx context.Context, handle int64) error

	// GetParsedTransaction returns the transaction with its token balances.
	// Returns ErrTransactionNotFound when the node does not have it yet.
	GetParsedTransaction(ctx context.Context, sig string) (*solana.Transaction, error)

	// FetchMetadata returns the public metadata of a real mint.
	FetchMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error)
}

func isNative(mint string) bool {
	return mint == "" || mint == domain.NativeMint
}
