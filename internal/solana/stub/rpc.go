package stub

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/mr-tron/base58"

	"solana-twin-mirror/internal/solana"
)

// ErrNotFound is returned when a transaction is not found.
var ErrNotFound = errors.New("not found")

// RPCClient implements solana.RPCClient for testing.
// Submitted transactions are recorded and confirmed immediately.
type RPCClient struct {
	mu sync.Mutex

	Transactions map[string]*solana.Transaction
	Accounts     map[string]*solana.AccountInfo
	Balances     map[string]uint64
	Statuses     map[string]*solana.SignatureStatus
	Sent         [][]byte
	Blockhash    string
	Rent         uint64
	SendErr      error
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions: make(map[string]*solana.Transaction),
		Accounts:     make(map[string]*solana.AccountInfo),
		Balances:     make(map[string]uint64),
		Statuses:     make(map[string]*solana.SignatureStatus),
		Blockhash:    "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		Rent:         2039280,
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Accounts[pubkey], nil
}

// GetBalance returns the stored lamport balance.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Balances[pubkey], nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (string, error) {
	return c.Blockhash, nil
}

// GetMinimumBalanceForRentExemption returns the configured rent.
func (c *RPCClient) GetMinimumBalanceForRentExemption(_ context.Context, _ int) (uint64, error) {
	return c.Rent, nil
}

// SendTransaction records the transaction and marks it finalized.
func (c *RPCClient) SendTransaction(_ context.Context, txBase64 string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return "", c.SendErr
	}

	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", err
	}
	c.Sent = append(c.Sent, raw)

	sum := sha256.Sum256(raw)
	sig := base58.Encode(sum[:])
	c.Statuses[sig] = &solana.SignatureStatus{ConfirmationStatus: "finalized"}
	return sig, nil
}

// GetSignatureStatuses returns stored statuses.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// GetSlot returns a fixed slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	return 1, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SetAccount stores raw account data under pubkey.
func (c *RPCClient) SetAccount(pubkey, owner string, lamports uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = &solana.AccountInfo{
		Lamports: lamports,
		Owner:    owner,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// SentCount returns the number of submitted transactions.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}
