// Package fake provides an in-memory ledger.Client for tests.
//
// Balances move when transfers are submitted, mints record their deployment
// steps, and every state-changing call is counted so tests can assert on
// idempotence.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/ledger"
	"solana-twin-mirror/internal/solana"
)

// ErrInsufficientFunds mirrors the ledger's rejection of an overdrawn transfer.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Transfer is a recorded SubmitTransfer call.
type Transfer struct {
	Mint      string
	Amount    uint64
	From      string
	To        string
	Signer    domain.SignerRef
	Signature string
}

// Mint is the simulated state of a deployed mint.
type Mint struct {
	Decimals         uint8
	Supply           uint64
	HasMetadata      bool
	AuthorityRevoked bool
	Name             string
	Symbol           string
	URI              string
}

type holdingKey struct {
	owner string
	mint  string
}

// Ledger is an in-memory ledger.Client.
type Ledger struct {
	mu sync.Mutex

	custodian     string
	balances      map[holdingKey]uint64
	tokenAccounts map[holdingKey]bool
	mints         map[string]*Mint
	metadata      map[string]*domain.TokenMetadata
	transactions  map[string]*solana.Transaction
	subs          map[int64]chan solana.LogNotification
	subAddress    map[int64]string
	nextHandle    int64
	nextSig       int

	transfers []Transfer
	mutations map[string]int

	// Errors makes the named method fail with the given error.
	Errors map[string]error
	// DeployGate, when set, blocks DeployMint until it is closed or receives.
	DeployGate chan struct{}
}

// Compile-time interface check.
var _ ledger.Client = (*Ledger)(nil)

// New creates a fake ledger with the given custodian address.
func New(custodian string) *Ledger {
	return &Ledger{
		custodian:     custodian,
		balances:      make(map[holdingKey]uint64),
		tokenAccounts: make(map[holdingKey]bool),
		mints:         make(map[string]*Mint),
		metadata:      make(map[string]*domain.TokenMetadata),
		transactions:  make(map[string]*solana.Transaction),
		subs:          make(map[int64]chan solana.LogNotification),
		subAddress:    make(map[int64]string),
		mutations:     make(map[string]int),
		Errors:        make(map[string]error),
	}
}

// SetBalance sets the balance of owner for mint. Use domain.NativeMint for lamports.
func (l *Ledger) SetBalance(owner, mint string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[holdingKey{owner, normalize(mint)}] = amount
	if !isNative(mint) {
		l.tokenAccounts[holdingKey{owner, mint}] = true
	}
}

// Balance returns the simulated balance.
func (l *Ledger) Balance(owner, mint string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[holdingKey{owner, normalize(mint)}]
}

// SetMint installs mint state directly.
func (l *Ledger) SetMint(address string, m Mint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := m
	l.mints[address] = &c
}

// MintState returns a copy of the mint state, or nil.
func (l *Ledger) MintState(address string) *Mint {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.mints[address]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

// SetTokenMetadata registers the metadata returned by FetchMetadata for a real mint.
func (l *Ledger) SetTokenMetadata(meta domain.TokenMetadata) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := meta
	l.metadata[meta.Mint] = &c
}

// AddTransaction registers a transaction returned by GetParsedTransaction.
func (l *Ledger) AddTransaction(tx *solana.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[tx.Signature] = tx
}

// Notify pushes a log notification to every subscription on address.
// Returns the number of subscriptions notified.
func (l *Ledger) Notify(address string, n solana.LogNotification) int {
	l.mu.Lock()
	var targets []chan solana.LogNotification
	for h, addr := range l.subAddress {
		if addr == address {
			targets = append(targets, l.subs[h])
		}
	}
	l.mu.Unlock()

	for _, ch := range targets {
		ch <- n
	}
	return len(targets)
}

// Subscriptions returns the number of live subscriptions.
func (l *Ledger) Subscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Transfers returns the submitted transfers in order.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// Mutations returns the number of state-changing calls by method.
func (l *Ledger) Mutations() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.mutations))
	for k, v := range l.mutations {
		out[k] = v
	}
	return out
}

// MutationCount returns the total number of state-changing calls.
func (l *Ledger) MutationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.mutations {
		n += v
	}
	return n
}

// Custodian returns the custodial address.
func (l *Ledger) Custodian() string {
	return l.custodian
}

// SubmitTransfer moves amount between the simulated balances.
func (l *Ledger) SubmitTransfer(_ context.Context, mint string, amount uint64, from, to string, signer domain.SignerRef) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Errors["SubmitTransfer"]; err != nil {
		return "", err
	}
	if string(signer) != from {
		return "", fmt.Errorf("invalid signature: %s cannot sign for %s", signer, from)
	}
	mint = normalize(mint)
	if !isNative(mint) {
		if !l.tokenAccounts[holdingKey{from, mint}] || !l.tokenAccounts[holdingKey{to, mint}] {
			return "", fmt.Errorf("invalid account: missing token account for %s", mint)
		}
	}
	src := holdingKey{from, mint}
	if l.balances[src] < amount {
		return "", fmt.Errorf("%w: %s has %d of %s, needs %d", ErrInsufficientFunds, from, l.balances[src], mint, amount)
	}

	l.balances[src] -= amount
	l.balances[holdingKey{to, mint}] += amount
	l.mutations["SubmitTransfer"]++

	sig := l.signature()
	l.transfers = append(l.transfers, Transfer{Mint: mint, Amount: amount, From: from, To: to, Signer: signer, Signature: sig})
	return sig, nil
}

// ConfirmTransaction succeeds unless an error is injected.
func (l *Ledger) ConfirmTransaction(_ context.Context, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Errors["ConfirmTransaction"]
}

// GetBalance returns the simulated balance.
func (l *Ledger) GetBalance(_ context.Context, owner, mint string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["GetBalance"]; err != nil {
		return 0, err
	}
	return l.balances[holdingKey{owner, normalize(mint)}], nil
}

// CreateOrGetTokenAccount marks the token account as existing.
func (l *Ledger) CreateOrGetTokenAccount(_ context.Context, owner, mint string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["CreateOrGetTokenAccount"]; err != nil {
		return "", err
	}
	k := holdingKey{owner, mint}
	if !l.tokenAccounts[k] {
		l.tokenAccounts[k] = true
		l.mutations["CreateTokenAccount"]++
	}
	return "ata:" + owner + ":" + mint, nil
}

// DeployMint creates the mint unless it exists.
func (l *Ledger) DeployMint(ctx context.Context, signer domain.SignerRef, decimals uint8) (bool, error) {
	if gate := l.DeployGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["DeployMint"]; err != nil {
		return false, err
	}
	if _, ok := l.mints[string(signer)]; ok {
		return true, nil
	}
	l.mints[string(signer)] = &Mint{Decimals: decimals}
	l.mutations["DeployMint"]++
	return false, nil
}

// SetMetadata records metadata unless present.
func (l *Ledger) SetMetadata(_ context.Context, mint string, _ domain.SignerRef, name, symbol, uri string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["SetMetadata"]; err != nil {
		return false, err
	}
	m, ok := l.mints[mint]
	if !ok {
		return false, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mint)
	}
	if m.HasMetadata {
		return true, nil
	}
	m.HasMetadata = true
	m.Name, m.Symbol, m.URI = name, symbol, uri
	l.mutations["SetMetadata"]++
	return false, nil
}

// MintSupply mints the missing supply to the custodian.
func (l *Ledger) MintSupply(_ context.Context, mint string, _ domain.SignerRef, amount uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["MintSupply"]; err != nil {
		return false, err
	}
	m, ok := l.mints[mint]
	if !ok {
		return false, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mint)
	}
	if m.Supply >= amount {
		return true, nil
	}
	if m.AuthorityRevoked {
		return false, fmt.Errorf("%w: %s", ledger.ErrAuthorityRevoked, mint)
	}
	missing := amount - m.Supply
	m.Supply = amount
	l.tokenAccounts[holdingKey{l.custodian, mint}] = true
	l.balances[holdingKey{l.custodian, mint}] += missing
	l.mutations["MintSupply"]++
	return false, nil
}

// RevokeMintAuthority marks the authority revoked.
func (l *Ledger) RevokeMintAuthority(_ context.Context, mint string, _ domain.SignerRef) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["RevokeMintAuthority"]; err != nil {
		return false, err
	}
	m, ok := l.mints[mint]
	if !ok {
		return false, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mint)
	}
	if m.AuthorityRevoked {
		return true, nil
	}
	m.AuthorityRevoked = true
	l.mutations["RevokeMintAuthority"]++
	return false, nil
}

// SubscribeLogs opens a buffered notification channel for address.
func (l *Ledger) SubscribeLogs(_ context.Context, address string) (*solana.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["SubscribeLogs"]; err != nil {
		return nil, err
	}
	l.nextHandle++
	ch := make(chan solana.LogNotification, 16)
	l.subs[l.nextHandle] = ch
	l.subAddress[l.nextHandle] = address
	return &solana.Subscription{Handle: l.nextHandle, C: ch}, nil
}

// UnsubscribeLogs closes the subscription channel.
func (l *Ledger) UnsubscribeLogs(_ context.Context, handle int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.subs[handle]
	if !ok {
		return fmt.Errorf("unknown subscription %d", handle)
	}
	close(ch)
	delete(l.subs, handle)
	delete(l.subAddress, handle)
	return nil
}

// GetParsedTransaction returns a registered transaction.
func (l *Ledger) GetParsedTransaction(_ context.Context, sig string) (*solana.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["GetParsedTransaction"]; err != nil {
		return nil, err
	}
	tx, ok := l.transactions[sig]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, sig)
	}
	return tx, nil
}

// FetchMetadata returns registered metadata.
func (l *Ledger) FetchMetadata(_ context.Context, mint string) (*domain.TokenMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.Errors["FetchMetadata"]; err != nil {
		return nil, err
	}
	m, ok := l.metadata[mint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mint)
	}
	c := *m
	return &c, nil
}

func (l *Ledger) signature() string {
	l.nextSig++
	return fmt.Sprintf("sig-%d", l.nextSig)
}

func normalize(mint string) string {
	if mint == "" {
		return domain.NativeMint
	}
	return mint
}

func isNative(mint string) bool {
	return mint == "" || mint == domain.NativeMint
}
