package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/keys"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/solana"
)

// KeySource resolves signer handles to private keys.
type KeySource interface {
	Custodian() string
	Resolve(ctx context.Context, ref domain.SignerRef) (solanago.PrivateKey, error)
}

// RPCLedger implements Client over the JSON-RPC and WebSocket transports.
type RPCLedger struct {
	rpc      solana.RPCClient
	ws       solana.WSClient
	keys     KeySource
	registry *Registry
	log      *logrus.Entry

	confirmPoll    time.Duration
	confirmTimeout time.Duration
}

// Compile-time interface check.
var _ Client = (*RPCLedger)(nil)

// Option configures an RPCLedger.
type Option func(*RPCLedger)

// WithRegistry enables the token list lookup in FetchMetadata.
func WithRegistry(r *Registry) Option {
	return func(l *RPCLedger) {
		l.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *RPCLedger) {
		l.log = logging.Component(log, "ledger")
	}
}

// WithConfirmPolling sets the status poll interval and the overall confirmation timeout.
func WithConfirmPolling(interval, timeout time.Duration) Option {
	return func(l *RPCLedger) {
		if interval > 0 {
			l.confirmPoll = interval
		}
		if timeout > 0 {
			l.confirmTimeout = timeout
		}
	}
}

// NewRPCLedger creates a ledger client. ws may be nil when subscriptions are not needed.
func NewRPCLedger(rpc solana.RPCClient, ws solana.WSClient, keys KeySource, opts ...Option) *RPCLedger {
	l := &RPCLedger{
		rpc:            rpc,
		ws:             ws,
		keys:           keys,
		log:            logging.Component(nil, "ledger"),
		confirmPoll:    time.Second,
		confirmTimeout: 45 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Custodian returns the custodial address.
func (l *RPCLedger) Custodian() string {
	return l.keys.Custodian()
}

// SubmitTransfer signs and submits a single transfer.
func (l *RPCLedger) SubmitTransfer(ctx context.Context, mint string, amount uint64, from, to string, signer domain.SignerRef) (string, error) {
	fromKey, err := solanago.PublicKeyFromBase58(from)
	if err != nil {
		return "", fmt.Errorf("invalid source %s: %w", from, err)
	}
	toKey, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid target %s: %w", to, err)
	}

	var ix solanago.Instruction
	if isNative(mint) {
		ix = system.NewTransferInstruction(amount, fromKey, toKey).Build()
	} else {
		src, err := ataKey(from, mint)
		if err != nil {
			return "", err
		}
		dst, err := ataKey(to, mint)
		if err != nil {
			return "", err
		}
		ix = token.NewTransferInstruction(amount, src, dst, fromKey, []solanago.PublicKey{}).Build()
	}

	sig, err := l.send(ctx, []solanago.Instruction{ix}, signer)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	l.log.WithFields(logrus.Fields{
		"mint":      mint,
		"amount":    amount,
		"from":      from,
		"to":        to,
		"signature": sig,
	}).Debug("transfer submitted")
	return sig, nil
}

// ConfirmTransaction polls signature statuses until sig is confirmed.
func (l *RPCLedger) ConfirmTransaction(ctx context.Context, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(l.confirmPoll)
	defer ticker.Stop()

	for {
		statuses, err := l.rpc.GetSignatureStatuses(ctx, []string{sig})
		if err != nil && ctx.Err() == nil {
			l.log.WithError(err).WithField("signature", sig).Warn("signature status lookup failed")
		}
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}
			if status.Confirmed() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetBalance returns lamports for native mints and token units otherwise.
func (l *RPCLedger) GetBalance(ctx context.Context, owner, mint string) (uint64, error) {
	if isNative(mint) {
		return l.rpc.GetBalance(ctx, owner)
	}

	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	info, err := l.rpc.GetAccountInfo(ctx, ata)
	if err != nil {
		return 0, fmt.Errorf("get token account %s: %w", ata, err)
	}
	if info == nil {
		return 0, nil
	}
	data, err := solana.DecodeAccountData(info.Data)
	if err != nil {
		return 0, err
	}
	acc, err := solana.ParseTokenAccount(data)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

// CreateOrGetTokenAccount returns the associated token account, creating it when absent.
func (l *RPCLedger) CreateOrGetTokenAccount(ctx context.Context, owner, mint string) (string, error) {
	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", err
	}
	info, err := l.rpc.GetAccountInfo(ctx, ata)
	if err != nil {
		return "", fmt.Errorf("get token account %s: %w", ata, err)
	}
	if info != nil {
		return ata, nil
	}

	ownerKey, err := solanago.PublicKeyFromBase58(owner)
	if err != nil {
		return "", fmt.Errorf("invalid owner %s: %w", owner, err)
	}
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("invalid mint %s: %w", mint, err)
	}

	ix := associatedtokenaccount.NewCreateInstruction(l.payer(), ownerKey, mintKey).Build()
	sig, err := l.send(ctx, []solanago.Instruction{ix})
	if err != nil {
		return "", fmt.Errorf("create token account: %w", err)
	}
	if err := l.ConfirmTransaction(ctx, sig); err != nil {
		return "", err
	}

	l.log.WithFields(logrus.Fields{"owner": owner, "mint": mint, "account": ata}).Info("token account created")
	return ata, nil
}

// DeployMint creates and initialises the mint account named by signer.
func (l *RPCLedger) DeployMint(ctx context.Context, signer domain.SignerRef, decimals uint8) (bool, error) {
	mint := string(signer)
	info, err := l.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return false, fmt.Errorf("get mint %s: %w", mint, err)
	}
	if info != nil {
		if info.Owner != solana.TokenProgramID {
			return false, fmt.Errorf("%w: %s owned by %s", ErrNotMintAccount, mint, info.Owner)
		}
		return true, nil
	}

	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return false, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	rent, err := l.rpc.GetMinimumBalanceForRentExemption(ctx, solana.MintAccountSize)
	if err != nil {
		return false, fmt.Errorf("get rent exemption: %w", err)
	}

	create := system.NewCreateAccountInstruction(rent, solana.MintAccountSize, solanago.TokenProgramID, l.payer(), mintKey).Build()
	initialize := token.NewInitializeMintInstructionBuilder().
		SetDecimals(decimals).
		SetMintAuthority(mintKey).
		SetMintAccount(mintKey).
		SetSysVarRentPubkeyAccount(solanago.SysVarRentPubkey).
		Build()

	sig, err := l.send(ctx, []solanago.Instruction{create, initialize}, signer)
	if err != nil {
		return false, fmt.Errorf("deploy mint: %w", err)
	}
	if err := l.ConfirmTransaction(ctx, sig); err != nil {
		return false, err
	}

	l.log.WithFields(logrus.Fields{"mint": mint, "decimals": decimals, "signature": sig}).Info("mint deployed")
	return false, nil
}

// SetMetadata creates the Metaplex metadata account of mint.
func (l *RPCLedger) SetMetadata(ctx context.Context, mint string, signer domain.SignerRef, name, symbol, uri string) (bool, error) {
	metadata, err := solana.FindMetadataAddress(mint)
	if err != nil {
		return false, err
	}
	info, err := l.rpc.GetAccountInfo(ctx, metadata)
	if err != nil {
		return false, fmt.Errorf("get metadata %s: %w", metadata, err)
	}
	if info != nil {
		return true, nil
	}

	metadataKey := solanago.MustPublicKeyFromBase58(metadata)
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return false, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	authority, err := solanago.PublicKeyFromBase58(string(signer))
	if err != nil {
		return false, fmt.Errorf("invalid authority %s: %w", signer, err)
	}

	ix, err := newCreateMetadataInstruction(metadataKey, mintKey, authority, l.payer(), name, symbol, uri)
	if err != nil {
		return false, err
	}
	sig, err := l.send(ctx, []solanago.Instruction{ix}, signer)
	if err != nil {
		return false, fmt.Errorf("create metadata: %w", err)
	}
	if err := l.ConfirmTransaction(ctx, sig); err != nil {
		return false, err
	}

	l.log.WithFields(logrus.Fields{"mint": mint, "name": name, "symbol": symbol, "signature": sig}).Info("metadata created")
	return false, nil
}

// MintSupply mints the missing part of amount into the custodian's token account.
func (l *RPCLedger) MintSupply(ctx context.Context, mint string, signer domain.SignerRef, amount uint64) (bool, error) {
	acc, err := l.mintAccount(ctx, mint)
	if err != nil {
		return false, err
	}
	if acc.Supply >= amount {
		return true, nil
	}
	if acc.MintAuthority == nil {
		return false, fmt.Errorf("%w: %s has supply %d of %d", ErrAuthorityRevoked, mint, acc.Supply, amount)
	}
	if *acc.MintAuthority != string(signer) {
		return false, fmt.Errorf("%w: %s", ErrWrongAuthority, mint)
	}

	ata, err := l.CreateOrGetTokenAccount(ctx, l.Custodian(), mint)
	if err != nil {
		return false, err
	}

	mintKey := solanago.MustPublicKeyFromBase58(mint)
	authority := solanago.MustPublicKeyFromBase58(string(signer))
	ix := token.NewMintToInstruction(amount-acc.Supply, mintKey, solanago.MustPublicKeyFromBase58(ata), authority, []solanago.PublicKey{}).Build()

	sig, err := l.send(ctx, []solanago.Instruction{ix}, signer)
	if err != nil {
		return false, fmt.Errorf("mint supply: %w", err)
	}
	if err := l.ConfirmTransaction(ctx, sig); err != nil {
		return false, err
	}

	l.log.WithFields(logrus.Fields{"mint": mint, "amount": amount - acc.Supply, "signature": sig}).Info("supply minted")
	return false, nil
}

// RevokeMintAuthority sets the mint authority to none.
func (l *RPCLedger) RevokeMintAuthority(ctx context.Context, mint string, signer domain.SignerRef) (bool, error) {
	acc, err := l.mintAccount(ctx, mint)
	if err != nil {
		return false, err
	}
	if acc.MintAuthority == nil {
		return true, nil
	}
	if *acc.MintAuthority != string(signer) {
		return false, fmt.Errorf("%w: %s", ErrWrongAuthority, mint)
	}

	ix := token.NewSetAuthorityInstructionBuilder().
		SetAuthorityType(token.AuthorityMintTokens).
		SetSubjectAccount(solanago.MustPublicKeyFromBase58(mint)).
		SetAuthorityAccount(solanago.MustPublicKeyFromBase58(string(signer))).
		Build()

	sig, err := l.send(ctx, []solanago.Instruction{ix}, signer)
	if err != nil {
		return false, fmt.Errorf("revoke mint authority: %w", err)
	}
	if err := l.ConfirmTransaction(ctx, sig); err != nil {
		return false, err
	}

	l.log.WithFields(logrus.Fields{"mint": mint, "signature": sig}).Info("mint authority revoked")
	return false, nil
}

// SubscribeLogs subscribes to transactions mentioning address.
func (l *RPCLedger) SubscribeLogs(ctx context.Context, address string) (*solana.Subscription, error) {
	if l.ws == nil {
		return nil, fmt.Errorf("websocket client not configured")
	}
	return l.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{address}})
}

// UnsubscribeLogs cancels a subscription.
func (l *RPCLedger) UnsubscribeLogs(ctx context.Context, handle int64) error {
	if l.ws == nil {
		return fmt.Errorf("websocket client not configured")
	}
	return l.ws.UnsubscribeLogs(ctx, handle)
}

// GetParsedTransaction fetches a transaction with token balances.
func (l *RPCLedger) GetParsedTransaction(ctx context.Context, sig string) (*solana.Transaction, error) {
	tx, err := l.rpc.GetTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
	}
	return tx, nil
}

// FetchMetadata reads decimals and supply from the mint and descriptive fields
// from the token list, falling back to the Metaplex metadata account.
func (l *RPCLedger) FetchMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	acc, err := l.mintAccount(ctx, mint)
	if err != nil {
		return nil, err
	}
	meta := &domain.TokenMetadata{
		Mint:     mint,
		Decimals: acc.Decimals,
		Supply:   acc.Supply,
	}

	if l.registry != nil {
		entry, ok, err := l.registry.Lookup(ctx, mint)
		switch {
		case err != nil:
			l.log.WithError(err).WithField("mint", mint).Warn("token list lookup failed")
		case ok:
			meta.Name = entry.Name
			meta.Symbol = entry.Symbol
			meta.URI = entry.LogoURI
			return meta, nil
		}
	}

	address, err := solana.FindMetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	info, err := l.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get metadata %s: %w", address, err)
	}
	if info == nil {
		l.log.WithField("mint", mint).Warn("no metadata found, using derived label")
		label := domain.DeriveLabel(mint)
		meta.Name = label
		meta.Symbol = label
		return meta, nil
	}

	data, err := solana.DecodeAccountData(info.Data)
	if err != nil {
		return nil, err
	}
	parsed, err := solana.ParseMetadata(data)
	if err != nil {
		return nil, err
	}
	meta.Name = parsed.Name
	meta.Symbol = parsed.Symbol
	meta.URI = parsed.URI
	return meta, nil
}

func (l *RPCLedger) mintAccount(ctx context.Context, mint string) (*solana.MintAccount, error) {
	info, err := l.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint %s: %w", mint, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mint)
	}
	data, err := solana.DecodeAccountData(info.Data)
	if err != nil {
		return nil, err
	}
	return solana.ParseMint(data)
}

func (l *RPCLedger) payer() solanago.PublicKey {
	return solanago.MustPublicKeyFromBase58(l.keys.Custodian())
}

// send builds a transaction paid by the custodian, signs it with the custodian
// and signers, and submits it. Resolved keys are zeroed before returning.
func (l *RPCLedger) send(ctx context.Context, instructions []solanago.Instruction, signers ...domain.SignerRef) (string, error) {
	blockhash, err := l.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}
	hash, err := solanago.HashFromBase58(blockhash)
	if err != nil {
		return "", fmt.Errorf("parse blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(instructions, hash, solanago.TransactionPayer(l.payer()))
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	refs := append([]domain.SignerRef{domain.SignerRef(l.keys.Custodian())}, signers...)
	resolved := make(map[solanago.PublicKey]solanago.PrivateKey, len(refs))
	defer func() {
		for _, k := range resolved {
			keys.Zero(k)
		}
	}()
	for _, ref := range refs {
		pub, err := solanago.PublicKeyFromBase58(string(ref))
		if err != nil {
			return "", fmt.Errorf("invalid signer %s: %w", ref, err)
		}
		if _, ok := resolved[pub]; ok {
			continue
		}
		key, err := l.keys.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("resolve signer %s: %w", ref, err)
		}
		resolved[pub] = key
	}

	if _, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if k, ok := resolved[pub]; ok {
			return &k
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	return l.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw))
}

func ataKey(owner, mint string) (solanago.PublicKey, error) {
	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solanago.PublicKey{}, err
	}
	return solanago.PublicKeyFromBase58(ata)
}
