// Package keys resolves signer handles to private keys at signing time.
//
// Tasks never carry secret material. They name the address that must sign
// (domain.SignerRef) and the Keyring looks the secret up in the state store
// only for the duration of one signing call.
package keys

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// ErrUnknownSigner is returned when no secret is known for a signer handle.
var ErrUnknownSigner = errors.New("unknown signer")

// ErrKeyMismatch is returned when a stored secret does not derive the expected address.
var ErrKeyMismatch = errors.New("secret does not match signer address")

// Keyring resolves signer handles against the custodian key and the twin
// secrets persisted in mining targets and recovery records.
type Keyring struct {
	custodian solanago.PrivateKey
	address   string
	targets   storage.MiningTargetStore
	recovery  storage.RecoveryStore
}

// New builds a keyring. custodianSecret is a base58 seed or full secret key.
func New(custodianSecret string, targets storage.MiningTargetStore, recovery storage.RecoveryStore) (*Keyring, error) {
	key, err := DecodeSecret(custodianSecret)
	if err != nil {
		return nil, fmt.Errorf("decode custodian key: %w", err)
	}
	pk := solanago.PrivateKey(key)
	return &Keyring{
		custodian: pk,
		address:   pk.PublicKey().String(),
		targets:   targets,
		recovery:  recovery,
	}, nil
}

// Custodian returns the custodian address.
func (k *Keyring) Custodian() string {
	return k.address
}

// CustodianRef returns the signer handle of the custodian.
func (k *Keyring) CustodianRef() domain.SignerRef {
	return domain.SignerRef(k.address)
}

// CustodianKey returns the custodian public key.
func (k *Keyring) CustodianKey() solanago.PublicKey {
	return k.custodian.PublicKey()
}

// WithCustodian calls fn with a copy of the custodian key, zeroed when fn returns.
func (k *Keyring) WithCustodian(fn func(solanago.PrivateKey) error) error {
	key := make(solanago.PrivateKey, len(k.custodian))
	copy(key, k.custodian)
	defer Zero(key)
	return fn(key)
}

// WithSigner resolves ref and calls fn with its private key. The key is zeroed
// when fn returns and must not be retained.
func (k *Keyring) WithSigner(ctx context.Context, ref domain.SignerRef, fn func(solanago.PrivateKey) error) error {
	key, err := k.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	defer Zero(key)
	return fn(key)
}

// Resolve returns a fresh copy of the key behind ref. Callers own the slice
// and should Zero it after use.
func (k *Keyring) Resolve(ctx context.Context, ref domain.SignerRef) (solanago.PrivateKey, error) {
	addr := string(ref)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty handle", ErrUnknownSigner)
	}
	if addr == k.address {
		key := make(solanago.PrivateKey, len(k.custodian))
		copy(key, k.custodian)
		return key, nil
	}

	secret, err := k.lookupSecret(ctx, addr)
	if err != nil {
		return nil, err
	}

	raw, err := DecodeSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret for %s: %w", addr, err)
	}
	key := solanago.PrivateKey(raw)
	if key.PublicKey().String() != addr {
		Zero(key)
		return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, addr)
	}
	return key, nil
}

func (k *Keyring) lookupSecret(ctx context.Context, addr string) (string, error) {
	if k.targets != nil {
		t, err := k.targets.GetByTwinAddress(ctx, addr)
		switch {
		case err == nil && t.TwinSecret != nil && *t.TwinSecret != "":
			return *t.TwinSecret, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return "", fmt.Errorf("lookup twin %s: %w", addr, err)
		}
	}

	// Previous twins are only reachable through their recovery record.
	if k.recovery != nil {
		r, err := k.recovery.GetByAddress(ctx, addr)
		switch {
		case err == nil:
			return r.Secret, nil
		case !errors.Is(err, storage.ErrNotFound):
			return "", fmt.Errorf("lookup recovery record %s: %w", addr, err)
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownSigner, addr)
}

// DecodeSecret decodes a base58 ed25519 seed (32 bytes) or secret key (64 bytes).
func DecodeSecret(secret string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid base58: %w", err)
	}
	defer Zero(raw)

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !key.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			Zero(key)
			return nil, fmt.Errorf("secret key public half does not match seed")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected secret length %d", len(raw))
	}
}

// Generate creates a new keypair and returns its address and base58 seed.
func Generate() (address, secret string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", err
	}
	defer Zero(priv)
	return base58.Encode(pub), base58.Encode(priv.Seed()), nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// AddressOf returns the base58 address of a secret accepted by DecodeSecret.
func AddressOf(secret string) (string, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer Zero(key)
	return base58.Encode(key.Public().(ed25519.PublicKey)), nil
}
