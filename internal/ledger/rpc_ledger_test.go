package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/keys"
	"solana-twin-mirror/internal/solana"
	"solana-twin-mirror/internal/solana/stub"
	"solana-twin-mirror/internal/storage/memory"
)

type fixture struct {
	rpc      *stub.RPCClient
	keyring  *keys.Keyring
	recovery *memory.RecoveryStore
	ledger   *RPCLedger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	_, secret, err := keys.Generate()
	require.NoError(t, err)

	recovery := memory.NewRecoveryStore()
	kr, err := keys.New(secret, memory.NewMiningTargetStore(), recovery)
	require.NoError(t, err)

	rpc := stub.NewRPCClient()
	opts = append([]Option{WithConfirmPolling(time.Millisecond, time.Second)}, opts...)
	return &fixture{
		rpc:      rpc,
		keyring:  kr,
		recovery: recovery,
		ledger:   NewRPCLedger(rpc, nil, kr, opts...),
	}
}

// twin registers a fresh key in the recovery store and returns its address.
func (f *fixture) twin(t *testing.T) string {
	t.Helper()
	addr, secret, err := keys.Generate()
	require.NoError(t, err)
	require.NoError(t, f.recovery.Insert(context.Background(), &domain.RecoveryRecord{Address: addr, Secret: secret, CreatedAt: 1}))
	return addr
}

func mintData(authority string, supply uint64, decimals uint8) []byte {
	data := make([]byte, solana.MintAccountSize)
	if authority != "" {
		binary.LittleEndian.PutUint32(data[0:4], 1)
		copy(data[4:36], mustDecode(authority))
	}
	binary.LittleEndian.PutUint64(data[36:44], supply)
	data[44] = decimals
	data[45] = 1
	return data
}

func mustDecode(s string) []byte {
	b, err := base58.Decode(s)
	if err != nil {
		panic(err)
	}
	return b
}

func tokenAccountData(mint, owner string, amount uint64) []byte {
	data := make([]byte, solana.TokenAccountSize)
	copy(data[0:32], mustDecode(mint))
	copy(data[32:64], mustDecode(owner))
	binary.LittleEndian.PutUint64(data[64:72], amount)
	return data
}

func lastTx(t *testing.T, rpc *stub.RPCClient) *solanago.Transaction {
	t.Helper()
	require.NotEmpty(t, rpc.Sent)
	tx, err := solanago.TransactionFromBytes(rpc.Sent[len(rpc.Sent)-1])
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())
	return tx
}

func programOf(tx *solanago.Transaction, i int) solanago.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func TestRPCLedger_GetBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner, _, _ := keys.Generate()
	mint, _, _ := keys.Generate()

	f.rpc.Balances[owner] = 5_000
	got, err := f.ledger.GetBalance(ctx, owner, domain.NativeMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), got)

	got, err = f.ledger.GetBalance(ctx, owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got, "missing token account reads as zero")

	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	f.rpc.SetAccount(ata, solana.TokenProgramID, 1, tokenAccountData(mint, owner, 777))

	got, err = f.ledger.GetBalance(ctx, owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), got)
}

func TestRPCLedger_CreateOrGetTokenAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner, _, _ := keys.Generate()
	mint, _, _ := keys.Generate()

	ata, err := f.ledger.CreateOrGetTokenAccount(ctx, owner, mint)
	require.NoError(t, err)
	require.Equal(t, 1, f.rpc.SentCount())

	tx := lastTx(t, f.rpc)
	assert.Equal(t, solanago.SPLAssociatedTokenAccountProgramID, programOf(tx, 0))
	assert.Equal(t, f.keyring.Custodian(), tx.Message.AccountKeys[0].String(), "custodian pays")

	f.rpc.SetAccount(ata, solana.TokenProgramID, 1, tokenAccountData(mint, owner, 0))
	again, err := f.ledger.CreateOrGetTokenAccount(ctx, owner, mint)
	require.NoError(t, err)
	assert.Equal(t, ata, again)
	assert.Equal(t, 1, f.rpc.SentCount(), "existing account must not be recreated")
}

func TestRPCLedger_DeployMint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mint := f.twin(t)

	existed, err := f.ledger.DeployMint(ctx, domain.SignerRef(mint), 6)
	require.NoError(t, err)
	assert.False(t, existed)

	tx := lastTx(t, f.rpc)
	assert.Len(t, tx.Signatures, 2, "custodian and mint sign")
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, solanago.SystemProgramID, programOf(tx, 0))
	assert.Equal(t, solanago.TokenProgramID, programOf(tx, 1))

	f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData(mint, 0, 6))
	existed, err = f.ledger.DeployMint(ctx, domain.SignerRef(mint), 6)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 1, f.rpc.SentCount())
}

func TestRPCLedger_DeployMint_OccupiedAddress(t *testing.T) {
	f := newFixture(t)
	mint := f.twin(t)
	f.rpc.SetAccount(mint, solana.SystemProgramID, 1, nil)

	_, err := f.ledger.DeployMint(context.Background(), domain.SignerRef(mint), 6)
	assert.True(t, errors.Is(err, ErrNotMintAccount))
}

func TestRPCLedger_SetMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mint := f.twin(t)

	existed, err := f.ledger.SetMetadata(ctx, mint, domain.SignerRef(mint), "Bonk", "BONK", "https://example.com/bonk.png")
	require.NoError(t, err)
	assert.False(t, existed)

	tx := lastTx(t, f.rpc)
	assert.Equal(t, solanago.TokenMetadataProgramID, programOf(tx, 0))

	pda, err := solana.FindMetadataAddress(mint)
	require.NoError(t, err)
	f.rpc.SetAccount(pda, solana.MetadataProgramID, 1, []byte{4})

	existed, err = f.ledger.SetMetadata(ctx, mint, domain.SignerRef(mint), "Bonk", "BONK", "")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 1, f.rpc.SentCount())
}

func TestRPCLedger_MintSupply(t *testing.T) {
	ctx := context.Background()

	t.Run("mints missing supply to custodian", func(t *testing.T) {
		f := newFixture(t)
		mint := f.twin(t)
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData(mint, 0, 6))

		already, err := f.ledger.MintSupply(ctx, mint, domain.SignerRef(mint), 1_000)
		require.NoError(t, err)
		assert.False(t, already)
		// custodian token account + mint_to
		assert.Equal(t, 2, f.rpc.SentCount())
		assert.Equal(t, solanago.TokenProgramID, programOf(lastTx(t, f.rpc), 0))
	})

	t.Run("already minted", func(t *testing.T) {
		f := newFixture(t)
		mint := f.twin(t)
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData(mint, 1_000, 6))

		already, err := f.ledger.MintSupply(ctx, mint, domain.SignerRef(mint), 1_000)
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, 0, f.rpc.SentCount())
	})

	t.Run("revoked before minting", func(t *testing.T) {
		f := newFixture(t)
		mint := f.twin(t)
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData("", 10, 6))

		_, err := f.ledger.MintSupply(ctx, mint, domain.SignerRef(mint), 1_000)
		assert.True(t, errors.Is(err, ErrAuthorityRevoked))
	})

	t.Run("missing mint", func(t *testing.T) {
		f := newFixture(t)
		mint := f.twin(t)
		_, err := f.ledger.MintSupply(ctx, mint, domain.SignerRef(mint), 1)
		assert.True(t, errors.Is(err, ErrMintNotFound))
	})
}

func TestRPCLedger_RevokeMintAuthority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mint := f.twin(t)

	f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData(mint, 1_000, 6))
	already, err := f.ledger.RevokeMintAuthority(ctx, mint, domain.SignerRef(mint))
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, solanago.TokenProgramID, programOf(lastTx(t, f.rpc), 0))

	f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData("", 1_000, 6))
	already, err = f.ledger.RevokeMintAuthority(ctx, mint, domain.SignerRef(mint))
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, 1, f.rpc.SentCount())

	other := f.twin(t)
	f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData(other, 1_000, 6))
	_, err = f.ledger.RevokeMintAuthority(ctx, mint, domain.SignerRef(mint))
	assert.True(t, errors.Is(err, ErrWrongAuthority))
}

func TestRPCLedger_SubmitTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	twin := f.twin(t)
	mint, _, _ := keys.Generate()

	sig, err := f.ledger.SubmitTransfer(ctx, domain.NativeMint, 1_000, twin, f.keyring.Custodian(), domain.SignerRef(twin))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	tx := lastTx(t, f.rpc)
	assert.Len(t, tx.Signatures, 2)
	assert.Equal(t, solanago.SystemProgramID, programOf(tx, 0))

	_, err = f.ledger.SubmitTransfer(ctx, mint, 5, f.keyring.Custodian(), twin, f.keyring.CustodianRef())
	require.NoError(t, err)
	tx = lastTx(t, f.rpc)
	assert.Len(t, tx.Signatures, 1, "custodian as source signs once")
	assert.Equal(t, solanago.TokenProgramID, programOf(tx, 0))

	stranger, _, _ := keys.Generate()
	_, err = f.ledger.SubmitTransfer(ctx, mint, 5, stranger, twin, domain.SignerRef(stranger))
	assert.True(t, errors.Is(err, keys.ErrUnknownSigner))
}

func TestRPCLedger_ConfirmTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.rpc.Statuses["ok"] = &solana.SignatureStatus{ConfirmationStatus: "confirmed"}
	require.NoError(t, f.ledger.ConfirmTransaction(ctx, "ok"))

	f.rpc.Statuses["bad"] = &solana.SignatureStatus{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}
	err := f.ledger.ConfirmTransaction(ctx, "bad")
	assert.True(t, errors.Is(err, ErrTransactionFailed))

	err = f.ledger.ConfirmTransaction(ctx, "never")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRPCLedger_GetParsedTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rpc.AddTransaction(&solana.Transaction{Signature: "abc"})

	tx, err := f.ledger.GetParsedTransaction(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tx.Signature)
}

func TestRPCLedger_FetchMetadata(t *testing.T) {
	ctx := context.Background()
	mint, _, _ := keys.Generate()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tokens":[{"address":"` + mint + `","name":"Registry Coin","symbol":"REG","decimals":9,"logoURI":"https://logo/reg.png"}]}`))
	}))
	defer server.Close()

	t.Run("registry first", func(t *testing.T) {
		f := newFixture(t, WithRegistry(NewRegistry(server.URL, time.Second)))
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData("", 42_000, 6))

		meta, err := f.ledger.FetchMetadata(ctx, mint)
		require.NoError(t, err)
		assert.Equal(t, "Registry Coin", meta.Name)
		assert.Equal(t, "REG", meta.Symbol)
		assert.Equal(t, "https://logo/reg.png", meta.URI)
		assert.Equal(t, uint8(6), meta.Decimals, "on-chain decimals win")
		assert.Equal(t, uint64(42_000), meta.Supply)
	})

	t.Run("metaplex fallback", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData("", 7, 0))
		pda, err := solana.FindMetadataAddress(mint)
		require.NoError(t, err)
		f.rpc.SetAccount(pda, solana.MetadataProgramID, 1, metadataAccount("Chain Coin", "CHN", "https://uri"))

		meta, err := f.ledger.FetchMetadata(ctx, mint)
		require.NoError(t, err)
		assert.Equal(t, "Chain Coin", meta.Name)
		assert.Equal(t, "CHN", meta.Symbol)
		assert.Equal(t, "https://uri", meta.URI)
	})

	t.Run("derived label", func(t *testing.T) {
		f := newFixture(t)
		f.rpc.SetAccount(mint, solana.TokenProgramID, 1, mintData("", 7, 0))

		meta, err := f.ledger.FetchMetadata(ctx, mint)
		require.NoError(t, err)
		assert.Equal(t, domain.DeriveLabel(mint), meta.Name)
	})
}

func metadataAccount(name, symbol, uri string) []byte {
	data := make([]byte, 65)
	data[0] = 4
	for _, s := range []string{name, symbol, uri} {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		data = append(data, n[:]...)
		data = append(data, s...)
	}
	return data
}
