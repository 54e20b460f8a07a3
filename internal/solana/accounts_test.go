package solana

import (
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

func TestParseMint(t *testing.T) {
	data := make([]byte, MintAccountSize)
	authority, _ := base58.Decode(TokenProgramID)
	binary.LittleEndian.PutUint32(data[0:4], 1)
	copy(data[4:36], authority)
	binary.LittleEndian.PutUint64(data[36:44], 1_000_000_000)
	data[44] = 6
	data[45] = 1

	m, err := ParseMint(data)
	if err != nil {
		t.Fatalf("ParseMint: %v", err)
	}
	if m.Supply != 1_000_000_000 || m.Decimals != 6 || !m.Initialized {
		t.Errorf("unexpected mint: %+v", m)
	}
	if m.MintAuthority == nil || *m.MintAuthority != TokenProgramID {
		t.Errorf("unexpected authority: %v", m.MintAuthority)
	}

	// Revoked authority
	binary.LittleEndian.PutUint32(data[0:4], 0)
	m, err = ParseMint(data)
	if err != nil {
		t.Fatalf("ParseMint: %v", err)
	}
	if m.MintAuthority != nil {
		t.Error("expected nil authority when revoked")
	}

	if _, err := ParseMint(data[:10]); err == nil {
		t.Error("expected error for short data")
	}
}

func TestParseTokenAccount(t *testing.T) {
	data := make([]byte, TokenAccountSize)
	mint, _ := base58.Decode(TokenProgramID)
	owner, _ := base58.Decode(AssociatedTokenProgramID)
	copy(data[0:32], mint)
	copy(data[32:64], owner)
	binary.LittleEndian.PutUint64(data[64:72], 42)

	acc, err := ParseTokenAccount(data)
	if err != nil {
		t.Fatalf("ParseTokenAccount: %v", err)
	}
	if acc.Mint != TokenProgramID || acc.Owner != AssociatedTokenProgramID || acc.Amount != 42 {
		t.Errorf("unexpected token account: %+v", acc)
	}
}

func TestParseMetadata(t *testing.T) {
	data := []byte{4}
	data = append(data, make([]byte, 64)...)
	for _, s := range []string{"USD Coin\x00\x00", "USDC", "https://example.com/usdc.json"} {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		data = append(data, n[:]...)
		data = append(data, s...)
	}

	meta, err := ParseMetadata(data)
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if meta.Name != "USD Coin" || meta.Symbol != "USDC" || meta.URI != "https://example.com/usdc.json" {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	data[0] = 1
	if _, err := ParseMetadata(data); err == nil {
		t.Error("expected error for wrong key")
	}
}
