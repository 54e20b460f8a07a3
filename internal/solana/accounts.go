package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Account data sizes.
const (
	MintAccountSize  = 82
	TokenAccountSize = 165
)

// MintAccount is the decoded SPL Token mint layout.
type MintAccount struct {
	MintAuthority *string // nil when revoked
	Supply        uint64
	Decimals      uint8
	Initialized   bool
}

// TokenAccount is the decoded SPL Token account layout.
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// MetadataAccount holds the fields of a Metaplex metadata account this module uses.
type MetadataAccount struct {
	Name   string
	Symbol string
	URI    string
}

// DecodeAccountData decodes base64 account data returned by getAccountInfo.
func DecodeAccountData(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return decoded, nil
}

// ParseMint parses SPL Token Mint account data.
// SPL Token Mint layout (82 bytes):
// - mintAuthority: COption<Pubkey> (36 bytes: 4 + 32)
// - supply: u64 (8 bytes)
// - decimals: u8 (1 byte)
// - isInitialized: bool (1 byte)
// - freezeAuthority: COption<Pubkey> (36 bytes: 4 + 32)
func ParseMint(data []byte) (*MintAccount, error) {
	if len(data) < MintAccountSize {
		return nil, fmt.Errorf("mint data too short: %d", len(data))
	}

	m := &MintAccount{
		Supply:      binary.LittleEndian.Uint64(data[36:44]),
		Decimals:    data[44],
		Initialized: data[45] == 1,
	}
	if binary.LittleEndian.Uint32(data[0:4]) == 1 {
		auth := base58.Encode(data[4:36])
		m.MintAuthority = &auth
	}
	return m, nil
}

// ParseTokenAccount parses SPL Token account data.
// Layout: mint (32) | owner (32) | amount u64 (8) | ...
func ParseTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("token account data too short: %d", len(data))
	}
	return &TokenAccount{
		Mint:   base58.Encode(data[0:32]),
		Owner:  base58.Encode(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[64:72]),
	}, nil
}

// ParseMetadata parses Metaplex Token Metadata account data.
// Metaplex Metadata layout:
// - key: u8 (1 byte, 4 for MetadataV1)
// - updateAuthority: Pubkey (32 bytes)
// - mint: Pubkey (32 bytes)
// - name, symbol, uri: borsh strings (4-byte length + data), NUL padded
func ParseMetadata(data []byte) (*MetadataAccount, error) {
	if len(data) < 69 {
		return nil, fmt.Errorf("metadata too short: %d", len(data))
	}
	if data[0] != 4 {
		return nil, fmt.Errorf("unexpected metadata key %d", data[0])
	}

	offset := 65
	fields := make([]string, 0, 3)
	for _, limit := range []uint32{100, 20, 500} {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("metadata truncated at offset %d", offset)
		}
		n := binary.LittleEndian.Uint32(data[offset:])
		offset += 4
		if n > limit || offset+int(n) > len(data) {
			return nil, fmt.Errorf("invalid metadata string length %d", n)
		}
		fields = append(fields, strings.TrimRight(string(data[offset:offset+int(n)]), "\x00"))
		offset += int(n)
	}

	return &MetadataAccount{Name: fields[0], Symbol: fields[1], URI: fields[2]}, nil
}
