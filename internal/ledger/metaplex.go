package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// Metaplex field limits in bytes.
const (
	maxNameLength   = 32
	maxSymbolLength = 10
	maxURILength    = 200
)

const createMetadataAccountV3 uint8 = 33

type metaplexCreator struct {
	Address  solanago.PublicKey
	Verified bool
	Share    uint8
}

type metaplexCollection struct {
	Verified bool
	Key      solanago.PublicKey
}

type metaplexUses struct {
	UseMethod uint8
	Remaining uint64
	Total     uint64
}

type metaplexDataV2 struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             *[]metaplexCreator  `bin:"optional"`
	Collection           *metaplexCollection `bin:"optional"`
	Uses                 *metaplexUses       `bin:"optional"`
}

type createMetadataArgs struct {
	Data              metaplexDataV2
	IsMutable         bool
	CollectionDetails *uint64 `bin:"optional"`
}

// newCreateMetadataInstruction builds CreateMetadataAccountV3 for mint with
// authority as mint and update authority.
func newCreateMetadataInstruction(metadata, mint, authority, payer solanago.PublicKey, name, symbol, uri string) (solanago.Instruction, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteUint8(createMetadataAccountV3); err != nil {
		return nil, err
	}
	args := createMetadataArgs{
		Data: metaplexDataV2{
			Name:   truncate(name, maxNameLength),
			Symbol: truncate(symbol, maxSymbolLength),
			URI:    truncate(uri, maxURILength),
		},
		IsMutable: true,
	}
	if err := enc.Encode(args); err != nil {
		return nil, fmt.Errorf("encode metadata args: %w", err)
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(metadata).WRITE(),
		solanago.Meta(mint),
		solanago.Meta(authority).SIGNER(),
		solanago.Meta(payer).WRITE().SIGNER(),
		solanago.Meta(authority).SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
		solanago.Meta(solanago.SysVarRentPubkey),
	}
	return solanago.NewInstruction(solanago.TokenMetadataProgramID, accounts, buf.Bytes()), nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
