package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	MetadataProgramID        = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
)

// FindAssociatedTokenAddress derives the associated token account of owner for mint.
// Seeds: [owner, token_program_id, mint]
func FindAssociatedTokenAddress(owner, mint string) (string, error) {
	ownerBytes, err := decodePubkey(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	mintBytes, err := decodePubkey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	tokenProgram, _ := decodePubkey(TokenProgramID)
	ataProgram, _ := decodePubkey(AssociatedTokenProgramID)

	pda := derivePDA([][]byte{ownerBytes, tokenProgram, mintBytes}, ataProgram)
	if pda == "" {
		return "", fmt.Errorf("no valid bump for associated token address")
	}
	return pda, nil
}

// FindMetadataAddress derives the Metaplex metadata account for mint.
// Seeds: ["metadata", metadata_program_id, mint]
func FindMetadataAddress(mint string) (string, error) {
	mintBytes, err := decodePubkey(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	programBytes, _ := decodePubkey(MetadataProgramID)

	pda := derivePDA([][]byte{[]byte("metadata"), programBytes, mintBytes}, programBytes)
	if pda == "" {
		return "", fmt.Errorf("no valid bump for metadata address")
	}
	return pda, nil
}

// IsValidAddress reports whether s decodes to a 32-byte public key.
func IsValidAddress(s string) bool {
	_, err := decodePubkey(s)
	return err == nil
}

func decodePubkey(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid public key length %d", len(b))
	}
	return b, nil
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// sha256(seeds || bump || program_id || "ProgramDerivedAddress"), taking the
// first bump from 255 down that yields a point off the ed25519 curve.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		hash := h.Sum(nil)

		if !isOnCurve(hash) {
			return base58.Encode(hash)
		}
	}
	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
