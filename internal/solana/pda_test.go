package solana

import (
	"testing"

	solanago "github.com/gagliardetto/solana-go"
)

func TestFindAssociatedTokenAddress_MatchesReference(t *testing.T) {
	owner := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	got, err := FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress: %v", err)
	}

	want, _, err := solanago.FindAssociatedTokenAddress(solanago.MustPublicKeyFromBase58(owner), solanago.MustPublicKeyFromBase58(mint))
	if err != nil {
		t.Fatalf("reference derivation: %v", err)
	}
	if got != want.String() {
		t.Errorf("ATA = %s, want %s", got, want)
	}
}

func TestFindMetadataAddress_MatchesReference(t *testing.T) {
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	got, err := FindMetadataAddress(mint)
	if err != nil {
		t.Fatalf("FindMetadataAddress: %v", err)
	}

	want, _, err := solanago.FindTokenMetadataAddress(solanago.MustPublicKeyFromBase58(mint))
	if err != nil {
		t.Fatalf("reference derivation: %v", err)
	}
	if got != want.String() {
		t.Errorf("metadata PDA = %s, want %s", got, want)
	}
}

func TestFindAssociatedTokenAddress_InvalidInput(t *testing.T) {
	if _, err := FindAssociatedTokenAddress("not-base58-0OIl", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"); err == nil {
		t.Error("expected error for invalid owner")
	}
	if _, err := FindAssociatedTokenAddress("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "abc"); err == nil {
		t.Error("expected error for short mint")
	}
}

func TestIsValidAddress(t *testing.T) {
	if !IsValidAddress(SystemProgramID) {
		t.Error("system program should be valid")
	}
	if IsValidAddress("abc") {
		t.Error("short string should be invalid")
	}
}
