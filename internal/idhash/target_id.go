package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-twin-mirror/internal/domain"
)

// ComputeTargetID computes a deterministic mining target id using SHA256.
// Formula: SHA256(kind|address)
// Returns hex-encoded hash (64 characters).
func ComputeTargetID(kind domain.TargetKind, address string) string {
	data := fmt.Sprintf("%s|%s", string(kind), address)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
