package domain

// RecoveryRecord keeps every generated twin key so funds can be reclaimed.
// Corresponds to recovery_records table in PostgreSQL. Append-only.
type RecoveryRecord struct {
	Address   string // PRIMARY KEY
	Secret    string // base58 of the 32-byte seed
	CreatedAt int64  // record creation timestamp (ms)
}
