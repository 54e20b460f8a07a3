package domain

// TokenHolding is the last observed balance of a mint in a real wallet.
// Corresponds to token_holdings table in PostgreSQL.
type TokenHolding struct {
	WalletAddress string // PK part 1
	TokenMint     string // PK part 2
	Amount        uint64 // raw units
	UpdatedAt     int64  // last update timestamp (ms)
}
