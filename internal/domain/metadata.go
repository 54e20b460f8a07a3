package domain

// TokenMetadata describes a real mint so its twin can be deployed alike.
type TokenMetadata struct {
	Mint      string
	Name      string
	Symbol    string
	URI       string
	Decimals  uint8
	Supply    uint64 // raw units
	FetchedAt int64  // when it was read from the ledger (ms), zero if never cached
}
