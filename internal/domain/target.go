package domain

// LabelLength is the number of characters in a derived label.
const LabelLength = 8

// MiningTarget is an address for which a look-alike twin is searched for.
// Corresponds to mining_targets table in PostgreSQL.
type MiningTarget struct {
	ID           string     // PRIMARY KEY, deterministic hash of kind|address
	RealAddress  string     // unique, the real wallet or mint
	DerivedLabel string     // first 4 + last 4 characters of RealAddress
	Score        uint8      // bitmask of matched label positions
	TwinAddress  *string    // nullable until a twin is discovered
	TwinSecret   *string    // base58 of the 32-byte seed, nullable
	Kind         TargetKind // WALLET | TOKEN
	Deployed     bool       // token kind only: twin mint fully deployed
	CreatedAt    int64      // record creation timestamp (ms)
	UpdatedAt    int64      // last update timestamp (ms)
}

// HasTwin reports whether a twin has been assigned.
func (t *MiningTarget) HasTwin() bool {
	return t.TwinAddress != nil && *t.TwinAddress != "" && t.TwinSecret != nil && *t.TwinSecret != ""
}

// Twin returns the twin address or "".
func (t *MiningTarget) Twin() string {
	if t.TwinAddress == nil {
		return ""
	}
	return *t.TwinAddress
}

// DeriveLabel returns the first four and last four characters of address.
// Addresses shorter than LabelLength are returned unchanged.
func DeriveLabel(address string) string {
	if len(address) <= LabelLength {
		return address
	}
	return address[:4] + address[len(address)-4:]
}

// NewMiningTarget builds a target with score 0 and no twin.
func NewMiningTarget(id, address string, kind TargetKind, nowMs int64) *MiningTarget {
	return &MiningTarget{
		ID:           id,
		RealAddress:  address,
		DerivedLabel: DeriveLabel(address),
		Kind:         kind,
		CreatedAt:    nowMs,
		UpdatedAt:    nowMs,
	}
}
