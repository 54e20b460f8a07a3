package domain

// TargetKind distinguishes wallet targets from token targets.
type TargetKind string

const (
	KindWallet TargetKind = "WALLET"
	KindToken  TargetKind = "TOKEN"
)

// String returns the string representation of TargetKind.
func (k TargetKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k TargetKind) IsValid() bool {
	return k == KindWallet || k == KindToken
}
