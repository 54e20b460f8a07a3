package monitor

import (
	"sort"

	"solana-twin-mirror/internal/solana"
)

// Change is the balance of one mint held by the watched owner before and
// after a transaction.
type Change struct {
	Mint string
	Pre  uint64
	Post uint64
}

// BalanceChanges returns the per-mint balances owner held before and after tx.
//
// Pre and post entries are matched by account index. A post entry without a
// pre entry started at zero; a pre entry that vanished from post (closed
// account) ended at zero. Several accounts of the same mint are summed.
// Results are ordered by mint.
func BalanceChanges(tx *solana.Transaction, owner string) []Change {
	if tx == nil || tx.Meta == nil {
		return nil
	}

	type key struct {
		index int
		mint  string
	}
	type account struct {
		pre  uint64
		post uint64
	}
	accounts := make(map[key]*account)

	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == owner {
			accounts[key{b.AccountIndex, b.Mint}] = &account{pre: b.Amount}
		}
	}
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner != owner {
			continue
		}
		k := key{b.AccountIndex, b.Mint}
		a, ok := accounts[k]
		if !ok {
			a = &account{}
			accounts[k] = a
		}
		a.post = b.Amount
	}

	byMint := make(map[string]*Change)
	for k, a := range accounts {
		c, ok := byMint[k.mint]
		if !ok {
			c = &Change{Mint: k.mint}
			byMint[k.mint] = c
		}
		c.Pre += a.pre
		c.Post += a.post
	}

	out := make([]Change, 0, len(byMint))
	for _, c := range byMint {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}
