// Package verification checks that twin wallets hold what their real wallets
// hold. It compares the stored holding of every real wallet against the
// on-chain balance of the twin wallet on the twin mint.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/storage"
)

// Status of one checked pair.
type Status string

const (
	StatusMatch   Status = "MATCH"
	StatusDiverge Status = "DIVERGE"
	// StatusPending means the token twin is missing or not deployed yet.
	StatusPending Status = "PENDING"
	// StatusError means the twin balance could not be read.
	StatusError Status = "ERROR"
)

// BalanceReader reads ledger balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// Result is the check of one (wallet, mint) pair.
type Result struct {
	Wallet     string // real wallet
	TwinWallet string
	Mint       string // real mint
	TwinMint   string // empty while pending
	Expected   uint64 // stored real holding
	Actual     uint64 // twin balance on chain
	Status     Status
	Err        string
}

// Diff returns Actual - Expected as a signed difference.
func (r Result) Diff() int64 {
	if r.Actual >= r.Expected {
		return int64(r.Actual - r.Expected)
	}
	return -int64(r.Expected - r.Actual)
}

// Report summarises one verification pass.
type Report struct {
	GeneratedAt time.Time
	Wallets     int
	Matched     int
	Diverged    int
	Pending     int
	Errors      int
	Results     []Result
}

// Divergent returns the results that did not match.
func (r *Report) Divergent() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status == StatusDiverge {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) add(res Result) {
	switch res.Status {
	case StatusMatch:
		r.Matched++
	case StatusDiverge:
		r.Diverged++
	case StatusPending:
		r.Pending++
	case StatusError:
		r.Errors++
	}
	r.Results = append(r.Results, res)
}

// Verifier compares real holdings with twin balances.
type Verifier struct {
	ledger   BalanceReader
	targets  storage.MiningTargetStore
	holdings storage.TokenHoldingStore
	log      *logrus.Entry
}

// NewVerifier creates a Verifier.
func NewVerifier(l BalanceReader, targets storage.MiningTargetStore, holdings storage.TokenHoldingStore, log logrus.FieldLogger) *Verifier {
	return &Verifier{
		ledger:   l,
		targets:  targets,
		holdings: holdings,
		log:      logging.Component(log, "verification"),
	}
}

// VerifyAll checks every wallet target that has a twin.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	wallets, err := v.targets.ListWithTwin(ctx, domain.KindWallet)
	if err != nil {
		return nil, fmt.Errorf("list wallet twins: %w", err)
	}

	report := &Report{GeneratedAt: time.Now().UTC()}
	mintTwins := make(map[string]*domain.MiningTarget)

	for _, w := range wallets {
		results, err := v.verifyWallet(ctx, w, mintTwins)
		if err != nil {
			return nil, err
		}
		report.Wallets++
		for _, res := range results {
			report.add(res)
		}
	}

	v.log.WithFields(logrus.Fields{
		"wallets":  report.Wallets,
		"matched":  report.Matched,
		"diverged": report.Diverged,
		"pending":  report.Pending,
		"errors":   report.Errors,
	}).Info("verification finished")
	return report, nil
}

// VerifyWallet checks one real wallet.
func (v *Verifier) VerifyWallet(ctx context.Context, wallet string) ([]Result, error) {
	target, err := v.targets.GetByAddress(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("get wallet target %s: %w", wallet, err)
	}
	if target.Kind != domain.KindWallet || !target.HasTwin() {
		return nil, fmt.Errorf("%w: %s has no wallet twin", storage.ErrInvalidInput, wallet)
	}
	return v.verifyWallet(ctx, target, make(map[string]*domain.MiningTarget))
}

func (v *Verifier) verifyWallet(ctx context.Context, w *domain.MiningTarget, mintTwins map[string]*domain.MiningTarget) ([]Result, error) {
	holdings, err := v.holdings.ListByWallet(ctx, w.RealAddress)
	if err != nil {
		return nil, fmt.Errorf("list holdings of %s: %w", w.RealAddress, err)
	}

	results := make([]Result, 0, len(holdings))
	for _, h := range holdings {
		res := Result{
			Wallet:     w.RealAddress,
			TwinWallet: w.Twin(),
			Mint:       h.TokenMint,
			Expected:   h.Amount,
		}

		token, err := v.tokenTarget(ctx, h.TokenMint, mintTwins)
		if err != nil {
			return nil, err
		}
		if token == nil || !token.Deployed {
			res.Status = StatusPending
			results = append(results, res)
			continue
		}
		res.TwinMint = token.Twin()

		actual, err := v.ledger.GetBalance(ctx, res.TwinWallet, res.TwinMint)
		switch {
		case err != nil:
			res.Status = StatusError
			res.Err = err.Error()
		case actual == res.Expected:
			res.Actual = actual
			res.Status = StatusMatch
		default:
			res.Actual = actual
			res.Status = StatusDiverge
			v.log.WithFields(logrus.Fields{
				"wallet": res.Wallet,
				"mint":   res.Mint,
				"diff":   res.Diff(),
			}).Warn("twin balance diverges")
		}
		results = append(results, res)
	}
	return results, nil
}

// tokenTarget returns the cached token target for mint, or nil when none exists.
func (v *Verifier) tokenTarget(ctx context.Context, mint string, cache map[string]*domain.MiningTarget) (*domain.MiningTarget, error) {
	if t, ok := cache[mint]; ok {
		return t, nil
	}
	t, err := v.targets.GetByAddress(ctx, mint)
	if errors.Is(err, storage.ErrNotFound) {
		t, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token target %s: %w", mint, err)
	}
	cache[mint] = t
	return t, nil
}
