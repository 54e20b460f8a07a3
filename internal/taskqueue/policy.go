package taskqueue

import (
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrFatal marks an error that retrying cannot fix. Wrap it to short-circuit retries.
var ErrFatal = errors.New("fatal task error")

// fatalMarkers are ledger error fragments that never succeed on retry.
var fatalMarkers = []string{
	"invalid signature",
	"invalid account",
	"insufficient funds",
}

// Classify reports whether err is fatal and must not be retried.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Policy is the per-task retry policy.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 8 attempts, 3s initial backoff doubling up to 2m, and
// a 60s limit per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    8,
		InitialBackoff: 3 * time.Second,
		MaxBackoff:     2 * time.Minute,
		Multiplier:     2,
		AttemptTimeout: 60 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier < 2 {
		p.Multiplier = d.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// newBackOff builds the retry schedule. Attempts are bounded by MaxAttempts,
// not by elapsed time.
func (p Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}
