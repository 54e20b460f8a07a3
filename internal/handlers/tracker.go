package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/storage"
)

// DeploymentTracker lets callers wait for a twin mint to finish deploying.
// Waiters are released by the DeployToken completion hook.
type DeploymentTracker struct {
	targets storage.MiningTargetStore

	mu      sync.Mutex
	waiters map[string][]chan error
}

// NewDeploymentTracker creates a tracker that consults targets for mints
// deployed before the wait started.
func NewDeploymentTracker(targets storage.MiningTargetStore) *DeploymentTracker {
	return &DeploymentTracker{
		targets: targets,
		waiters: make(map[string][]chan error),
	}
}

// Watch registers interest in twinMint and returns a channel receiving the
// outcome of its next DeployToken task. Register before dispatching the
// task so the outcome cannot be missed.
func (t *DeploymentTracker) Watch(twinMint string) <-chan error {
	ch := make(chan error, 1)
	t.mu.Lock()
	t.waiters[twinMint] = append(t.waiters[twinMint], ch)
	t.mu.Unlock()
	return ch
}

// Wait blocks until twinMint is deployed, its deployment fails, or ctx ends.
func (t *DeploymentTracker) Wait(ctx context.Context, twinMint string) error {
	return t.Await(ctx, twinMint, t.Watch(twinMint))
}

// Await waits on a channel obtained from Watch. It returns immediately when
// the store already marks twinMint deployed.
func (t *DeploymentTracker) Await(ctx context.Context, twinMint string, ch <-chan error) error {
	return t.AwaitReporting(ctx, twinMint, ch, 0, nil)
}

// AwaitReporting is Await that calls stalled every interval while the
// deployment is still outstanding. The waiter stays registered across
// reports, so a slow deployment is never missed.
func (t *DeploymentTracker) AwaitReporting(ctx context.Context, twinMint string, ch <-chan error, every time.Duration, stalled func(waited time.Duration)) error {
	deployed, err := t.isDeployed(ctx, twinMint)
	if err != nil {
		t.forget(twinMint, ch)
		return err
	}
	if deployed {
		t.forget(twinMint, ch)
		return nil
	}

	var tick <-chan time.Time
	if every > 0 && stalled != nil {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		tick = ticker.C
	}
	start := time.Now()

	for {
		select {
		case err := <-ch:
			if err != nil {
				return fmt.Errorf("deployment of %s failed: %w", twinMint, err)
			}
			return nil
		case <-tick:
			stalled(time.Since(start))
		case <-ctx.Done():
			t.forget(twinMint, ch)
			return fmt.Errorf("waiting for deployment of %s: %w", twinMint, ctx.Err())
		}
	}
}

// Resolve releases every waiter of twinMint with err.
func (t *DeploymentTracker) Resolve(twinMint string, err error) {
	t.mu.Lock()
	waiters := t.waiters[twinMint]
	delete(t.waiters, twinMint)
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
}

// Observe is a task queue completion hook. It resolves waiters when a
// DeployToken task reaches a terminal outcome.
func (t *DeploymentTracker) Observe(task domain.Task, err error) {
	deploy, ok := task.(domain.DeployToken)
	if !ok {
		return
	}
	t.Resolve(deploy.TwinTokenMint, err)
}

// Pending returns the number of registered waiters for twinMint.
func (t *DeploymentTracker) Pending(twinMint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters[twinMint])
}

func (t *DeploymentTracker) isDeployed(ctx context.Context, twinMint string) (bool, error) {
	target, err := t.targets.GetByTwinAddress(ctx, twinMint)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get target by twin %s: %w", twinMint, err)
	}
	return target.Deployed, nil
}

func (t *DeploymentTracker) forget(twinMint string, ch <-chan error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.waiters[twinMint]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.waiters, twinMint)
		return
	}
	t.waiters[twinMint] = list
}
