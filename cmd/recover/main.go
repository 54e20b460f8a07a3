// Package main runs one recovery pass against the mirror's state.
//
// Modes:
//
//	reclaim   sweep native balances of recorded twin wallets back to the custodian
//	redeploy  re-run DeployToken for token twins that never finished deploying
//	verify    compare twin balances with real holdings and write a report
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/app"
	"solana-twin-mirror/internal/config"
	"solana-twin-mirror/internal/domain"
	"solana-twin-mirror/internal/handlers"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/recovery"
	"solana-twin-mirror/internal/taskqueue"
	"solana-twin-mirror/internal/verification"
)

func main() {
	mode := flag.String("mode", "", "Recovery mode: reclaim, redeploy or verify")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall deadline for the pass")
	outputDir := flag.String("output-dir", "output", "Directory for the verify report")
	flag.Parse()

	if *mode != "reclaim" && *mode != "redeploy" && *mode != "verify" {
		fmt.Fprintln(os.Stderr, "--mode must be reclaim, redeploy or verify")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if *mode == "verify" {
		err = verify(ctx, cfg, *outputDir, log)
	} else {
		err = run(ctx, cfg, *mode, log)
	}
	if err != nil {
		log.WithError(err).Fatal("recovery failed")
	}
}

// verify writes verify.md and verify.csv into outputDir. It only reads.
func verify(ctx context.Context, cfg *config.Config, outputDir string, log *logrus.Logger) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg.Database, cfg.Journal, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rpc := app.NewRPCClient(cfg.Solana, nil)
	l, err := app.NewLedger(cfg, rpc, nil, stores, log)
	if err != nil {
		return err
	}

	report, err := verification.NewVerifier(l, stores.Targets, stores.Holdings, log).VerifyAll(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := map[string]string{
		"verify.md":  verification.RenderMarkdown(report),
		"verify.csv": verification.RenderCSV(report),
	}
	for name, content := range files {
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	log.WithFields(logrus.Fields{
		"output_dir": outputDir,
		"diverged":   report.Diverged,
	}).Info("verification report written")
	if report.Diverged > 0 {
		return fmt.Errorf("%d twin balances diverge", report.Diverged)
	}
	return nil
}

// tracked counts tasks from dispatch until their completion hook fires.
type tracked struct {
	q      *taskqueue.Queue
	wg     sync.WaitGroup
	failed atomic.Int64
}

func (t *tracked) Dispatch(task domain.Task) error {
	t.wg.Add(1)
	if err := t.q.Dispatch(task); err != nil {
		t.wg.Done()
		return err
	}
	return nil
}

func (t *tracked) complete(_ domain.Task, err error) {
	if err != nil {
		t.failed.Add(1)
	}
	t.wg.Done()
}

func run(ctx context.Context, cfg *config.Config, mode string, log *logrus.Logger) error {
	stores, cleanup, err := app.OpenStores(ctx, cfg.Database, cfg.Journal, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rpc := app.NewRPCClient(cfg.Solana, nil)
	l, err := app.NewLedger(cfg, rpc, nil, stores, log)
	if err != nil {
		return err
	}

	q := taskqueue.New(taskqueue.Options{
		Policy:  app.QueuePolicy(cfg.Queue),
		Journal: stores.Journal,
		Logger:  log,
	})
	defer q.Close()

	h := handlers.New(handlers.Options{
		Ledger:             l,
		Targets:            stores.Targets,
		Holdings:           stores.Holdings,
		Recovery:           stores.Recovery,
		Metadata:           stores.Metadata,
		Queue:              q,
		Logger:             log,
		DeployStallWarning: cfg.Queue.DeployStallWarning,
		RentReserve:        cfg.Recover.RentReserve,
	})
	defer h.Close()
	h.Register(q)

	tq := &tracked{q: q}
	q.OnComplete(tq.complete)

	queueCtx, stopQueue := context.WithCancel(ctx)
	defer stopQueue()
	go func() {
		if err := q.Run(queueCtx); err != nil {
			log.WithError(err).Error("task queue")
		}
	}()

	tool := recovery.New(recovery.Options{
		Ledger:      l,
		Recovery:    stores.Recovery,
		Targets:     stores.Targets,
		Queue:       tq,
		Logger:      log,
		Drain:       cfg.Recover.DrainAddress,
		MinReclaim:  cfg.Recover.MinReclaim,
		RentReserve: cfg.Recover.RentReserve,
		SweepDelay:  cfg.Recover.SweepDelay,
	})

	var n int
	switch mode {
	case "reclaim":
		n, err = tool.Reclaim(ctx)
	case "redeploy":
		n, err = tool.Redeploy(ctx)
	}
	if err != nil {
		log.WithError(err).Warn("some tasks were not dispatched")
	}

	waited := make(chan struct{})
	go func() {
		tq.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("%d tasks still pending: %w", q.Len(), ctx.Err())
	}

	failed := tq.failed.Load()
	log.WithFields(logrus.Fields{
		"mode":       mode,
		"dispatched": n,
		"failed":     failed,
	}).Info("recovery finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, n)
	}
	return err
}
