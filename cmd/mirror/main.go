// Package main runs the twin mirror daemon: it restores wallet subscriptions,
// mirrors balance changes onto twins and serves /health and /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"solana-twin-mirror/internal/app"
	"solana-twin-mirror/internal/config"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/solana"
)

const shutdownTimeout = 30 * time.Second

func main() {
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

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			log.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, log)
	close(done)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("mirror failed")
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	metrics := observability.NewMetrics("solana_twin_mirror")

	stores, cleanup, err := app.OpenStores(ctx, cfg.Database, cfg.Journal, log)
	if err != nil {
		return err
	}
	defer cleanup()

	rpc := app.NewRPCClient(cfg.Solana, metrics)
	ws, err := app.NewWSClient(ctx, cfg.Solana, log)
	if err != nil {
		return err
	}
	defer ws.Close()

	l, err := app.NewLedger(cfg, rpc, ws, stores, log)
	if err != nil {
		return err
	}
	log.WithField("custodian", l.Custodian()).Info("ledger client ready")

	mirror := app.NewMirror(cfg, stores, l, metrics, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirror.Run(gctx)
	})
	g.Go(func() error {
		return serveHTTP(gctx, cfg.Metrics.Addr, metrics, rpc, log)
	})
	return g.Wait()
}

// serveHTTP serves /health and /metrics until ctx is done.
func serveHTTP(ctx context.Context, addr string, metrics *observability.Metrics, rpc *solana.HTTPClient, log logrus.FieldLogger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := rpc.GetSlot(hctx); err != nil {
			http.Error(w, "ledger unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
