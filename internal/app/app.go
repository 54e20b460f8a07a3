// Package app builds the shared stores and ledger clients used by the mirror
// daemon and the recovery tool.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-twin-mirror/internal/config"
	"solana-twin-mirror/internal/keys"
	"solana-twin-mirror/internal/ledger"
	"solana-twin-mirror/internal/logging"
	"solana-twin-mirror/internal/observability"
	"solana-twin-mirror/internal/solana"
	"solana-twin-mirror/internal/storage"
	chstore "solana-twin-mirror/internal/storage/clickhouse"
	"solana-twin-mirror/internal/storage/memory"
	"solana-twin-mirror/internal/storage/migrations"
	pgstore "solana-twin-mirror/internal/storage/postgres"
)

// Stores holds every state store. Journal is nil when no journal is configured.
type Stores struct {
	Targets   storage.MiningTargetStore
	Holdings  storage.TokenHoldingStore
	Recovery  storage.RecoveryStore
	Monitored storage.MonitoredAddressStore
	Metadata  storage.TokenMetadataStore
	Journal   storage.TaskJournal
}

// MemoryStores returns in-memory stores with an in-memory journal.
func MemoryStores() *Stores {
	return &Stores{
		Targets:   memory.NewMiningTargetStore(),
		Holdings:  memory.NewTokenHoldingStore(),
		Recovery:  memory.NewRecoveryStore(),
		Monitored: memory.NewMonitoredAddressStore(),
		Metadata:  memory.NewTokenMetadataStore(),
		Journal:   memory.NewTaskJournal(),
	}
}

// OpenStores connects the configured stores. The returned cleanup closes
// every connection it opened.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, journal config.JournalConfig, log logrus.FieldLogger) (*Stores, func(), error) {
	log = logging.Component(log, "stores")

	if cfg.UseMemory {
		log.Warn("using in-memory stores; state is lost on exit")
		return MemoryStores(), func() {}, nil
	}
	if cfg.PostgresDSN == "" {
		return nil, nil, fmt.Errorf("%w: postgres dsn is required unless use_memory is set", storage.ErrInvalidInput)
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Migrate {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.WithField("applied", applied).Info("postgres schema up to date")
	}

	stores := &Stores{
		Targets:   pgstore.NewMiningTargetStore(pool),
		Holdings:  pgstore.NewTokenHoldingStore(pool),
		Recovery:  pgstore.NewRecoveryStore(pool),
		Monitored: pgstore.NewMonitoredAddressStore(pool),
		Metadata:  pgstore.NewTokenMetadataStore(pool),
	}

	var chConn *chstore.Conn
	if journal.ClickHouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, journal.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse journal: %w", err)
		}
		stores.Journal = chstore.NewTaskJournal(chConn)
		log.Info("task journal enabled")
	}

	cleanup := func() {
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}
	return stores, cleanup, nil
}

// NewRPCClient builds the JSON-RPC client with rate limiting and latency metrics.
func NewRPCClient(cfg config.SolanaConfig, metrics *observability.Metrics) *solana.HTTPClient {
	return solana.NewHTTPClient(cfg.RPCURL,
		solana.WithTimeout(cfg.Timeout),
		solana.WithMaxRetries(cfg.MaxRetries),
		solana.WithRateLimit(cfg.RateLimitRPS, cfg.RateBurst),
		solana.WithObserver(metrics.ObserveRPC),
	)
}

// NewWSClient connects the logs subscription client.
func NewWSClient(ctx context.Context, cfg config.SolanaConfig, log logrus.FieldLogger) (*solana.WSClientImpl, error) {
	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logging.Component(log, "ws")
	ws, err := solana.NewWSClient(ctx, cfg.WSURL, &wsCfg)
	if err != nil {
		return nil, fmt.Errorf("connect websocket %s: %w", cfg.WSURL, err)
	}
	return ws, nil
}

// NewLedger builds the key ring and the ledger client on top of rpc and ws.
// ws may be nil for tools that never subscribe.
func NewLedger(cfg *config.Config, rpc solana.RPCClient, ws solana.WSClient, stores *Stores, log logrus.FieldLogger) (*ledger.RPCLedger, error) {
	keyring, err := keys.New(cfg.Custodian.PrivateKey, stores.Targets, stores.Recovery)
	if err != nil {
		return nil, fmt.Errorf("load custodian key: %w", err)
	}

	opts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithConfirmPolling(cfg.Solana.ConfirmPoll, 0),
	}
	if cfg.Registry.TokenListURL != "" {
		opts = append(opts, ledger.WithRegistry(ledger.NewRegistry(cfg.Registry.TokenListURL, cfg.Registry.Timeout)))
	}
	return ledger.NewRPCLedger(rpc, ws, keyring, opts...), nil
}
