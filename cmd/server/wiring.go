package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"custody/internal/audit"
	"custody/internal/chain"
	"custody/internal/platform/config"
	"custody/internal/platform/database"
	"custody/internal/platform/health"
	"custody/internal/platform/kafka/producer"
	platformRedis "custody/internal/platform/redis"
	vaultService "custody/internal/vault/service"
	"custody/internal/vault/store"
	"custody/pkg/platform/circuit"
)

// resources tracks what must be released on exit and what runs for the life
// of the process.
type resources struct {
	log        *slog.Logger
	closers    []func()
	background []func(ctx context.Context) error
}

func (r *resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) runInBackground(fn func(ctx context.Context) error) {
	r.background = append(r.background, fn)
}

// close releases resources in reverse acquisition order.
func (r *resources) close() {
	for _, fn := range slices.Backward(r.closers) {
		fn()
	}
}

func buildChainSource(ctx context.Context, cfg config.VaultConfig, res *resources) (vaultService.ChainIDSource, error) {
	if cfg.ChainRPCURL == "" {
		src, err := chain.NewStatic(cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("init static chain id: %w", err)
		}
		return src, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	breaker := circuit.New("chain-rpc",
		circuit.WithCooldown(5*time.Second),
		circuit.WithStateChange(func(name string, from, to circuit.State) {
			res.log.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
	src, err := chain.DialRPC(dialCtx, cfg.ChainRPCURL, chain.WithBreaker(breaker))
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	res.onClose(src.Close)
	return src, nil
}

func buildLedger(ctx context.Context, cfg config.Server, reg prometheus.Registerer, h *health.Handler, res *resources) (vaultService.Ledger, error) {
	switch cfg.Vault.LedgerBackend {
	case config.LedgerPostgres:
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		res.onClose(func() {
			if err := pool.Close(); err != nil {
				res.log.Error("failed to close database", "error", err)
			}
		})
		if cfg.Database.MigrateOnStartup {
			applied, err := pool.Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
			res.log.Info("database migrations applied", "files", applied)
		}
		if err := pool.RegisterMetrics(reg); err != nil {
			return nil, fmt.Errorf("register database metrics: %w", err)
		}
		h.RegisterCheck("postgres", pool.Health)
		return store.NewPostgres(pool.DB(), cfg.Vault.Address), nil

	case config.LedgerRedis:
		client, err := platformRedis.New(ctx, cfg.Redis, reg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		res.onClose(func() {
			if err := client.Close(); err != nil {
				res.log.Error("failed to close redis", "error", err)
			}
		})
		h.RegisterCheck("redis", client.Health)
		res.runInBackground(func(ctx context.Context) error {
			return client.RunPoolStats(ctx, cfg.Redis.StatsInterval)
		})
		return store.NewRedis(client.Client, cfg.Vault.Address), nil

	case config.LedgerMemory:
		res.log.Warn("using in-memory ledger; balances and consumed authorizations are lost on restart")
		return store.NewInMemory(), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.Vault.LedgerBackend)
}

func buildAuditor(cfg config.AuditConfig, h *health.Handler, res *resources) (*audit.Publisher, error) {
	var sink audit.Store
	switch cfg.Sink {
	case config.AuditKafka:
		p, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), res.log)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		res.onClose(func() {
			if err := p.Close(); err != nil {
				res.log.Error("failed to close kafka producer", "error", err)
			}
		})
		h.RegisterCheck("kafka", func(ctx context.Context) error {
			if !p.Healthy(ctx) {
				return errors.New("kafka brokers unreachable")
			}
			return nil
		})
		sink = audit.NewKafkaStore(p, cfg.Topic)
	case config.AuditMemory:
		sink = audit.NewInMemoryStore()
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}

	publisher := audit.NewPublisher(sink,
		audit.WithAsyncBuffer(cfg.BufferSize),
		audit.WithPublisherLogger(res.log),
	)
	// registered after the sink so the buffer drains before the producer closes
	res.onClose(publisher.Close)
	return publisher, nil
}
