package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"custody/internal/authorization/issuer"
	"custody/internal/platform/config"
	"custody/internal/platform/health"
	"custody/internal/platform/logger"
	"custody/internal/platform/tracer"
	vaultHandler "custody/internal/vault/handler"
	vaultMetrics "custody/internal/vault/metrics"
	vaultService "custody/internal/vault/service"
	"custody/pkg/platform/middleware/request"
)

// main wires the vault, its backends and the HTTP surface. Business logic
// lives in internal/vault.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("initializing custody",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	healthHandler := health.New(cfg.Environment)
	res := &resources{log: log}
	defer res.close()

	chainSource, err := buildChainSource(ctx, cfg.Vault, res)
	if err != nil {
		return err
	}
	ledger, err := buildLedger(ctx, cfg, reg, healthHandler, res)
	if err != nil {
		return err
	}
	auditor, err := buildAuditor(cfg.Audit, healthHandler, res)
	if err != nil {
		return err
	}

	verifier, err := issuer.New(issuer.Config{Signer: cfg.Vault.Signer})
	if err != nil {
		return fmt.Errorf("init issuer: %w", err)
	}

	svc, err := vaultService.New(cfg.Vault.Address, verifier, ledger, chainSource,
		vaultService.WithAuditor(auditor),
		vaultService.WithMetrics(vaultMetrics.New(reg)),
		vaultService.WithLogger(log),
		vaultService.WithTracer(tracer.NewOTel()),
	)
	if err != nil {
		return fmt.Errorf("init vault service: %w", err)
	}

	chainID, err := chainSource.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	logDeployment(log, cfg, chainID.String())
	healthHandler.SetDetail("vault", cfg.Vault.Address.Hex())
	healthHandler.SetDetail("chain_source", cfg.Vault.ChainSource())
	healthHandler.SetDetail("ledger", cfg.Vault.LedgerBackend)
	healthHandler.SetDetail("audit_sink", cfg.Audit.Sink)

	router := newRouter(routerDeps{
		log:            log,
		registry:       reg,
		requestMetrics: request.NewMetrics(reg),
		health:         healthHandler,
		vault:          vaultHandler.New(svc, log),
		requestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	for _, job := range res.background {
		g.Go(func() error { return job(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

func logDeployment(log *slog.Logger, cfg config.Server, chainID string) {
	log.Info("vault deployed",
		"vault", cfg.Vault.Address.Hex(),
		"authorized_signer", cfg.Vault.Signer.Hex(),
		"chain_id", chainID,
		"chain_source", cfg.Vault.ChainSource(),
		"ledger", cfg.Vault.LedgerBackend,
		"audit_sink", cfg.Audit.Sink,
	)
	if cfg.Vault.Signer == config.DevSigner {
		log.Warn("authorized signer is the public development key; never fund this vault outside local testing")
	}
}
