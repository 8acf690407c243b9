package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mintflow/anchor"
	"mintflow/api"
	"mintflow/asset"
	"mintflow/claim"
	"mintflow/config"
	"mintflow/credential"
	"mintflow/db"
	"mintflow/dispute"
	"mintflow/escrow"
	"mintflow/identity"
	"mintflow/order"
	"mintflow/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	issuer, err := credential.NewIssuer(cfg.SigningKeySeed, cfg.SigningKeyID)
	if err != nil {
		return err
	}

	escrowClient := escrow.NewHTTPClient(cfg.EscrowURL, cfg.NetworkTimeout)
	registryClient := registry.NewHTTPClient(cfg.RegistryURL, cfg.NetworkTimeout)

	var anchors anchor.Publisher = anchor.Disabled{}
	if cfg.AnchorEnabled {
		anchors = anchor.NewHTTPPublisher(cfg.AnchorURL, cfg.NetworkTimeout, logger)
	}

	assets := asset.NewService(asset.NewRepository(pool))
	orders := order.NewCoordinator(
		order.NewRepository(pool),
		assets,
		order.NewAllocator(escrowClient),
		order.NewMonitor(escrowClient, cfg.MinConfirmations),
		escrowClient,
		registryClient,
		issuer,
		anchors,
		cfg.MinConfirmations,
		logger,
	)
	disputes := dispute.NewService(dispute.NewRepository(pool))
	claims := claim.NewGuard(pool)
	sessions := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(orders, disputes, assets, claims, sessions, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "anchor_enabled", cfg.AnchorEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
