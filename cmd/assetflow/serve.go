package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/auth"
	"github.com/italolelis/assetflow/internal/blob"
	"github.com/italolelis/assetflow/internal/cache"
	"github.com/italolelis/assetflow/internal/cleanup"
	"github.com/italolelis/assetflow/internal/config"
	"github.com/italolelis/assetflow/internal/http/rest"
	"github.com/italolelis/assetflow/internal/lifecycle"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/notifier"
	"github.com/italolelis/assetflow/internal/storage/sqlite"
	"github.com/italolelis/assetflow/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("assetflow starting...", "log_level", a.cfg.LogLevel, "version", version)

			return run(cmd.Context(), a.cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, cfg.TelemetryConfig(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	assets := sqlite.NewInstrumentedAssetRepository(database, tel)
	servers := sqlite.NewInstrumentedServerRepository(database, tel)

	repos := rest.Repositories{
		Assets:      assets,
		Groups:      sqlite.NewInstrumentedGroupRepository(database, tel),
		DeployPaths: sqlite.NewInstrumentedDeployPathRepository(database, tel),
	}

	// =========================================================================
	// Start Storage
	local := blob.NewLocal(cfg.LocalDir)
	registry := blob.NewRegistry(
		local,
		servers,
		blob.WithPresignExpiry(cfg.PresignExpiry),
		blob.WithTelemetry(tel),
	)
	orchestrator := lifecycle.NewOrchestrator(assets, registry, tel)

	// =========================================================================
	// Start Authentication
	tokenCache := cache.New[string, *asset.SecretToken](cfg.TokenCacheTTL,
		cache.WithTelemetry[string, *asset.SecretToken]("auth_tokens", tel),
		cache.WithOnExpire(func(_ string, token *asset.SecretToken) {
			logger.Debug("token cache entry expired", "token_name", token.Name)
		}),
	)
	defer tokenCache.Stop()

	authenticator := auth.NewAuthenticator(sqlite.NewInstrumentedTokenRepository(database, tel), tokenCache)

	// =========================================================================
	// Start Orphan Audit
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	cleanup.NewOrphanAudit(assets, cfg.OrphanGracePeriod, notif, tel).Watch(ctx, cfg.OrphanCheckInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	assetHandler := rest.NewAssetHandler(repos, orchestrator, registry, local, authenticator.Middleware, cfg.MaxUploadSize)
	adminHandler := rest.NewAdminHandler(servers, registry, authenticator, authenticator.Middleware)

	server := setupServer(ctx, cfg, tel, assetHandler, adminHandler)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "local_dir", cfg.LocalDir)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer wires the middleware chain and routes into the http server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	assets *rest.AssetHandler,
	admin *rest.AdminHandler,
) *http.Server {
	r := chi.NewRouter()

	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", tel.Handler())

	r.Mount("/api/admin", admin.Routes())
	r.Mount("/api", assets.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "assetflow"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
