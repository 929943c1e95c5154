package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/znz-systems/solebook/internal/auth"
	"github.com/znz-systems/solebook/internal/cache"
	"github.com/znz-systems/solebook/internal/config"
	"github.com/znz-systems/solebook/internal/connection"
	"github.com/znz-systems/solebook/internal/dismissal"
	"github.com/znz-systems/solebook/internal/mailclient"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/notification"
	"github.com/znz-systems/solebook/internal/poller"
	"github.com/znz-systems/solebook/internal/polllock"
	"github.com/znz-systems/solebook/internal/ratelimit"
	"github.com/znz-systems/solebook/internal/secret"
	"github.com/znz-systems/solebook/internal/store/backend"
	"github.com/znz-systems/solebook/internal/trigger"
	"github.com/znz-systems/solebook/internal/web"
	"github.com/znz-systems/solebook/internal/web/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	stores, err := backend.Open(ctx, backend.Config{
		Backend:                  cfg.StoreBackend,
		DatabaseURL:              cfg.DatabaseURL,
		FirestoreProjectID:       cfg.FirestoreProjectID,
		FirestoreCredentialsJSON: cfg.FirestoreCredentialsJSON,
	})
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	sealer, err := secret.NewFromConfig(ctx, secret.Config{
		Backend:  cfg.CredentialSealer,
		LocalKey: cfg.CredentialKey,
		KMSKeyID: cfg.KMSKeyID,
	})
	if err != nil {
		slog.Error("failed to create credential sealer", "error", err)
		os.Exit(1)
	}

	// Poll lock
	var locker polllock.Locker = polllock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := polllock.NewRedisLockerFromURL(ctx, cfg.RedisURL, cfg.PollLockTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	// Services
	logger := slog.Default()
	authService := auth.NewService(cfg.JWTSecret)
	dismissalService := dismissal.NewService(stores.Dismissals, logger)
	connectionService := connection.NewService(stores.Connections, sealer, logger)
	triggerService := trigger.NewService(stores.Triggers,
		cache.NewLRU[int64, []models.TriggerPhrase](cfg.TriggerCacheSize, cfg.TriggerCacheTTL))
	aggregator := notification.NewAggregator(stores.Inventory, dismissalService, stores.EmailNotifications, logger)

	emailPoller := poller.New(connectionService, triggerService, stores.EmailNotifications,
		&mailclient.IMAPDialer{
			DialTimeout:    15 * time.Second,
			CommandTimeout: cfg.PollConnectionTimeout,
		},
		logger,
		poller.Options{
			Workers:           cfg.PollWorkers,
			ConnectionTimeout: cfg.PollConnectionTimeout,
			Deadline:          cfg.PollDeadline,
			FetchLimit:        cfg.PollFetchLimit,
		},
	)

	// Rate limiter
	limiter := ratelimit.NewLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Router
	router := web.NewRouter(web.RouterDeps{
		NotificationHandler: handlers.NewNotificationHandler(aggregator),
		ConnectionHandler:   handlers.NewConnectionHandler(connectionService),
		TriggerHandler:      handlers.NewTriggerHandler(triggerService),
		CronHandler:         handlers.NewCronHandler(emailPoller, locker),
		HealthHandler:       handlers.NewHealthHandler(stores.Ping),
		Tokens:              authService,
		CronSecret:          cfg.CronSecret,
		Limiter:             limiter,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// The cron endpoint holds the response open for a whole poll run.
		WriteTimeout: cfg.PollDeadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("solebook starting", "addr", addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
