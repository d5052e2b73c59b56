package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/database"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/infrastructure/mq"
	"creditledger/internal/job"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", envOr("WALLET_CONFIG", "config/config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	db, err := database.OpenMySQL(&cfg.MySQL, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis disabled, jobs use in-process locking only and prices are not cached")
	}

	if err := seedCatalog(ctx, db, rdb, logger); err != nil {
		return err
	}

	if cfg.Payment.WebhookSecret == "" {
		if cfg.Payment.AllowUnsignedWebhooks {
			logger.Warn("payment webhooks accepted without signature, any caller can confirm top-ups")
		} else {
			logger.Warn("payment.webhook_secret is empty, provider webhooks will be rejected")
		}
	}

	opts := []service.Option{service.WithLogger(logger)}
	accounts := service.NewAccountService(db, cfg, opts...)
	reservations := service.NewReservationService(db, cfg, opts...)
	topups := service.NewTopUpService(db, cfg, opts...)
	pricing := service.NewPricingService(db, rdb, cfg, opts...)

	// background jobs; leases span two intervals and are renewed while a run lasts
	sweeper := job.NewReservationSweeper(reservations, cfg,
		job.RedisLockFactory(rdb, lock.SweeperLockKey, 2*cfg.Business.SweepInterval), logger)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	reconciler := job.NewBalanceReconcileJob(accounts, repository.NewAccountRepository(db), cfg,
		job.RedisLockFactory(rdb, lock.ReconcileLockKey, 2*cfg.Business.ReconcileInterval), logger)
	go reconciler.Start(ctx)
	defer reconciler.Stop()

	if cfg.Kafka.Enabled() {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		sender := job.NewOutboxSender(db, producer, cfg, logger)
		go sender.Start(ctx)
		defer sender.Stop()
	}

	h := handler.NewHandler(accounts, reservations, topups, pricing, logger)
	router := handler.SetupRouter(h, cfg, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// seedCatalog inserts the default coin packages into an empty catalog. With Redis the
// instances agree on a single seeder.
func seedCatalog(ctx context.Context, db *gorm.DB, rdb *redis.Client, logger *slog.Logger) error {
	if rdb != nil {
		l := lock.NewDistributedLock(rdb, lock.SeedLockKey, uuid.NewString(), 30*time.Second)
		if err := l.Lock(ctx, 200*time.Millisecond, 50); err != nil {
			return fmt.Errorf("seed lock: %w", err)
		}
		defer func() {
			if _, err := l.Unlock(context.Background()); err != nil {
				logger.Warn("release seed lock", "error", err)
			}
		}()
	}

	seeded, err := repository.NewCatalogRepository(db).SeedPackages(ctx, model.DefaultCoinPackages())
	if err != nil {
		return fmt.Errorf("seed coin packages: %w", err)
	}
	if seeded {
		logger.Info("seeded default coin packages")
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
