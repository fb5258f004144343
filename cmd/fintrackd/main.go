package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/fx"
	apihttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/scheduler"
	"fintrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	logger.Info("Starting fintrackd")

	cfg := cli.LoadAndValidateConfig(logger)
	loc := cfg.Location()
	hour, minute, _ := cfg.DailyAt()

	repo := cli.InitSQLite(logger, cfg.DBPath)
	defer repo.Close()

	// A nil *amqp.Client must not reach the services as a non-nil interface.
	var publisher services.ChangePublisher
	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	converter := fx.NewFrankfurter(fx.FrankfurterConfig{
		BaseURL:   cfg.FXBaseURL,
		Target:    cfg.Currency(),
		Timeout:   cfg.FXTimeout,
		MarkupBPS: cfg.FXMarkupBPS,
		CacheSize: cfg.FXCacheSize,
		CacheTTL:  cfg.FXCacheTTL,
	})
	caches := cache.NewManager()
	caches.Register(converter.Cache())
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	rollups := services.NewRollupService(repo, cfg.RebuildConcurrency)
	balance := services.NewBalanceService(repo)
	engine := services.NewRecurringEngine(repo, rollups, converter, cfg.Currency(), publisher, loc)

	var server *apihttp.Server
	if cfg.HTTPAddr != "" {
		server = apihttp.NewServer(apihttp.Config{
			Addr:              cfg.HTTPAddr,
			UserID:            cfg.UserID,
			Location:          loc,
			RequestsPerMinute: cfg.HTTPRateLimit,
			Ready:             repo.Ping,
		}, apihttp.Services{
			Transactions:  services.NewTransactionService(repo, rollups, publisher),
			Reimbursement: services.NewReimbursementService(repo, rollups, publisher),
			Metrics:       services.NewMetricsService(repo, rollups, balance, loc),
			Balance:       balance,
			Budgets:       services.NewBudgetService(repo),
			Categories:    services.NewCategoryService(repo),
			Tags:          services.NewTagService(repo),
			Rules:         services.NewRuleService(repo, cfg.Currency()),
			Engine:        engine,
		}, logger.WithComponent(log.ComponentHTTP))
		caches.Register(server.RateLimiter())
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if server == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", log.FieldError, err)
		}
	})

	if server != nil {
		go func() {
			logger.Info("HTTP API listening", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", log.FieldError, err)
			}
		}()
	}

	var locker scheduler.Locker
	if rdb := cli.InitRedis(ctx, logger, cfg.RedisURL); rdb != nil {
		defer rdb.Close()
		locker = scheduler.NewRedisLocker(rdb)
	}

	sched := scheduler.New(scheduler.Config{
		Name:         "recurring",
		Interval:     cfg.SchedulerSafetyInterval,
		DailyHour:    hour,
		DailyMinute:  minute,
		Location:     loc,
		RunAtStartup: cfg.SchedulerRunAtStartup,
		Locker:       locker,
		LockTTL:      cfg.SchedulerLockTTL,
	}, func(ctx context.Context) error {
		_, err := engine.PostDueRules(ctx, cfg.UserID, engine.Today())
		return err
	}, logger.WithComponent(log.ComponentScheduler))

	logger.Info("fintrackd configured",
		log.FieldUserID, cfg.UserID,
		"db_path", cfg.DBPath,
		"timezone", loc.String(),
		"base_currency", cfg.BaseCurrency,
		"events", publisher != nil,
		"http", cfg.HTTPAddr != "",
		"distributed_lock", locker != nil)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Scheduler stopped unexpectedly", log.FieldError, err)
	}
	cli.WaitForShutdown(ctx, done)
}
