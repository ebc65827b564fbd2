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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ricirt/marketplace-realtime/internal/api"
	"github.com/ricirt/marketplace-realtime/internal/api/handler"
	"github.com/ricirt/marketplace-realtime/internal/auth"
	"github.com/ricirt/marketplace-realtime/internal/bus"
	"github.com/ricirt/marketplace-realtime/internal/channel"
	"github.com/ricirt/marketplace-realtime/internal/config"
	"github.com/ricirt/marketplace-realtime/internal/db"
	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/gateway"
	"github.com/ricirt/marketplace-realtime/internal/jobs"
	applog "github.com/ricirt/marketplace-realtime/internal/logger"
	"github.com/ricirt/marketplace-realtime/internal/metrics"
	"github.com/ricirt/marketplace-realtime/internal/presence"
	"github.com/ricirt/marketplace-realtime/internal/provider"
	"github.com/ricirt/marketplace-realtime/internal/queue"
	"github.com/ricirt/marketplace-realtime/internal/ratelimiter"
	"github.com/ricirt/marketplace-realtime/internal/repository"
	"github.com/ricirt/marketplace-realtime/internal/service"
	"github.com/ricirt/marketplace-realtime/internal/tasks"
	"github.com/ricirt/marketplace-realtime/internal/worker"
)

var queueNames = []string{
	domain.QueueEscrowRelease,
	domain.QueueNotifications,
	domain.QueueEmail,
	domain.QueuePayouts,
	domain.QueueSubscriptions,
}

func buildServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, bus router, workers and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func runServe(ctx context.Context, skipMigrations bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := applog.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	nodeName := cfg.NodeName
	if nodeName == "" {
		if nodeName, err = os.Hostname(); err != nil {
			nodeName = "node"
		}
	}
	logger = logger.With(zap.String("node", nodeName))

	// ---- database ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if !skipMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	// ---- redis ----
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// ---- event bus ----
	eventBus, err := openBus(cfg, rdb, nodeName)
	if err != nil {
		return err
	}
	defer eventBus.Close()
	logger.Info("event bus connected", zap.String("driver", cfg.BusDriver))

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	notifRepo := repository.NewPgNotificationRepository(pool)
	chatRepo := repository.NewPgChatRepository(pool)
	userRepo := repository.NewPgUserRepository(pool)
	subRepo := repository.NewPgSubscriptionRepository(pool)

	publisher := bus.NewPublisher(eventBus, m.OnPublished)
	tracker := presence.NewRedisTracker(rdb, nodeName, cfg.PresenceTTL)
	registry := channel.NewRegistry(logger)
	authn := auth.NewAuthenticator(cfg.JWTSecret, userRepo)

	queues := queue.NewQueues(queue.NewPgStore(pool), cfg.JobMaxAttempts, queueNames...)

	notifications := service.NewNotificationService(notifRepo, publisher, queues, service.NotificationOptions{
		EmailBatchDelay: cfg.EmailBatchDelay,
		BulkLimit:       cfg.BulkNotificationLimit,
	}, logger)
	chats := service.NewChatService(chatRepo, publisher, logger)
	crm := service.NewCRMService(publisher)

	marketplace := provider.NewMarketplaceClient(cfg.MarketplaceURL, cfg.MarketplaceToken, cfg.MarketplaceTimeout)
	mailer := provider.NewWebhookMailer(cfg.EmailProviderURL, cfg.EmailProviderTimeout, ratelimiter.New(cfg.EmailRateLimit))

	// ---- job handlers ----
	handlers := jobs.NewRegistry()
	jobs.NewEscrowHandlers(marketplace, logger).Register(handlers)
	jobs.NewNotificationHandlers(notifications, crm, chatRepo, marketplace, logger).Register(handlers)
	jobs.NewEmailHandlers(notifRepo, userRepo, mailer, logger).Register(handlers)
	jobs.NewPayoutHandlers(marketplace, logger).Register(handlers)
	jobs.NewSubscriptionHandlers(subRepo, notifications, logger).Register(handlers)

	// ---- gateway ----
	gw := gateway.NewServer(authn, registry, chats, tracker, ratelimiter.New(cfg.CommandRateLimit), gateway.Options{
		SendBuffer:  cfg.SendBufferSize,
		PresenceTTL: cfg.PresenceTTL,
	}, logger.Named("gateway"), m.GatewayHooks())

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Gateway:       gw,
		Notifications: notifications,
		Jobs:          queues,
		JobWriter:     queues,
		Auth:          authn,
		Checks: map[string]handler.Check{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Gatherer: reg,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// ---- background work ----
	// Workers get their own context so in-flight jobs finish after the
	// signal while the HTTP side drains.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	pools := make([]*worker.Pool, 0, len(queueNames))
	for _, name := range queueNames {
		p := worker.NewPool(name, cfg.WorkersFor(name), queues.Store(), handlers, worker.Options{
			NodeName:     nodeName,
			PollInterval: cfg.JobPollInterval,
			LeaseTimeout: cfg.JobLeaseTimeout,
			Backoff:      cfg.JobRetryBackoff,
		}, logger, m.WorkerHooks())
		p.Start(workerCtx)
		pools = append(pools, p)
		logger.Info("worker pool started", zap.String("queue", name), zap.Int("size", p.Size()))
	}

	scheduler := worker.NewScheduler(queues, logger.Named("scheduler"))
	if err := scheduleRecurring(scheduler, cfg); err != nil {
		cancelWorkers()
		waitPools(pools)
		return err
	}
	scheduler.Start()

	background := tasks.NewTracker(workerCtx, logger)
	background.Go("presence-heartbeat", gw.RunHeartbeat)
	background.Go("job-reaper", func(ctx context.Context) error {
		worker.NewReaper(queues, cfg.JobReapInterval, logger, m.ObserveDepths).Run(ctx)
		return nil
	})

	// ---- serve until signalled ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := bus.NewRouter(registry, logger.Named("bus"), m.RouterHooks()).Run(gctx, eventBus)
		if err != nil && !errors.Is(err, context.Canceled) && gctx.Err() == nil {
			return fmt.Errorf("bus router: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdown(cfg.ShutdownTimeout, logger, srv, gw, scheduler)
		return nil
	})

	runErr := g.Wait()

	// Stop claiming jobs and wait for the current ones.
	cancelWorkers()
	waitPools(pools)
	background.Wait()

	if runErr != nil {
		logger.Error("server stopped with error", zap.Error(runErr))
		return runErr
	}
	logger.Info("server stopped cleanly")
	return nil
}

// shutdown drains the request-facing side: no new HTTP requests or sockets,
// open sockets closed with going-away, no new recurring jobs.
func shutdown(timeout time.Duration, logger *zap.Logger, srv *http.Server, gw *gateway.Server, scheduler *worker.Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := gw.Shutdown(ctx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}
	scheduler.Stop(ctx)
}

func waitPools(pools []*worker.Pool) {
	for _, p := range pools {
		p.Wait()
	}
}

func openBus(cfg *config.Config, rdb redis.UniversalClient, nodeName string) (bus.Bus, error) {
	switch cfg.BusDriver {
	case bus.DriverAMQP:
		return bus.NewAMQPBus(cfg.AMQPURL, cfg.AMQPExchange)
	case bus.DriverNATS:
		return bus.NewNATSBus(cfg.NATSURL, nodeName)
	default:
		return bus.NewRedisBus(rdb), nil
	}
}

func scheduleRecurring(s *worker.Scheduler, cfg *config.Config) error {
	err := s.Add(cfg.PayoutSchedule, func(firedAt time.Time) domain.JobPayload {
		return domain.WeeklyPayoutBatch{PeriodEnd: firedAt}
	})
	if err != nil {
		return err
	}
	return s.Add(cfg.InactivitySchedule, func(time.Time) domain.JobPayload {
		return domain.CRMInactivityCheck{InactiveDays: cfg.InactiveDays}
	})
}
