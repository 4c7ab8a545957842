package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sncs/nursecall-engine/internal/config"
	"github.com/sncs/nursecall-engine/internal/domain"
	"github.com/sncs/nursecall-engine/internal/handler"
	"github.com/sncs/nursecall-engine/internal/infra/postgresql"
	"github.com/sncs/nursecall-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/sncs/nursecall-engine/internal/infra/redis"
	"github.com/sncs/nursecall-engine/internal/observability"
	"github.com/sncs/nursecall-engine/internal/queue"
	"github.com/sncs/nursecall-engine/internal/ratelimit"
	"github.com/sncs/nursecall-engine/internal/repository"
	"github.com/sncs/nursecall-engine/internal/service"
	"github.com/sncs/nursecall-engine/internal/transport"
	"github.com/sncs/nursecall-engine/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("nursecall engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	metrics := observability.NewMetrics()

	// Repositories.
	calls := repository.NewGormCallRepo(db)
	nurses := repository.NewGormNurseRepo(db)
	dispatchQueue := repository.NewGormDispatchQueueRepo(db)
	escalations := repository.NewGormEscalationRepo(db)
	audits := repository.NewGormAuditRepo(db)
	events := repository.NewGormEventRepo(db)
	users := repository.NewGormUserRepo(db)
	assignments := repository.NewGormAssignmentRepo(db, logger)
	rateLimits := repository.NewGormRateLimitRepo(db)

	// Admission control: redis when configured, the database otherwise.
	var rdb *goredis.Client
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		limiter, err = infraredis.NewRedisLimiter(rdb)
		if err != nil {
			return fmt.Errorf("redis rate limiter init failed: %w", err)
		}
		logger.Info("rate limiter backed by redis")
	} else {
		limiter, err = ratelimit.NewDBLimiter(rateLimits, logger)
		if err != nil {
			return fmt.Errorf("db rate limiter init failed: %w", err)
		}
		logger.Info("rate limiter backed by postgres")
	}

	// Escalation notifications go through RabbitMQ when configured;
	// without a broker the scanner still escalates, it just cannot page
	// anyone out-of-band.
	var publisher queue.Publisher
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer mq.Close()
		publisher = queue.NewRabbitMQPublisher(mq)
	} else {
		logger.Warn("no rabbitmq configured, escalation notifications disabled")
	}

	// Services.
	engine, err := service.NewAssignmentEngine(ctx, assignments, cfg.AssignLockTimeout(), metrics, logger)
	if err != nil {
		return fmt.Errorf("assignment engine init failed: %w", err)
	}
	callService, err := service.NewCallService(calls, escalations, events, engine, cfg.CallThrottleWindow(), metrics, logger)
	if err != nil {
		return fmt.Errorf("call service init failed: %w", err)
	}
	shiftService, err := service.NewShiftService(nurses, dispatchQueue, calls, audits, logger)
	if err != nil {
		return fmt.Errorf("shift service init failed: %w", err)
	}
	scanner, err := service.NewEscalationScanner(escalations, publisher, escalationLevels(cfg), cfg.EscalationInterval(), metrics, logger)
	if err != nil {
		return fmt.Errorf("escalation scanner init failed: %w", err)
	}
	sweeper, err := service.NewRetentionSweeper(events, audits, cfg.EventRetention(), cfg.AuditRetention(), cfg.RetentionSweepInterval(), logger)
	if err != nil {
		return fmt.Errorf("retention sweeper init failed: %w", err)
	}

	// Realtime plane.
	hub := ws.NewHub(cfg.WSMaxConnections, logger)
	bridge, err := ws.NewBridge(events, meteredHub{hub: hub, metrics: metrics}, cfg.BridgePollInterval(), cfg.BridgeBatchSize, logger)
	if err != nil {
		return fmt.Errorf("broadcast bridge init failed: %w", err)
	}
	wsServer, err := ws.NewServer(cfg.WSPort, hub, wsAuthenticator(users), logger)
	if err != nil {
		return fmt.Errorf("websocket server init failed: %w", err)
	}

	// HTTP plane.
	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Use(handler.RateLimit(limiter, metrics, logger))
	app.Get("/metrics", metrics.FiberHandler())
	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	identity := handler.RequireIdentity(users)
	if err := handler.RegisterCallRoutes(app, callService, nurses, identity); err != nil {
		return fmt.Errorf("call routes init failed: %w", err)
	}
	if err := handler.RegisterShiftRoutes(app, shiftService, identity); err != nil {
		return fmt.Errorf("shift routes init failed: %w", err)
	}
	if err := handler.RegisterAuditRoutes(app, audits, identity); err != nil {
		return fmt.Errorf("audit routes init failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error { return bridge.Start(groupCtx) })
	g.Go(func() error { return wsServer.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("nursecall api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// escalationLevels applies the configured ladder thresholds on top of
// the built-in level definitions.
func escalationLevels(cfg *config.Config) []domain.EscalationLevel {
	levels := domain.DefaultEscalationLevels()
	timeouts := map[int]time.Duration{
		1: time.Duration(cfg.EscalationL1Sec) * time.Second,
		2: time.Duration(cfg.EscalationL2Sec) * time.Second,
		3: time.Duration(cfg.EscalationL3Sec) * time.Second,
	}
	for i := range levels {
		if timeout, ok := timeouts[levels[i].Level]; ok && timeout > 0 {
			levels[i].Timeout = timeout
		}
	}
	return levels
}

// wsAuthenticator adapts the user repository to the websocket auth
// contract, where an unknown user is a nil identity, not an error.
func wsAuthenticator(users repository.UserRepository) ws.Authenticator {
	return func(ctx context.Context, userID int64) (*domain.Identity, error) {
		identity, err := users.GetActive(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return identity, err
	}
}

// meteredHub decorates the hub so broadcast volume and connection
// counts land in the metrics registry.
type meteredHub struct {
	hub     *ws.Hub
	metrics *observability.Metrics
}

func (m meteredHub) Broadcast(event domain.Event) int {
	delivered := m.hub.Broadcast(event)
	m.metrics.AddEventsBroadcast(delivered)
	m.metrics.SetWSConnections(m.hub.Len())
	return delivered
}
