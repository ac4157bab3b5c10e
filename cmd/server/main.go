package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/traderx-trade-processor/internal/config"
	"github.com/traderx-trade-processor/internal/events"
	"github.com/traderx-trade-processor/internal/handler"
	"github.com/traderx-trade-processor/internal/lookup"
	"github.com/traderx-trade-processor/internal/middleware"
	"github.com/traderx-trade-processor/internal/repository"
	"github.com/traderx-trade-processor/internal/service"
	"github.com/traderx-trade-processor/pkg/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, logFile, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logFile.Close()

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage; the schema is migrated before the server accepts traffic
	store, closeStore, err := initStore(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	// Event transport
	bus, closeBus, err := initEvents(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize events: %v", err)
	}
	defer closeBus()
	dispatcher := events.NewDispatcher(bus, cfg.Events.QueueSize, cfg.Events.PublishTimeout, log.WithField("component", "dispatcher"))

	// Reference data and account lookups
	resolver, closeLookup, err := initLookup(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize lookups: %v", err)
	}
	defer closeLookup()

	// Initialize services
	processor := service.NewOrderProcessor(
		store,
		resolver,
		resolver,
		dispatcher,
		log.WithField("component", "order_processor"),
		service.WithLookupTimeout(cfg.Lookup.Timeout),
	)
	ledger := service.NewLedgerService(store)

	// Initialize handlers
	if err := middleware.RegisterValidators(); err != nil {
		log.Fatalf("Failed to register validators: %v", err)
	}
	orderHandler := handler.NewOrderHandler(processor)
	ledgerHandler := handler.NewLedgerHandler(ledger)
	feedHandler := handler.NewFeedHandler(bus, log.WithField("component", "feed"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLoggerMiddleware(log))
	router.Use(middleware.CORSMiddleware())

	router.GET("/health", handler.Health(handler.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}))

	orderLogger := middleware.OrderLoggerMiddleware(log)
	v1 := router.Group("/api/v1")
	{
		orderHandler.RegisterRoutes(v1, orderLogger)
		ledgerHandler.RegisterRoutes(v1)
	}
	orderHandler.RegisterLegacyRoutes(router, orderLogger)
	feedHandler.RegisterRoutes(router)

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
		// Open websocket feeds end with the run group
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		dispatcher.Start()
		return nil
	})

	g.Go(func() error {
		log.Infof("Starting server on %s (version %s)", srv.Addr, Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		// Graceful shutdown with 10 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// Flush events of orders booked before shutdown
		dispatcher.Stop()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Server stopped with error: %v", err)
		return
	}

	delivered, failed := dispatcher.Stats()
	log.WithFields(logrus.Fields{"delivered": delivered, "failed": failed}).Info("Server exited properly")
}

func initStore(cfg *config.Config, log *logrus.Logger) (repository.Store, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("Using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := initDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, nil, err
	}

	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return repository.NewGormStore(db), closeDB, nil
}

func initDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	level := gormlogger.Info
	if cfg.Server.Mode == gin.ReleaseMode {
		level = gormlogger.Warn
	}
	gormLog := gormlogger.New(log, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// splitBus publishes and subscribes through different transports
type splitBus struct {
	events.Publisher
	events.Subscriber
}

func initEvents(ctx context.Context, cfg *config.Config, log *logrus.Logger) (events.Bus, func(), error) {
	entry := log.WithField("component", "events")

	switch cfg.Events.Driver {
	case config.DriverRedis:
		rdb := initRedis(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		closeRedis := func() {
			// Close Redis connection
			if err := rdb.Close(); err != nil {
				log.Errorf("Error closing Redis connection: %v", err)
			}
		}
		return events.NewRedisBus(rdb, cfg.Events.QueueSize, entry), closeRedis, nil
	case config.DriverMemory:
		return events.NewBroker(cfg.Events.QueueSize, entry), func() {}, nil
	default:
		entry.Warn("Event publishing disabled")
		return splitBus{Publisher: events.Noop{}, Subscriber: events.NewBroker(1, entry)}, func() {}, nil
	}
}

func initLookup(cfg *config.Config) (lookup.Resolver, func(), error) {
	static := lookup.NewStatic(cfg.Lookup.Tickers, cfg.Lookup.Accounts)
	client := lookup.NewHTTPClient(cfg.Lookup.ReferenceDataURL, cfg.Lookup.AccountURL, cfg.Lookup.Timeout)

	var (
		securities lookup.SecurityResolver = static
		accounts   lookup.AccountResolver  = static
	)
	if cfg.Lookup.ReferenceDataURL != "" {
		securities = client
	}
	if cfg.Lookup.AccountURL != "" {
		accounts = client
	}

	resolver := lookup.Combine(securities, accounts)
	if cfg.Lookup.CacheTTL <= 0 {
		return resolver, func() {}, nil
	}
	cached, err := lookup.NewCached(resolver, cfg.Lookup.CacheTTL, cfg.Lookup.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}
