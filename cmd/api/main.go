package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storefront-fulfillment/config"
	"storefront-fulfillment/internal/delivery/http/middleware"
	v1 "storefront-fulfillment/internal/delivery/http/v1"
	"storefront-fulfillment/internal/domain"
	"storefront-fulfillment/internal/infrastructure/cache"
	"storefront-fulfillment/internal/infrastructure/kafka"
	redisinfra "storefront-fulfillment/internal/infrastructure/redis"
	"storefront-fulfillment/internal/notifier"
	"storefront-fulfillment/internal/repository/memory"
	"storefront-fulfillment/internal/repository/postgres"
	"storefront-fulfillment/internal/usecase"
	"storefront-fulfillment/pkg/logger"
	"storefront-fulfillment/pkg/storage"
	"storefront-fulfillment/pkg/utils"

	"github.com/NYTimes/gziphandler"
)

const version = "1.0.0"

// recordStore bundles the repositories of one STORE_DRIVER.
type recordStore struct {
	orders    domain.OrderRepository
	inventory domain.InventoryRepository
	tx        domain.TransactionManager
	stream    domain.ChangeStream
	health    func(ctx context.Context) error
	close     func()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Init(os.Getenv("ENV"), "info")
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	utils.SetSecret(cfg.JWTSecret)

	logger.Init(cfg.Env, cfg.LogLevel)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openRecordStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to open record store")
	}
	defer store.close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.BlobDriver).Msg("Failed to initialize evidence storage")
	}

	// Default expiration 30m, cleanup every 60m
	memCache := cache.NewMemoryCache(30*time.Minute, 60*time.Minute)

	// --- Fulfillment Core ---
	ledger := usecase.NewInventoryLedger(store.inventory, cfg.LedgerMaxRetries)
	lifecycle := usecase.NewOrderLifecycle(store.orders, ledger, store.tx)
	refunds := usecase.NewRefundUsecase(lifecycle, store.orders, blobs, cfg.OrphanGracePeriod)
	batch := usecase.NewBatchUsecase(lifecycle, store.orders, cfg.BatchConcurrency)
	scheduler := usecase.NewScheduler(batch, refunds, cfg.SweepInterval)

	// --- Change Notifier ---
	bus := notifier.NewBus()

	var dedup notifier.Deduplicator = notifier.NewCacheDeduplicator(memCache, cfg.ServiceName, cfg.DedupTTL)
	if cfg.RedisAddr != "" {
		rdb, err := redisinfra.New(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		dedup = notifier.NewRedisDeduplicator(rdb, cfg.ServiceName, cfg.DedupTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Change dedup shared through Redis")
	}

	customers := notifier.NewCustomerOrders()
	customers.Attach(bus)
	dashboard := notifier.NewAdminDashboard()
	dashboard.Attach(bus)
	liveHub := v1.NewLiveHub(originChecker(cfg.AllowedOrigin))
	liveHub.Attach(bus)

	var producers []*kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		customerTopic := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaCustomerTopic, 1024)
		adminTopic := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaAdminTopic, 1024)
		customerTopic.Start(ctx)
		adminTopic.Start(ctx)
		producers = append(producers, customerTopic, adminTopic)
		notifier.NewKafkaRelay(customerTopic, adminTopic, cfg.ServiceName).Attach(bus)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("Kafka relay enabled")
	}

	changeNotifier := notifier.New(store.stream, bus, dedup, cfg.LowStockThreshold)
	go func() {
		if err := changeNotifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Change notifier stopped")
		}
	}()
	go func() {
		if err := dashboard.Refresh(ctx, store.orders); err != nil {
			log.Warn().Err(err).Msg("Initial dashboard refresh failed")
		}
	}()
	go scheduler.Run(ctx)

	// --- HTTP ---
	handlers := routeHandlers{
		admin:     v1.NewAdminOrderHandler(lifecycle, refunds, batch),
		orders:    v1.NewOrderHandler(lifecycle, refunds, customers, cfg.MaxUploadSizeMB),
		dashboard: v1.NewDashboardHandler(dashboard, ledger, memCache, cfg.LowStockThreshold),
		live:      liveHub,
		health:    store.health,
	}

	// 50 req/s, burst 100, cleanup every minute, TTL 3 minutes
	rateLimiter := middleware.NewRateLimiter(ctx, 50, 100, time.Minute, 3*time.Minute).
		Exempt("/health", "/api/v1/health", "/metrics")

	api := gziphandler.GzipHandler(registerRoutes(handlers))
	root := http.NewServeMux()
	// The websocket upgrade needs the raw writer, so it skips gzip.
	root.Handle("GET /api/v1/admin/live", adminOnly(http.HandlerFunc(liveHub.ServeWS)))
	root.Handle("/", api)

	handler := middleware.NewCORSMiddleware(cfg)(root)
	handler = middleware.RequestLogger(handler)
	handler = rateLimiter.Middleware()(handler)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()
	logger.ServiceStart(cfg.ServiceName, version, cfg.Port)

	<-ctx.Done()
	log.Info().Msg("Server shutting down...")

	rateLimiter.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	for _, p := range producers {
		p.WaitClosed()
	}

	logger.ServiceStop(cfg.ServiceName)
}

func openRecordStore(ctx context.Context, cfg *config.Config) (*recordStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		s := memory.NewStore()
		logger.Warn().Msg("Using the in-memory record store; data is lost on restart")
		return &recordStore{
			orders:    s,
			inventory: s,
			tx:        s,
			stream:    s,
			health:    func(context.Context) error { return nil },
			close:     func() {},
		}, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPgxPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("Successfully connected to PostgreSQL via pgx")
		return &recordStore{
			orders:    postgres.NewOrderRepository(pool),
			inventory: postgres.NewInventoryRepository(pool),
			tx:        postgres.NewTransactionManager(pool),
			stream:    postgres.NewChangeListener(pool, cfg.DBNotifyChannel),
			health:    pool.Ping,
			close:     pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver '%s'", cfg.StoreDriver)
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (domain.BlobStore, error) {
	switch cfg.BlobDriver {
	case config.DriverMemory:
		return storage.NewMemoryStorage(), nil
	case config.DriverR2:
		return storage.NewR2Storage(
			ctx,
			cfg.R2AccountID,
			cfg.R2AccessKeyID,
			cfg.R2AccessKeySecret,
			cfg.R2BucketName,
			cfg.R2PublicURL,
			cfg.R2UploadTimeout,
		)
	default:
		return nil, fmt.Errorf("unknown blob driver '%s'", cfg.BlobDriver)
	}
}

// originChecker accepts same-origin requests and the configured origins.
func originChecker(allowed string) func(r *http.Request) bool {
	origins := utils.SplitCSV(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
