package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/internal/home"
	"github.com/richxcame/konversi/internal/openexchange"
	"github.com/richxcame/konversi/internal/store"
	"github.com/richxcame/konversi/internal/worker"
	"github.com/richxcame/konversi/pkg/common"
	"github.com/richxcame/konversi/pkg/config"
	"github.com/richxcame/konversi/pkg/database"
	"github.com/richxcame/konversi/pkg/errtrack"
	"github.com/richxcame/konversi/pkg/eventbus"
	"github.com/richxcame/konversi/pkg/health"
	"github.com/richxcame/konversi/pkg/httpclient"
	"github.com/richxcame/konversi/pkg/logger"
	"github.com/richxcame/konversi/pkg/middleware"
	"github.com/richxcame/konversi/pkg/netmonitor"
	"github.com/richxcame/konversi/pkg/redis"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/richxcame/konversi/pkg/scheduler"
	"github.com/richxcame/konversi/pkg/secrets"
	"github.com/richxcame/konversi/pkg/tracing"
	"github.com/richxcame/konversi/pkg/validation"
	ws "github.com/richxcame/konversi/pkg/websocket"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

const (
	serviceName    = "konversi"
	serviceVersion = "1.0.0"
	lockPrefix     = "konversi:lock:"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Get()); err != nil {
		logger.Fatal("konversi stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := uuid.NewString()
	log = log.With(zap.String("instance_id", instanceID))

	flushErrors, err := errtrack.Init(errtrack.Config{
		DSN:              cfg.Sentry.DSN,
		Environment:      cfg.Server.Environment,
		Release:          serviceName + "@" + serviceVersion,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
	}, log)
	if err != nil {
		return err
	}
	defer flushErrors()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		Environment: cfg.Server.Environment,
		Version:     serviceVersion,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close(db)
	log.Info("Connected to PostgreSQL database", zap.String("driver", cfg.Database.Driver))

	if err := store.Migrate(db, log); err != nil {
		return err
	}
	localStore := store.New(db, log)

	appID, err := resolveAppID(ctx, cfg, log)
	if err != nil {
		return err
	}

	apiClient := httpclient.NewClient(cfg.OpenExchange.BaseURL, cfg.OpenExchange.Timeout)
	if cfg.OpenExchange.HTTPRetries > 0 {
		apiClient.Apply(httpclient.WithRetry(apiRetryConfig(cfg.OpenExchange.HTTPRetries)))
	}
	networkSource := openexchange.NewClient(apiClient, appID, log)

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = cfg.OpenExchange.BaseURL
	}
	monitor := netmonitor.New(httpclient.NewClient(probeURL), "", cfg.Sync.ProbeInterval, log)
	monitor.Start(ctx)
	defer monitor.Stop()

	checks := map[string]func() error{
		"database": cachedCheck(health.DatabaseChecker(db)),
	}

	schedOpts := []scheduler.Option{scheduler.WithNetwork(monitor)}
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info("Connected to Redis", zap.String("addr", cfg.Redis.RedisAddr()))

		schedOpts = append(schedOpts, scheduler.WithLocker(scheduler.NewRedisLocker(redisClient.Client, lockPrefix), cfg.Sync.LockTTL))
		checks["redis"] = cachedCheck(health.RedisChecker(redisClient.Client))
	}
	sched := scheduler.New(log, schedOpts...)

	freshness := datasync.NewFreshnessPolicy(cfg.Sync.TTL)
	currenciesRepo := currency.NewCurrenciesRepository(ctx, networkSource, localStore, freshness, log)
	ratesRepo := currency.NewCurrencyRateRepository(ctx, networkSource, localStore, freshness, log)

	synchronizer := datasync.NewSynchronizer(log, datasync.WithErrorReporter(errtrack.NewReporter(nil)))
	fetchWorker := worker.NewFetchWorker(synchronizer, currenciesRepo, ratesRepo, log)

	var syncOpts []worker.Option
	if cfg.NATS.Enabled {
		bus, err := eventbus.Connect(cfg.NATS.URL, serviceName+"-"+instanceID, log)
		if err != nil {
			return err
		}
		defer bus.Close()

		syncOpts = append(syncOpts, worker.WithPublisher(bus))
		if err := worker.NewEventHandler(instanceID, localStore, log).RegisterSubscriptions(ctx, bus); err != nil {
			return err
		}
	}

	syncTrigger := worker.NewSync(sched, fetchWorker, worker.Config{
		Interval:   cfg.Sync.Interval,
		Backoff:    syncBackoff(cfg.Sync),
		InstanceID: instanceID,
	}, log, syncOpts...)
	syncTrigger.Start(ctx)
	defer syncTrigger.Stop()

	vm := home.NewViewModel(syncTrigger, monitor, currenciesRepo, ratesRepo, cfg.Sync.Debounce, log)
	defer vm.Close()

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	homeHandler := home.NewHandler(vm, syncTrigger, hub, log)
	go homeHandler.Broadcast(ctx)

	var ipLimiter *limiter.Limiter
	if cfg.RateLimit.Enabled {
		ipLimiter, err = middleware.NewIPLimiter(cfg.RateLimit.Rate)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RATE: %w", err)
		}
	}

	if err := registerValidators(); err != nil {
		return err
	}

	router := setupRouter(cfg, routerDeps{
		home:    homeHandler,
		checks:  checks,
		limiter: ipLimiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("konversi starting", zap.String("port", cfg.Server.Port), zap.String("version", serviceVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	syncTrigger.Stop()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Warn("Background work did not stop in time", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}

type routerDeps struct {
	home    *home.Handler
	checks  map[string]func() error
	limiter *limiter.Limiter
}

func setupRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(errtrack.Middleware())
	router.Use(middleware.CorrelationID())
	router.Use(tracing.Middleware(nil))
	router.Use(middleware.RequestLogger("/livez", "/healthz", "/metrics"))
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.SecurityHeaders(cfg.Server.IsProduction()))
	router.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))

	router.GET("/livez", common.HealthCheck(serviceName, serviceVersion))
	router.GET("/healthz", common.HealthCheckWithDeps(serviceName, serviceVersion, deps.checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	if deps.limiter != nil {
		api.Use(middleware.RateLimit(deps.limiter))
	}
	deps.home.RegisterRoutes(api, requestTimeout(cfg.Server.RequestTimeout))

	router.NoRoute(func(c *gin.Context) {
		common.ErrorResponse(c, http.StatusNotFound, "route not found")
	})

	return router
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return timeout.New(
		timeout.WithTimeout(d),
		timeout.WithResponse(func(c *gin.Context) {
			common.AppErrorResponse(c, common.NewServiceUnavailableError("request timed out", context.DeadlineExceeded))
		}),
	)
}

func corsConfig(origins string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowOrigins = splitOrigins(origins)
	config.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", middleware.CorrelationIDHeader}
	config.ExposeHeaders = []string{middleware.CorrelationIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	return config
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return validation.RegisterCustomValidators(v)
}

func cachedCheck(check health.Checker) func() error {
	return health.NewCachedChecker(health.AsyncChecker(check, 3*time.Second), 5*time.Second).Check
}

// resolveAppID returns the Open Exchange Rates app id, reading it from the
// secrets backend when a reference is configured.
func resolveAppID(ctx context.Context, cfg *config.Config, log *zap.Logger) (string, error) {
	ref := cfg.OpenExchange.AppIDRef
	if ref == "" {
		if cfg.OpenExchange.AppID == "" {
			log.Warn("OXR_APP_ID is empty, rate fetches will be rejected")
		}
		return cfg.OpenExchange.AppID, nil
	}

	mgr, err := secrets.NewManager(secrets.Config{
		Provider: secrets.ProviderType(cfg.Secrets.Provider),
		CacheTTL: cfg.Secrets.CacheTTL,
		Vault: secrets.VaultConfig{
			Address:   cfg.Secrets.VaultAddress,
			Token:     cfg.Secrets.VaultToken,
			Namespace: cfg.Secrets.VaultNamespace,
			MountPath: cfg.Secrets.VaultMount,
		},
		Kubernetes: secrets.KubernetesConfig{BasePath: cfg.Secrets.KubernetesPath},
		AWS: secrets.AWSConfig{
			Region:          cfg.Secrets.AWSRegion,
			Profile:         cfg.Secrets.AWSProfile,
			AccessKeyID:     cfg.Secrets.AWSAccessKeyID,
			SecretAccessKey: cfg.Secrets.AWSSecretAccessKey,
			SessionToken:    cfg.Secrets.AWSSessionToken,
			Endpoint:        cfg.Secrets.AWSEndpoint,
		},
		GCP: secrets.GCPConfig{
			ProjectID:       cfg.Secrets.GCPProjectID,
			CredentialsFile: cfg.Secrets.GCPCredentialsFile,
			CredentialsJSON: cfg.Secrets.GCPCredentialsJSON,
		},
		Logger: log,
	})
	if err != nil {
		return "", fmt.Errorf("init secrets manager: %w", err)
	}
	defer mgr.Close()

	appID, err := secrets.Resolve(ctx, mgr, "oxr_app_id", secrets.SecretAPIKey, ref)
	if err != nil {
		return "", fmt.Errorf("resolve OXR_APP_ID_REF: %w", err)
	}
	return appID, nil
}

func syncBackoff(cfg config.SyncConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:              worker.SyncWorkName,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

func apiRetryConfig(retries int) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.Name = "openexchange"
	cfg.MaxAttempts = retries + 1
	return cfg
}
