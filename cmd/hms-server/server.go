package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/account"
	"github.com/hms/hms/internal/domain/chain"
	"github.com/hms/hms/internal/domain/emr"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/integrity"
	"github.com/hms/hms/internal/ledger"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/redis"
)

const jwtIssuer = "hms"

// handlers groups the route owners mounted under /api.
type handlers struct {
	account    *account.Handler
	identity   *identity.Handler
	scheduling *scheduling.Handler
	emr        *emr.Handler
	chain      *chain.Handler
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis is optional; without it anchoring is only serialized in-process.
	rdb, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	m := metrics.New()

	// Ledger
	contractRepo := chain.NewContractRepo(pool)
	base, err := openLedger(ctx, cfg, contractRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer base.Close()
	l := ledger.Instrument(base, m)
	logger.Info().Str("mode", base.Mode()).Msg("ledger ready")

	// Integrity binding
	scheme, err := integrity.ParseScheme(cfg.FingerprintScheme)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid fingerprint scheme")
	}
	recordRepo := emr.NewRecordRepo(pool)
	binderOpts := []integrity.Option{
		integrity.WithScheme(scheme),
		integrity.WithLedgerTimeout(cfg.LedgerTimeout),
		integrity.WithObserver(m),
		integrity.WithLogger(logger.With().Str("component", "integrity").Logger()),
	}
	if rdb != nil {
		binderOpts = append(binderOpts, integrity.WithLocker(redis.NewLocker(rdb, cfg.AnchorLockTTL, logger)))
	}
	binder := integrity.NewBinder(recordRepo, l, l, binderOpts...)

	// Domain services
	identitySvc := identity.NewService(identity.NewPatientRepo(pool), identity.NewDoctorRepo(pool))
	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepo(pool), identitySvc)
	emrSvc := emr.NewService(recordRepo, identitySvc, binder)

	jwtCfg := auth.JWTConfig{Issuer: jwtIssuer, SigningKey: signingKey(cfg, logger)}
	accountSvc := account.NewService(account.NewUserRepo(pool), auth.NewTokenIssuer(jwtCfg, cfg.JWTTTL), logger)
	chainSvc := chain.NewService(l, binder,
		chain.NewDataHashRepo(pool), chain.NewAccessGrantRepo(pool), contractRepo,
		accountSvc, logger.With().Str("component", "chain").Logger())

	e := newEcho(cfg, logger, m, jwtCfg, pool, handlers{
		account:    account.NewHandler(accountSvc),
		identity:   identity.NewHandler(identitySvc),
		scheduling: scheduling.NewHandler(schedulingSvc),
		emr:        emr.NewHandler(emrSvc),
		chain:      chain.NewHandler(chainSvc),
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the HTTP surface. Only POST /api/auth/login is reachable
// without a token.
func newEcho(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics, jwtCfg auth.JWTConfig, pinger db.Pinger, h handlers) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(m.Middleware())

	e.GET("/health", db.ServiceHealthHandler(pinger, version))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	api := e.Group("/api", middleware.RateLimit(rateLimitCfg))
	h.account.RegisterPublicRoutes(api)

	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}
	protected := api.Group("", authMW, middleware.Audit(logger))
	h.account.RegisterRoutes(protected)
	h.identity.RegisterRoutes(protected)
	h.scheduling.RegisterRoutes(protected)
	h.emr.RegisterRoutes(protected)
	h.chain.RegisterRoutes(protected)

	return e
}

// openLedger opens the configured backend with contract ABIs and addresses
// taken from the contract registry.
func openLedger(ctx context.Context, cfg *config.Config, contracts chain.ContractRepository, logger zerolog.Logger) (ledger.Ledger, error) {
	abis, addresses, err := chain.LedgerRegistry(ctx, contracts)
	if err != nil {
		return nil, err
	}
	return ledger.Open(ctx, ledger.Options{
		Mode:              cfg.LedgerMode,
		RPCURL:            cfg.LedgerRPCURL,
		DataDir:           cfg.LedgerDataDir,
		FromAddress:       cfg.LedgerFromAddress,
		ContractABIs:      abis,
		ContractAddresses: addresses,
		Logger:            logger.With().Str("component", "ledger").Logger(),
	})
}

// signingKey returns the JWT secret. Development runs without one get a
// random per-process key, so tokens do not survive a restart.
func signingKey(cfg *config.Config, logger zerolog.Logger) []byte {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret)
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		logger.Fatal().Err(err).Msg("failed to generate signing key")
	}
	logger.Warn().Msg("JWT_SECRET not set; using a random signing key")
	return key
}
