package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospq/queue/internal/config"
	"github.com/hospq/queue/internal/domain/queue"
	"github.com/hospq/queue/internal/domain/staff"
	"github.com/hospq/queue/internal/platform/auth"
	"github.com/hospq/queue/internal/platform/db"
	"github.com/hospq/queue/internal/platform/kafka"
	"github.com/hospq/queue/internal/platform/middleware"
	"github.com/hospq/queue/internal/platform/websocket"
)

const tokenIssuer = "queue-server"

func main() {
	rootCmd := &cobra.Command{
		Use:   "queue-server",
		Short: "Outpatient queue service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queueCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API and real-time server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration for commands that talk to
// the database.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signingKey returns the configured key, or a random per-process key in
// development so login still works without configuration.
func signingKey(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.AuthSigningKey != "" {
		return []byte(cfg.AuthSigningKey), nil
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, tokens will not survive a restart")
	return []byte(hex.EncodeToString(buf)), nil
}

// devStaff is the identity the development auth middleware injects.
var devStaff = auth.Staff{ID: 0, Name: "dev-staff", Roles: []string{"admin"}}

func staffAuth(cfg *config.Config, key []byte) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{Issuer: tokenIssuer, SigningKey: key}
	if cfg.ResolvedAuthMode() == "development" {
		return auth.DevAuthMiddleware(jwtCfg, devStaff)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func runServer() error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Real-time broadcaster
	hub := websocket.NewHub(logger, cfg.WSPingInterval)
	go hub.Run(ctx)

	if cfg.RedisURL != "" {
		rdb, err := websocket.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		relay := websocket.NewRedisRelay(rdb, cfg.RedisChannel, logger)
		hub.UseRelay(relay)
		go func() {
			if err := relay.Run(ctx, hub); err != nil {
				logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
		logger.Info().Str("channel", cfg.RedisChannel).Msg("redis relay enabled")
	}

	// Transition events
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer producer.Close()
	if producer.Enabled() {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka events enabled")
	}

	key, err := signingKey(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("auth setup failed")
	}
	tokens := auth.NewTokenService(key, tokenIssuer, cfg.AuthTokenTTL)

	// Domain services
	staffSvc := staff.NewService(staff.NewRepoPG(pool), tokens, logger)
	queueSvc := queue.NewService(queue.NewPGStore(pool), staffSvc, queue.Options{
		Broadcaster: hub,
		Events:      producer,
		Location:    cfg.Location(),
		Timeout:     cfg.TransitionTimeout,
		Logger:      logger,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.PoolHealthHandler(pool))

	public := e.Group("")
	staffGroup := e.Group("/staff", staffAuth(cfg, key))

	staff.NewHandler(staffSvc).RegisterRoutes(public)
	queue.NewHandler(queueSvc, logger, cfg.IsDev()).RegisterRoutes(public, staffGroup)
	websocket.NewWebSocketHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
