package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/lims/internal/config"
	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/domain/inventory"
	"github.com/ehr/lims/internal/domain/laborder"
	"github.com/ehr/lims/internal/domain/patient"
	"github.com/ehr/lims/internal/domain/user"
	"github.com/ehr/lims/internal/platform/auth"
	"github.com/ehr/lims/internal/platform/db"
	"github.com/ehr/lims/internal/platform/livefeed"
	"github.com/ehr/lims/internal/platform/metrics"
	"github.com/ehr/lims/internal/platform/middleware"
	"github.com/ehr/lims/internal/platform/notification"
	"github.com/ehr/lims/internal/platform/sequence"
	"github.com/ehr/lims/internal/store"
)

const (
	version        = "0.1.0"
	requestTimeout = 30 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lims-server",
		Short: "Laboratory order and sample lifecycle server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(stockCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

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

// app holds the wired services behind the HTTP surface.
type app struct {
	store     *store.Store
	metrics   *metrics.Metrics
	auth      *auth.Authenticator
	feed      *livefeed.Hub
	audit     *audit.Recorder
	users     *user.Service
	patients  *patient.Service
	orders    *laborder.Service
	inventory *inventory.Service
}

func newApp(cfg *config.Config, st *store.Store, notifier notification.Notifier, reg prometheus.Registerer, logger zerolog.Logger) *app {
	m := metrics.New(reg)

	ids := sequence.NewFormatter(st.Sequences)
	ids.SetMetrics(m)

	rec := audit.NewRecorder(st.Audit, logger)
	rec.SetMetrics(m)

	dispatcher := notification.NewDispatcher(notifier, nil)
	hub := livefeed.NewHub(logger)

	patients := patient.NewService(st.Patients, ids, rec)

	orders := laborder.NewService(st.Orders, patients, ids, rec, logger)
	orders.SetMetrics(m)
	orders.SetDispatcher(dispatcher)
	orders.SetPublisher(hub)

	stock := inventory.NewService(st.Inventory, rec, dispatcher, logger)
	stock.SetMetrics(m)

	return &app{
		store:   st,
		metrics: m,
		auth: auth.NewAuthenticator(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSigningKey),
			Skipper:    auth.AuthSkipper,
		}),
		feed:      hub,
		audit:     rec,
		users:     user.NewService(st.Users, rec),
		patients:  patients,
		orders:    orders,
		inventory: stock,
	}
}

// newServer builds the echo instance: global middleware, public probes and
// the policy-gated /api/v1 group.
func newServer(cfg *config.Config, a *app, gatherer prometheus.Gatherer, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.auth, cfg.DevRole))
	} else {
		e.Use(auth.JWTMiddleware(a.auth))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   a.store.Driver,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.store.Pool))
	e.GET("/metrics", metrics.Handler(gatherer))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.RequirePolicy(auth.DefaultPolicy(), a.metrics))

	user.NewHandler(a.users).RegisterRoutes(apiV1)
	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	laborder.NewHandler(a.orders).RegisterRoutes(apiV1)
	inventory.NewHandler(a.inventory).RegisterRoutes(apiV1)
	audit.NewHandler(a.audit).RegisterRoutes(apiV1)
	livefeed.NewHandler(a.feed, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e
}

// newNotifier publishes to Redis when REDIS_URL is set and only logs
// otherwise. The returned close func is never nil.
func newNotifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.Notifier, func(), error) {
	if cfg.RedisURL == "" {
		return notification.NewLogNotifier(logger), func() {}, nil
	}
	rn, err := notification.NewRedisNotifier(ctx, cfg.RedisURL, cfg.NotifyChannel)
	if err != nil {
		return nil, nil, err
	}
	return rn, func() { _ = rn.Close() }, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer st.Close()
	logger.Info().Str("driver", st.Driver).Msg("store opened")

	notifier, closeNotifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := newApp(cfg, st, notifier, reg, logger)
	e := newServer(cfg, a, reg, logger)

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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
