package main

import (
	"context"
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/config"
	"github.com/healthlink/healthlink/internal/domain/appointment"
	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/domain/order"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/lock"
	"github.com/healthlink/healthlink/internal/platform/metrics"
	"github.com/healthlink/healthlink/internal/platform/middleware"
	"github.com/healthlink/healthlink/internal/platform/notification"
	"github.com/healthlink/healthlink/internal/platform/outbox"
	"github.com/healthlink/healthlink/internal/platform/realtime"
	"github.com/healthlink/healthlink/internal/platform/sandbox"
	"github.com/healthlink/healthlink/internal/platform/sweeper"
)

const (
	version         = "0.1.0"
	tokenIssuer     = "healthlink"
	shutdownTimeout = 10 * time.Second
	redisLockTTL    = 15 * time.Second
)

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}
}

// resolveSigningKey returns JWT_SIGNING_KEY, or in development a random
// 32-byte key. The second return value is true when the key was generated.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	if cfg.JWTSigningKey != "" {
		return []byte(cfg.JWTSigningKey), false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%s", cfg.Env)
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// newLocker returns a Redis lock when REDIS_URL is set so bookings are
// serialized across replicas, and a process-local lock otherwise.
func newLocker(ctx context.Context, redisURL string, logger zerolog.Logger) (lock.Locker, func(), error) {
	if redisURL == "" {
		logger.Warn().Msg("REDIS_URL not set; booking locks are local to this process")
		return lock.NewLocal(), func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return lock.NewRedis(client, redisLockTTL, logger), func() { _ = client.Close() }, nil
}

func newEmailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.SendGridAPIKey == "" {
		return notification.NewLogSender(logger)
	}
	return notification.NewSendGridSender(notification.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  "HealthLink",
	}, logger)
}

type services struct {
	outbox       *outbox.Store
	schedule     appointment.ScheduleRepository
	issuer       *auth.Issuer
	directory    *directory.Service
	appointments *appointment.Service
	orders       *order.Service
}

// buildServices wires repositories and services on pool. Domain events go to
// the outbox inside each service transaction.
func buildServices(cfg *config.Config, pool *pgxpool.Pool, locker lock.Locker, wm *metrics.WorkflowMetrics,
	key []byte, loc *time.Location) *services {
	tx := db.NewTransactor(pool)
	store := outbox.NewStore(pool)
	issuer := auth.NewIssuer(key, tokenIssuer, cfg.TokenTTL)
	schedule := appointment.NewScheduleRepoPG(pool)

	dirSvc := directory.NewService(
		directory.NewHospitalRepoPG(pool),
		directory.NewDoctorRepoPG(pool),
		directory.NewStoreRepoPG(pool),
		tx, store, issuer,
	).WithBusySlots(schedule).WithLocation(loc)

	apptSvc := appointment.NewService(
		appointment.NewRepoPG(pool),
		appointment.NewPrescriptionRepoPG(pool),
		schedule, dirSvc, tx, locker, store, wm,
		appointment.Config{
			LockWait:            cfg.BookingLockTimeout,
			ReleaseSlotOnReject: cfg.ReleaseSlotOnReject,
			Location:            loc,
		},
	)

	orderSvc := order.NewService(order.NewRepoPG(pool), dirSvc, tx, store, wm)

	return &services{
		outbox:       store,
		schedule:     schedule,
		issuer:       issuer,
		directory:    dirSvc,
		appointments: apptSvc,
		orders:       orderSvc,
	}
}

type appointmentGetter interface {
	GetAppointment(ctx context.Context, id string) (*appointment.Appointment, error)
}

type orderGetter interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

// topicAuthorizer lets a websocket client follow an appointment or order
// topic only when the REST API would let it read that entity.
func topicAuthorizer(appts appointmentGetter, orders orderGetter) realtime.Authorizer {
	return func(ctx context.Context, c *realtime.Client, topic string) bool {
		ctx = auth.WithIdentity(ctx, c.UserID, c.Roles)
		switch kind, id, _ := strings.Cut(topic, ":"); kind {
		case "appointment":
			a, err := appts.GetAppointment(ctx, id)
			return err == nil && appointment.CanView(ctx, a)
		case "order":
			o, err := orders.GetOrder(ctx, id)
			return err == nil && order.CanView(ctx, o)
		default:
			return false
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	key, generated, err := resolveSigningKey(cfg)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn().Msg("JWT_SIGNING_KEY not set; using a random key, sessions end on restart")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests run as admin")
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(reg)
	wm := metrics.NewWorkflowMetrics(reg)

	locker, closeLocker, err := newLocker(ctx, cfg.RedisURL, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	svc := buildServices(cfg, pool, locker, wm, key, loc)

	// Event delivery: outbox -> notifications + websocket pushes.
	hub := realtime.NewHub(logger).WithAuthorizer(topicAuthorizer(svc.appointments, svc.orders))
	manager := notification.NewManager(newEmailSender(cfg, logger), notification.NewLogSender(logger),
		notification.NewTemplateEngine(), wm)
	deliverer := outbox.NewDeliverer(svc.outbox, notification.NewDispatcher(manager, hub, logger), logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(wm)

	workers, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	delivererDone := make(chan struct{})
	go func() {
		defer close(delivererDone)
		deliverer.Start(workers)
	}()

	sw := sweeper.New(svc.schedule, svc.outbox, loc, logger,
		sweeper.WithSchedule(cfg.SweepSchedule), sweeper.WithMetrics(wm))
	if err := sw.Start(workers); err != nil {
		return err
	}
	defer sw.Stop()

	e := newEcho(cfg, logger, httpMetrics, key)
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	apiV1.Use(middleware.RateLimit(workers, rateLimitCfg))

	directory.NewHandler(svc.directory).RegisterRoutes(apiV1)
	appointment.NewHandler(svc.appointments).RegisterRoutes(apiV1)
	order.NewHandler(svc.orders).RegisterRoutes(apiV1)
	notification.NewHandler(manager).RegisterRoutes(apiV1)
	realtime.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e)
	if cfg.IsDev() {
		seeder := sandbox.NewSeeder(svc.directory, svc.appointments, svc.orders, svc.issuer, logger)
		sandbox.NewSeedHandler(seeder).RegisterRoutes(apiV1)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	stopWorkers()
	<-delivererDone
	// One last pass so events committed before shutdown are not held until
	// the next start.
	if n := deliverer.Drain(shutdownCtx); n > 0 {
		logger.Info().Int("delivered", n).Msg("flushed outbox")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the global middleware chain.
func newEcho(cfg *config.Config, logger zerolog.Logger, httpMetrics *metrics.HTTPMetrics, key []byte) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(httpMetrics))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/ws", "/metrics"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	jwtCfg := auth.JWTConfig{SigningKey: key, Issuer: tokenIssuer, Skipper: auth.AuthSkipper}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	return e
}
