package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cebuhealth/hivcare/internal/config"
	"github.com/cebuhealth/hivcare/internal/domain/client"
	"github.com/cebuhealth/hivcare/internal/domain/dashboard"
	"github.com/cebuhealth/hivcare/internal/domain/encounter"
	"github.com/cebuhealth/hivcare/internal/domain/lab"
	"github.com/cebuhealth/hivcare/internal/domain/pharmacy"
	"github.com/cebuhealth/hivcare/internal/domain/summary"
	"github.com/cebuhealth/hivcare/internal/domain/task"
	"github.com/cebuhealth/hivcare/internal/platform/audit"
	"github.com/cebuhealth/hivcare/internal/platform/auth"
	"github.com/cebuhealth/hivcare/internal/platform/db"
	"github.com/cebuhealth/hivcare/internal/platform/jobs"
	"github.com/cebuhealth/hivcare/internal/platform/middleware"
	"github.com/cebuhealth/hivcare/internal/platform/notification"
	"github.com/cebuhealth/hivcare/internal/platform/rbac"
	"github.com/cebuhealth/hivcare/migrations"
)

const (
	requestTimeout = 30 * time.Second
	redisKeyPrefix = "hivcare"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hivcare-server",
		Short: "HIV care coordination API",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run batch jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "run <job>",
		Short:     "Run one batch job once and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			rdb, err := newRedis(cfg.RedisURL)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}

			auditLog := audit.NewLogger(audit.NewStorePG(pool), logger)
			runner := newRunner(cfg, pool, rdb, auditLog, logger)
			res, err := runner.Run(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	})
	return cmd
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newRedis returns nil when no URL is configured; callers fall back to
// in-process locks and limiters.
func newRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newNotifier wires the configured delivery providers behind circuit
// breakers. Unconfigured channels fail every send.
func newNotifier(cfg *config.Config, logger zerolog.Logger) *notification.Dispatcher {
	var email notification.EmailSender
	if cfg.EmailAPIURL != "" {
		email = notification.NewBreakerEmailSender(notification.NewHTTPEmailSender(notification.EmailConfig{
			BaseURL: cfg.EmailAPIURL,
			APIKey:  cfg.EmailAPIKey,
			From:    cfg.EmailFrom,
		}), notification.BreakerConfig{Name: "email"}, logger)
	}
	var sms notification.SMSSender
	if cfg.SMSAPIURL != "" {
		sms = notification.NewBreakerSMSSender(notification.NewHTTPSMSSender(notification.SMSConfig{
			BaseURL:    cfg.SMSAPIURL,
			AccountSID: cfg.SMSAccountSID,
			AuthToken:  cfg.SMSAuthToken,
			From:       cfg.SMSFrom,
		}), notification.BreakerConfig{Name: "sms"}, logger)
	}
	return notification.NewDispatcher(email, sms, nil)
}

func devSubject(cfg *config.Config) rbac.Subject {
	if !cfg.IsDev() {
		return rbac.Subject{}
	}
	return rbac.Subject{
		UserID:     cfg.DevUserID,
		Roles:      rbac.ParseRoles(cfg.DevRoleList()),
		FacilityID: cfg.DevFacilityID,
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

// otpLimiter allows perMinute sign-in attempts per address. Replicas share
// the window through redis when it is configured. A non-positive limit
// disables the throttle.
func otpLimiter(perMinute int, rdb *redis.Client) middleware.Limiter {
	switch {
	case perMinute <= 0:
		return nil
	case rdb != nil:
		return middleware.NewRedisWindowLimiter(rdb, redisKeyPrefix+":otp", perMinute, time.Minute)
	default:
		return middleware.NewLocalLimiterPerMinute(perMinute)
	}
}

func newRunner(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, auditLog *audit.Logger, logger zerolog.Logger) *jobs.Runner {
	tx := db.NewTransactor(pool)
	generator := task.NewGenerator(task.NewRepoPG(pool), tx, logger)
	refresher := summary.NewRefresher(summary.NewStorePG(pool), tx, logger)
	dash := dashboard.NewService(dashboard.NewStorePG(pool), tx)

	var locker jobs.Locker
	if rdb != nil {
		locker = jobs.NewRedisLocker(rdb, redisKeyPrefix+":job")
	}
	return jobs.NewRunner(generator, refresher, dash, locker, cfg.JobLockTTL, auditLog, logger)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")
	tx := db.NewTransactor(pool)

	// Redis (optional)
	rdb, err := newRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	healthChecks := map[string]db.Check{}
	if rdb != nil {
		defer rdb.Close()
		healthChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info().Msg("redis configured")
	}

	auditLog := audit.NewLogger(audit.NewStorePG(pool), logger)
	authz := rbac.NewAuthorizer(auth.SubjectFromContext)

	// Sign-in
	authSvc := auth.NewService(
		auth.NewUserRepoPG(pool), auth.NewOTPRepoPG(pool), auth.NewSessionRepoPG(pool),
		auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL),
		newNotifier(cfg, logger),
		auth.ServiceConfig{
			OTPLength:            cfg.OTPLength,
			OTPTTL:               cfg.OTPTTL,
			OTPMaxAttempts:       cfg.OTPMaxAttempts,
			AllowDeliveryFailure: cfg.OTPAllowDeliveryFailure,
			DevCode:              cfg.OTPDevCode,
		},
		logger,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(requestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(auth.SessionMiddleware(authSvc, auth.MiddlewareConfig{
		Dev:        cfg.IsDev(),
		DevSubject: devSubject(cfg),
		Logger:     logger,
	}))
	e.Use(middleware.Audit(auditLog))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	apiLimiter := middleware.NewLocalLimiter(rateLimitConfig(cfg))
	apiLimiter.StartCleanup(cleanupCtx, time.Minute, 10*time.Minute)

	api := e.Group("/api")
	api.Use(middleware.RateLimit(apiLimiter, middleware.KeyByIP, logger))

	var otpThrottle echo.MiddlewareFunc
	if limiter := otpLimiter(cfg.AuthRateLimit, rdb); limiter != nil {
		otpThrottle = middleware.RateLimit(limiter, middleware.KeyByIPAndAgent, logger)
	}
	auth.NewHandler(authSvc, auditLog, cfg.IsProduction()).RegisterRoutes(api, otpThrottle)

	clientRepo := client.NewRepoPG(pool)
	refresher := summary.NewRefresher(summary.NewStorePG(pool), tx, logger)
	client.NewHandler(client.NewService(clientRepo, tx), authz, refresher).RegisterRoutes(api)
	encounter.NewHandler(encounter.NewService(encounter.NewRepoPG(pool), clientRepo, tx), clientRepo, authz).RegisterRoutes(api)
	lab.NewHandler(lab.NewService(lab.NewRepoPG(pool)), clientRepo, authz).RegisterRoutes(api)
	pharmacy.NewHandler(pharmacy.NewService(pharmacy.NewRepoPG(pool), clientRepo, tx), clientRepo, authz).RegisterRoutes(api)
	task.NewHandler(task.NewService(task.NewRepoPG(pool)), clientRepo, authz).RegisterRoutes(api)
	dashboard.NewHandler(dashboard.NewService(dashboard.NewStorePG(pool), tx), authz).RegisterRoutes(api)

	jobs.NewHandler(newRunner(cfg, pool, rdb, auditLog, logger), cfg.CronSecret).RegisterRoutes(api)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
