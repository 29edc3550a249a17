package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helpinghands/auth-service/internal/client"
	"github.com/helpinghands/auth-service/internal/config"
	"github.com/helpinghands/auth-service/internal/handler"
	"github.com/helpinghands/auth-service/internal/middleware"
	"github.com/helpinghands/auth-service/internal/monitor"
	"github.com/helpinghands/auth-service/internal/otp"
	"github.com/helpinghands/auth-service/internal/repository"
	"github.com/helpinghands/auth-service/internal/session"
	"github.com/helpinghands/auth-service/internal/telemetry"
	"github.com/helpinghands/auth-service/internal/token"
	"github.com/helpinghands/auth-service/internal/util/logger"
)

const version = "1.4.0"

func main() {
	configPath := flag.String("config", "config/app-config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.ReplaceGlobal(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resolveSecrets(ctx, cfg); err != nil {
		logger.Fatalf("resolve secrets: %v", err)
	}

	// Durable layers are optional; the core degrades to memory-only.
	var db *sql.DB
	var tokenRepo repository.TokenRepository
	var otpRepo repository.OTPRepository
	var employees repository.EmployeeDirectory
	var donors repository.DonorDirectory
	if cfg.DatabaseURL != "" {
		db, err = repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Errorf("postgres unavailable, running memory-only: %v", err)
		} else {
			defer db.Close()
			tokenRepo = repository.NewPostgresTokenRepository(db)
			otpRepo = repository.NewPostgresOTPRepository(db)
			employees = repository.NewPostgresEmployeeDirectory(db)
			donors = repository.NewPostgresDonorDirectory(db)
		}
	}

	var rdb *client.RedisClient
	if cfg.RedisURL != "" {
		rcfg, err := redisConfigFromURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("parse redis url: %v", err)
		}
		rdb, err = client.NewRedisClient(ctx, rcfg)
		if err != nil {
			logger.Errorf("redis unavailable, using in-process stores: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	shipper, err := telemetry.NewKafkaAuditShipper(cfg.Telemetry.Kafka)
	if err != nil {
		logger.Fatalf("kafka audit shipper: %v", err)
	}
	shipper.Start()

	writer := repository.NewAsyncWriter(cfg.Telemetry.Kafka.QueueCapacity)

	var otpStore otp.Store = otp.NewMemoryStore()
	var sessionStore session.Store = session.NewMemoryStore()
	if rdb != nil {
		otpStore = otp.NewRedisStore(rdb)
		sessionStore = session.NewRedisStore(rdb)
	}

	mon := monitor.NewActivityMonitor(cfg.Monitor, shipper)
	otpMgr := otp.NewManager(cfg.OTP, otpStore, otpRepo, writer)
	tokens := token.NewStore(cfg.Token.TTL, tokenRepo, writer)
	sessions := session.NewManager(cfg.Session, sessionStore)
	sessions.StartCleanup(ctx)

	auth := handler.NewAuthHandler(cfg, otpMgr, tokens, sessions, mon, employees, donors, handler.LogNotifier{}, shipper)
	health := handler.NewHealthHandler(cfg.Env, version, db, rdb)
	guard := middleware.NewRequestGuard(mon)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window, rdb)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", health.ServeHTTP)
	r.Get("/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(guard.Handler)
		if cfg.RateLimit.Enabled {
			r.Use(limiter.Handler)
		}

		r.Post("/auth/send-otp", auth.SendOTP)
		r.Post("/auth/verify-otp", auth.VerifyOTP)
		r.Post("/auth/verify-token", auth.VerifyToken)
		r.Get("/auth/session", auth.Sessions)
		r.Post("/auth/logout", auth.Logout)
		r.Delete("/auth/sessions", auth.DestroySessions)

		r.Post("/donor/send-otp", auth.DonorSendOTP)
		r.Post("/donor/verify-otp", auth.DonorVerifyOTP)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/threats", auth.Threats)
			r.Post("/threats/{id}/resolve", auth.ResolveThreat)
			r.Get("/activity/stats", auth.ActivityStats)
			r.Get("/activity/suspicious", auth.SuspiciousActivity)
			r.Get("/activity/user/{identity}", auth.UserActivity)
			r.Post("/activity/cleanup", auth.ActivityCleanup)
		})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("auth service listening on :%d (env %s)", cfg.Port, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	writer.Stop(shutdownCtx)
	shipper.Stop(shutdownCtx)
}

// resolveSecrets wires the AWS loaders only when the config actually
// references them, so local runs need no AWS credentials.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	raw, err := os.ReadFile(flag.Lookup("config").Value.String())
	if err != nil {
		return err
	}
	content := string(raw)
	resolver := config.SecretResolver{}
	if strings.Contains(content, "ssm://") {
		ssm, err := config.NewSSMLoader(ctx)
		if err != nil {
			return err
		}
		resolver.SSM = ssm
	}
	if strings.Contains(content, "aws-secrets://") {
		sm, err := config.NewAWSSecretsLoader(ctx)
		if err != nil {
			return err
		}
		resolver.Secrets = sm
	}
	if resolver.SSM == nil && resolver.Secrets == nil {
		return nil
	}
	return resolver.ResolveSecrets(cfg)
}

// redisConfigFromURL converts redis://[:password@]host[:port][/db] into
// the client config.
func redisConfigFromURL(u string) (client.RedisConfig, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return client.RedisConfig{}, err
	}
	host := parsed.Host
	if host == "" {
		host = "127.0.0.1:6379"
	} else if !strings.Contains(host, ":") {
		host += ":6379"
	}
	var password string
	if parsed.User != nil {
		if p, ok := parsed.User.Password(); ok {
			password = p
		}
	}
	db := 0
	if len(parsed.Path) > 1 {
		if n, err := strconv.Atoi(strings.TrimPrefix(parsed.Path, "/")); err == nil {
			db = n
		}
	}
	return client.RedisConfig{
		Address:  host,
		Password: password,
		DB:       db,
		CircuitBreaker: client.CircuitBreakerConfig{
			Enabled:      true,
			FailureRatio: 0.5,
			RecoveryTime: 30 * time.Second,
			MinRequests:  20,
		},
	}, nil
}
