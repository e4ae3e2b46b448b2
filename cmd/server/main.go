package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/audit"
	auditrepo "totp-mfa-demo/internal/audit/repository"
	"totp-mfa-demo/internal/config"
	"totp-mfa-demo/internal/db"
	"totp-mfa-demo/internal/health"
	healthhandler "totp-mfa-demo/internal/health/handler"
	identityhandler "totp-mfa-demo/internal/identity/handler"
	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/identity/service"
	"totp-mfa-demo/internal/logger"
	"totp-mfa-demo/internal/mfa"
	mfahandler "totp-mfa-demo/internal/mfa/handler"
	"totp-mfa-demo/internal/policy/engine"
	"totp-mfa-demo/internal/security"
	"totp-mfa-demo/internal/server"
	"totp-mfa-demo/internal/server/middleware"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/session/repository"
	"totp-mfa-demo/internal/telemetry"
	otelsetup "totp-mfa-demo/internal/telemetry/otel"
	"totp-mfa-demo/internal/telemetry/producer"
	userhandler "totp-mfa-demo/internal/user/handler"
	"totp-mfa-demo/internal/web"
)

const (
	serviceName         = "totp-mfa-demo"
	healthCheckTimeout  = 3 * time.Second
	healthProbeInterval = 10 * time.Second
	shutdownTimeout     = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()

	client := provider.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.ProviderTimeoutDuration())

	verifier, err := newTokenVerifier(cfg)
	if err != nil {
		return err
	}
	if !verifier.Verifies() {
		log.Warn("provider token signatures are not verified; set SUPABASE_JWT_SECRET or SUPABASE_JWT_PUBLIC_KEY")
	}

	checker := health.NewChecker(healthCheckTimeout)
	checker.Add("identity_provider", client.Health)

	repo, closeRepo, err := newSessionRepository(ctx, cfg, checker, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	policy, err := engine.NewOPAEvaluator(ctx, cfg.AccessPolicyFile, log.Named("policy"))
	if err != nil {
		return err
	}
	checker.AddPolicy(policy)

	var auditLogger audit.AuditLogger
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		checker.AddPinger("database", conn)
		auditLogger = audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP)
	} else {
		log.Info("DATABASE_URL not set; audit trail disabled")
	}

	events := telemetry.Fanout{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); kp != nil {
		defer kp.Close()
		events = append(events, kp)
		log.Info("telemetry events published to kafka", zap.String("topic", cfg.TelemetryKafkaTopic))
	}

	sessions := session.NewManager(repo, client, verifier, log.Named("session"))
	cookie := session.Cookie{
		Name:   cfg.SessionCookieName,
		Secure: strings.HasPrefix(cfg.PublicURL, "https://"),
		MaxAge: cfg.SessionTTLDuration(),
	}
	views, err := web.NewRenderer()
	if err != nil {
		return err
	}
	auth := service.NewAuthService(client, cfg.AuthCallbackURL())
	factors := mfa.NewFactorManager(client, log.Named("mfa"))

	router := server.NewRouter(server.Deps{
		Logger:      log,
		Sessions:    sessions,
		Cookie:      cookie,
		Policy:      policy,
		Views:       views,
		Identity:    identityhandler.NewHandler(auth, sessions, cookie, views),
		MFA:         mfahandler.NewHandler(client, factors, client, sessions, cookie, views),
		User:        userhandler.NewHandler(auth, factors, sessions, views),
		Health:      checker,
		Audit:       auditLogger,
		Events:      events,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerMinute),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("public_url", cfg.PublicURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	healthServer := healthhandler.NewServer(checker, log.Named("health"))
	go healthServer.Run(ctx, healthProbeInterval)

	var stopGRPC func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer := server.NewGRPCServer(log)
		server.RegisterServices(grpcServer, healthServer, !cfg.IsProduction())
		go func() {
			log.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		stopGRPC = grpcServer.GracefulStop
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if stopGRPC != nil {
		stopGRPC()
	}
	// Let in-flight async telemetry finish before the providers flush.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info("server stopped")
	return nil
}

func newTokenVerifier(cfg *config.Config) (*security.TokenVerifier, error) {
	var publicKey crypto.PublicKey
	if cfg.SupabaseJWTPublicKey != "" {
		key, err := security.ParsePublicKey(cfg.SupabaseJWTPublicKey)
		if err != nil {
			return nil, err
		}
		publicKey = key
	}
	return security.NewTokenVerifier(cfg.SupabaseJWTSecret, publicKey), nil
}

// newSessionRepository returns the Redis store when REDIS_URL is set, else the in-memory store.
func newSessionRepository(ctx context.Context, cfg *config.Config, checker *health.Checker, log *zap.Logger) (repository.Repository, func(), error) {
	ttl := cfg.SessionTTLDuration()
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set; sessions kept in memory")
		return repository.NewMemoryRepository(ttl), func() {}, nil
	}

	var sealer *security.Sealer
	var err error
	if cfg.SessionSecret != "" {
		sealer, err = security.NewSealer(cfg.SessionSecret)
	} else {
		log.Warn("SESSION_SECRET not set; sessions will not survive a restart")
		sealer, err = security.NewRandomSealer()
	}
	if err != nil {
		return nil, nil, err
	}

	client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewRedisRepository(client, sealer, ttl)
	checker.AddPinger("redis", repo)
	return repo, func() { _ = client.Close() }, nil
}
