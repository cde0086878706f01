package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/venuehq/backoffice/internal/http/handlers"
	"github.com/venuehq/backoffice/internal/http/handlers/guest"
	"github.com/venuehq/backoffice/internal/mailer"
	"github.com/venuehq/backoffice/internal/payments"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/internal/service"
	"github.com/venuehq/backoffice/internal/throttle"
	"github.com/venuehq/backoffice/pkg/config"
	"github.com/venuehq/backoffice/pkg/database"
	"github.com/venuehq/backoffice/pkg/events"
	"github.com/venuehq/backoffice/pkg/logger"
	mw "github.com/venuehq/backoffice/pkg/middleware"
	"github.com/venuehq/backoffice/pkg/telemetry"
)

const janitorInterval = time.Hour

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.Telemetry.ServiceName)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Tracer shutdown error", "error", err)
		}
	}()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var eventBus events.Publisher
	if bus, err := events.NewNATSEventBus(cfg.NATS.URL); err != nil {
		logger.Warn("NATS unavailable, logging events instead", "error", err)
		eventBus = events.NewLogPublisher()
	} else {
		eventBus = bus
	}
	defer eventBus.Close()

	throttleStore, pgThrottle := newThrottleStore(ctx, cfg, pool)
	linkThrottle := throttle.New(throttleStore, cfg.Guest.ThrottleWindow, throttle.Limits{
		Preview: cfg.Guest.PreviewMaxAttempts,
		Action:  cfg.Guest.ActionMaxAttempts,
	})

	gateway := payments.NewStripeGateway(cfg.Stripe)
	notifier := mailer.NewNotifier(newSender(cfg.Email), cfg.App.VenueName, cfg.App.ContactPhone)
	loc := cfg.App.Location()

	// Repositories
	tokenRepo := repository.NewTokenRepository(pool)
	chargeRepo := repository.NewChargeRequestRepository(pool)
	bookingRepo := repository.NewTableBookingRepository(pool)
	customerRepo := repository.NewCustomerRepository(pool)
	waitlistRepo := repository.NewWaitlistRepository(pool)
	preorderRepo := repository.NewPreorderRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)
	digestRepo := repository.NewDigestRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)

	// Services
	chargeService := service.NewChargeApprovalService(tokenRepo, chargeRepo, customerRepo, gateway, eventBus)
	tablePaymentService := service.NewTablePaymentService(tokenRepo, bookingRepo, customerRepo, gateway, eventBus, cfg.App.BaseURL, cfg.App.VenueName)
	cardCaptureService := service.NewCardCaptureService(tokenRepo, bookingRepo, customerRepo, gateway, eventBus, cfg.App.BaseURL, cfg.App.VenueName)
	waitlistService := service.NewWaitlistService(tokenRepo, waitlistRepo, settingsRepo, customerRepo, gateway, eventBus, cfg.App.BaseURL, cfg.Guest.PrepaidSeatHold)
	preorderService := service.NewPreorderService(tokenRepo, bookingRepo, preorderRepo, settingsRepo, eventBus, cfg.Guest.SundayPreorderCutoff)
	linkService := service.NewLinkService(tokenRepo, chargeRepo, bookingRepo, waitlistRepo, customerRepo, notifier, eventBus, cfg.App, cfg.Guest)
	settingsService := service.NewSettingsService(settingsRepo, eventBus)
	staffAuthService := service.NewStaffAuthService(staffRepo, cfg.Auth.JWTSecret, cfg.Auth.StaffTokenTTL)
	digestService := service.NewDigestService(idempotencyRepo, digestRepo, notifier, eventBus, cfg.App.ManagerEmail, loc, cfg.Cron.ClaimStaleAfter)
	webhookService := service.NewWebhookService(gateway, tablePaymentService, cardCaptureService, waitlistService)

	// Handlers
	linkPages := guest.NewHandler(chargeService, tablePaymentService, cardCaptureService, waitlistService, preorderService, linkThrottle, cfg.App.VenueName, loc)
	staff := handlers.New(staffAuthService, linkService, settingsService, cfg.Auth.JWTSecret)
	cron := handlers.NewCronHandler(digestService, cfg.Cron.Secret)
	webhooks := handlers.NewWebhookHandler(webhookService)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(cfg.Telemetry.ServiceName))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.Health)

	r.Mount("/g", linkPages.GuestRoutes())
	r.Mount("/m", linkPages.ManagerRoutes())
	r.Mount("/cron", cron.Routes())
	r.Mount("/webhooks", webhooks.Routes())
	r.Route("/staff", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Auth.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Mount("/", staff.StaffRoutes())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName, otelhttp.WithFilter(traced)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting backoffice", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down backoffice...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runJanitor(gctx, idempotencyRepo, pgThrottle)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Backoffice error", "error", err)
		os.Exit(1)
	}
}

// newThrottleStore picks the link throttle backend. The Postgres store is also
// returned so the janitor can sweep it.
func newThrottleStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (throttle.Store, *throttle.PostgresStore) {
	switch cfg.Guest.ThrottleBackend {
	case "memory":
		logger.Warn("Using in-process link throttle; limits are per instance")
		return throttle.NewMemoryStore(), nil
	case "postgres":
		s := throttle.NewPostgresStore(pool)
		return s, s
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Invalid REDIS_URL, falling back to postgres throttle", "error", err)
		s := throttle.NewPostgresStore(pool)
		return s, s
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, falling back to postgres throttle", "error", err)
		_ = rdb.Close()
		s := throttle.NewPostgresStore(pool)
		return s, s
	}
	return throttle.NewRedisStore(rdb), nil
}

// traced keeps link pages out of traces; their paths carry raw tokens.
func traced(r *http.Request) bool {
	p := r.URL.Path
	return !strings.HasPrefix(p, "/g/") && !strings.HasPrefix(p, "/m/")
}

func newSender(cfg config.EmailConfig) mailer.Sender {
	switch {
	case cfg.DevMode:
		return mailer.NewDevMailer()
	case cfg.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.FromEmail)
	default:
		return mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}

// runJanitor drops expired idempotency records and throttle counters until ctx ends.
func runJanitor(ctx context.Context, idempotency repository.IdempotencyRepository, pgThrottle *throttle.PostgresStore) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := idempotency.CleanupExpired(ctx); err != nil {
			logger.Warn("Idempotency cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("Idempotency records cleaned up", "count", n)
		}
		if pgThrottle == nil {
			continue
		}
		if n, err := pgThrottle.CleanupExpired(ctx); err != nil {
			logger.Warn("Throttle cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("Throttle counters cleaned up", "count", n)
		}
	}
}
