package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/gateway"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront"

// Service is the wired application: the HTTP handler and the background loops
// that must run next to it.
type Service struct {
	Handler     http.Handler
	Health      *health.Health
	Coordinator *lifecycle.Coordinator
	Reconciler  *payment.Reconciler
	Limiter     *httpmiddleware.Limiter

	closers []func() error
}

// Build wires every component on top of pool. The schema must already be
// applied. Call Close when done.
func Build(lg *zap.Logger, t httpmiddleware.Telemetry, cfg *Config, pool *pgxpool.Pool) (_ *Service, err error) {
	s := &Service{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	db := postgres.New(pool, postgres.TxConfig{
		MaxRetries:   cfg.Tx.MaxRetries,
		LockTimeout:  cfg.Tx.LockTimeout,
		RetryBackoff: cfg.Tx.RetryBackoff,
	})

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)

	// Domain services.
	shop := settings.NewService(db, settingsRepo)
	ledger := stock.NewLedger(db, catalogRepo)
	builder := order.NewBuilder(order.BuilderConfig{
		Catalog:      catalogRepo,
		Pricer:       discount.NewResolver(catalogRepo),
		Stock:        ledger,
		Orders:       orderRepo,
		Profiles:     orderRepo,
		DeliveryCost: shop.FlatDelivery,
		Tax:          shop.FlatTax,
		Codes:        order.NewCodeGenerator(cfg.OrderCode.Length),
		CodeAttempts: cfg.OrderCode.MaxAttempts,
	})

	provider, err := gateway.New(cfg.Payment.ProviderURL, gateway.Options{
		APIKey:         cfg.Payment.APIKey,
		Timeout:        cfg.Payment.Timeout,
		TracerProvider: t.TracerProvider(),
		MeterProvider:  t.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment gateway")
	}
	recorder := payment.NewRecorder(db, orderRepo, paymentRepo, provider, payment.RecorderConfig{
		Timeout:     cfg.Payment.Timeout,
		MaxAttempts: cfg.Payment.MaxAttempts,
	})

	var notifier lifecycle.Notifier = notify.Log{}
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		s.closers = append(s.closers, k.Close)
		notifier = k
		lg.Info("Publishing order events to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	outbox := lifecycle.NewOutbox(notifier, lifecycle.OutboxConfig{
		Size:    cfg.Kafka.QueueSize,
		Timeout: cfg.Kafka.PublishTimeout,
	})
	s.closers = append(s.closers, outbox.Close)

	s.Coordinator, err = lifecycle.New(lifecycle.Config{
		Tx:             db,
		Orders:         orderRepo,
		PaymentRecords: paymentRepo,
		Builder:        builder,
		Stock:          ledger,
		Payments:       recorder,
		Deliveries:     delivery.NewVerifier(orderRepo),
		Notifier:       outbox,
		Policy: lifecycle.Policy{
			CancelOnPaymentExhausted: cfg.Payment.CancelOnExhausted,
			AdvanceOnPaid:            cfg.Payment.AdvanceOnPaid,
		},
		TracerProvider: t.TracerProvider(),
		MeterProvider:  t.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create coordinator")
	}

	s.Reconciler = payment.NewReconciler(recorder, cfg.Payment.ReconcileAfter)
	s.Reconciler.OnSettled = s.Coordinator.Settled

	// Health checks.
	s.Health = health.New()
	s.Health.Add(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.Ping(pool)})
	s.Health.Add(health.Check{Name: "shop_settings", Kind: health.Readiness, Timeout: 5 * time.Second, Func: func(ctx context.Context) error {
		_, err := shop.Current(ctx)
		return err
	}})
	s.Health.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCount(10000)})

	// HTTP.
	s.Limiter = httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:            cfg.RateLimit.Max,
		Window:         cfg.RateLimit.Window,
		TrustForwarded: cfg.RateLimit.TrustForwarded,
	})
	h := handler.New(handler.Config{QRSize: cfg.QRSize}, s.Coordinator, auth.NewAuthenticator(settingsRepo, cfg.APIKeyPepper))

	mux := http.NewServeMux()
	s.Health.Register(mux)
	h.Register(mux, s.Limiter.Middleware())

	s.Handler = httpmiddleware.Wrap(mux,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument(serviceName, t),
		httpmiddleware.LogRequests(),
	)
	return s, nil
}

// Background runs the health probes, the payment reconciliation pass and the
// rate limiter eviction until ctx is done.
func (s *Service) Background(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Health.Run(ctx, 10*time.Second)
	})
	g.Go(func() error {
		return s.Reconciler.Run(zctx.Base(ctx, lg.Named("reconciler")), cfg.Payment.ReconcileInterval)
	})
	g.Go(func() error {
		return s.Limiter.Run(ctx)
	})
	return g.Wait()
}

// Close drains queued events and releases the event publisher, in reverse
// order of creation. It returns the first error.
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run creates all dependencies, starts the HTTP server and the background
// loops, and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := Build(lg, m, cfg, pool)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			lg.Warn("Close service", zap.Error(err))
		}
	}()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.Handler,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Background(gCtx, lg, cfg)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		svc.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	svc.Health.SetReady(true)
	return g.Wait()
}
