// Package app assembles the daemon from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fiscal/internal/authz"
	"fiscal/internal/config"
	"fiscal/internal/delivery"
	"fiscal/internal/events"
	"fiscal/internal/guard"
	"fiscal/internal/observability/metrics"
	"fiscal/internal/ofd"
	"fiscal/internal/queue"
	"fiscal/internal/sender"
	"fiscal/internal/service"
	impl "fiscal/internal/service/impl"
	"fiscal/internal/storage"
	"fiscal/internal/store"
	"fiscal/internal/store/memstore"
	transport "fiscal/internal/transport/http"
	"fiscal/internal/worker"
	"fiscal/pkg/db"

	"golang.org/x/sync/errgroup"
)

const (
	StorageSQL    = "sql"
	StorageMemory = "memory"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Store      storage.Storage
	Sender     *sender.Sender
	Queue      *queue.Queue
	Dispatcher *worker.Dispatcher
	Signer     *authz.Signer
	Pins       *authz.PinHasher

	Devices  *impl.DeviceServiceImpl
	Receipts *impl.ReceiptServiceImpl
	Cash     *impl.CashServiceImpl
	Shifts   *impl.ShiftServiceImpl
	QueueSvc *impl.QueueServiceImpl

	migrate func(ctx context.Context) error
	close   func() error
}

// New wires every component. Nothing is started and no schema is touched.
func New(cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, close: func() error { return nil }}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	signer, err := authz.NewSigner(cfg.JWTPrivateKey, cfg.JWTKeyID, cfg.JWTIssuer)
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("token signer: %w", err)
	}
	if cfg.JWTPrivateKey == "" {
		log.Warn("JWT_PRIVATE_KEY not set, using an ephemeral signing key")
	}
	a.Signer = signer
	a.Pins = authz.NewPinHasher(authz.DefaultPinParams)
	az := authz.NewAuthorizer(a.Pins)

	now := func() time.Time { return time.Now().UTC() }
	a.Sender = sender.New(sender.Config{
		Endpoint:          cfg.OFD.Addr,
		ServiceID:         cfg.OFD.ServiceID,
		Timeout:           cfg.OFD.Timeout,
		ReconnectInterval: cfg.OFD.ReconnectInterval,
		RetryAttempts:     cfg.OFD.RetryAttempts,
		RetryBackoff:      cfg.OFD.RetryBackoff,
		Breaker: sender.BreakerConfig{
			WindowSize:           cfg.OFD.BreakerWindow,
			MinCalls:             cfg.OFD.BreakerMinCalls,
			FailureRateThreshold: cfg.OFD.BreakerFailureRate,
			OpenDuration:         cfg.OFD.BreakerOpenDuration,
			HalfOpenCalls:        cfg.OFD.BreakerHalfOpenCalls,
		},
	}, ofd.NewTCPTransport(cfg.OFD.Timeout), sender.WithLogger(log))

	a.Queue = queue.New(queue.ExponentialBackoff{Base: cfg.Backoff.Base, Max: cfg.Backoff.Max},
		queue.WithClock(now), queue.WithLogger(log))
	deliverer := delivery.New(a.Queue, a.Sender, now, log)

	publisher := events.Multi{
		events.LogPublisher{Log: log},
		events.Counted(metrics.DomainEventsTotal),
	}
	autonomous := guard.NewAutonomousModeGuard(a.Queue, cfg.Limits.AutonomousMax, now, log)
	shiftGuard := guard.NewShiftDurationGuard(cfg.Limits.ShiftMax, nil, now, log)

	exec := impl.NewOperationExecutorImpl(impl.ExecutorDeps{
		Store:      a.Store,
		Authorizer: az,
		Autonomous: autonomous,
		Shifts:     shiftGuard,
		Delivery:   deliverer,
		Hooks:      []service.DeliveryHook{impl.NewCounterHook(now)},
		Publisher:  publisher,
		TxTimeout:  cfg.OFD.Timeout + time.Minute,
		Now:        now,
		Log:        log,
	})
	a.Receipts = impl.NewReceiptServiceImpl(exec)
	a.Cash = impl.NewCashServiceImpl(exec)
	a.Shifts = impl.NewShiftServiceImpl(a.Store, exec, az, autonomous, deliverer, publisher, log)
	shiftGuard.SetCloser(a.Shifts)
	a.Devices = impl.NewDeviceServiceImpl(a.Store, az, a.Queue, a.Pins, publisher, log)

	a.Dispatcher = worker.New(worker.Config{
		OwnerID:      cfg.Worker.OwnerID,
		PollInterval: cfg.Worker.PollInterval,
		LeaseTTL:     cfg.Worker.LeaseTTL,
		BatchSize:    cfg.Worker.Batch,
	}, a.Store, a.Queue, deliverer, now, log)
	a.QueueSvc = impl.NewQueueServiceImpl(a.Store, az, a.Queue, a.Dispatcher, log)
	return a, nil
}

func (a *App) openStore() error {
	switch strings.ToLower(a.Config.StorageMode) {
	case StorageMemory:
		a.Log.Warn("using in-memory storage, state is lost on exit")
		a.Store = memstore.New()
		return nil
	case StorageSQL, "":
	default:
		return fmt.Errorf("unknown STORAGE_MODE %q", a.Config.StorageMode)
	}

	gdb, err := db.OpenGorm(db.Config{
		Driver: a.Config.DatabaseDriver,
		DSN:    a.Config.DatabaseURL,
		LogSQL: a.Config.LogSQL,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st := store.New(gdb)
	a.Store = st
	a.migrate = st.AutoMigrate
	a.close = func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Migrate creates or updates the schema. It is a no-op for memory storage.
func (a *App) Migrate(ctx context.Context) error {
	if a.migrate == nil {
		return nil
	}
	return a.migrate(ctx)
}

func (a *App) Close() error { return a.close() }

func (a *App) Router() http.Handler {
	var origins []string
	if a.Config.CORSOrigins != "" {
		origins = strings.Split(a.Config.CORSOrigins, ",")
	}
	return transport.NewRouter(transport.Deps{
		Devices:     a.Devices,
		Receipts:    a.Receipts,
		Cash:        a.Cash,
		Shifts:      a.Shifts,
		Queue:       a.QueueSvc,
		Signer:      a.Signer,
		Log:         a.Log,
		CORSOrigins: origins,
		RateLimit:   a.Config.RateLimit,
		TrustProxy:  a.Config.TrustProxy,
	})
}

// Serve runs the HTTP server and, when withWorker is set, the queue
// dispatcher, until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	srv := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("kktd listening", "addr", srv.Addr, "ofd", a.Config.OFD.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.Sender.RunThrottleSweeper(ctx)
		return nil
	})
	if withWorker {
		g.Go(func() error { return a.RunWorker(ctx) })
	}
	return g.Wait()
}

// RunWorker drains the outbound queues until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	return a.Dispatcher.Run(ctx)
}
