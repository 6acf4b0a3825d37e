package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"carelink/internal/access"
	"carelink/internal/audit"
	"carelink/internal/family"
	"carelink/internal/identity"
	ledgermetrics "carelink/internal/ledger/metrics"
	ledgerservice "carelink/internal/ledger/service"
	ledgerstore "carelink/internal/ledger/store"
	"carelink/internal/notify"
	"carelink/internal/platform/config"
	"carelink/internal/platform/httpserver"
	"carelink/internal/platform/logger"
	"carelink/internal/platform/postgres"
	platformredis "carelink/internal/platform/redis"
	"carelink/internal/reconcile"
)

// application holds the wired services plus the background pieces the
// process runs. Transports embed the services; this binary runs the
// workers and serves metrics and health.
type application struct {
	cfg    config.Config
	logger *slog.Logger

	ledger        *ledgerservice.Service
	families      *family.Service
	resolver      *access.Resolver
	notifications *notify.Service
	verifier      identity.Verifier
	engine        *reconcile.Engine

	auditStore audit.Store
	publisher  *audit.Publisher
	closers    []func() error
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	if err := app.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

// newApplication selects stores (Postgres when a DSN is configured,
// in-memory otherwise; Redis for notifications when configured) and wires
// the services together.
func newApplication(ctx context.Context, cfg config.Config, log *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: log}

	var (
		requestStore      ledgerstore.RequestStore
		relationshipStore ledgerstore.RelationshipStore
		networkStore      family.Store
		notifyStore       notify.Store
		ledgerOpts        []ledgerservice.Option
	)

	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		requestStore = ledgerstore.NewPostgresRequestStore(db)
		relationshipStore = ledgerstore.NewPostgresRelationshipStore(db)
		networkStore = family.NewPostgresStore(db)
		app.auditStore = audit.NewPostgresStore(db)
		ledgerOpts = append(ledgerOpts,
			ledgerservice.WithAtomicRunner(postgres.NewTxRunner(db, cfg.StoreTimeout)))
	} else {
		requestStore = ledgerstore.NewInMemoryRequestStore()
		relationshipStore = ledgerstore.NewInMemoryRelationshipStore()
		networkStore = family.NewInMemoryStore()
		app.auditStore = audit.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		app.closers = append(app.closers, redisClient.Close)
		notifyStore = notify.NewRedisStore(redisClient.Client, 0)
	} else {
		notifyStore = notify.NewInMemoryStore()
	}

	app.notifications = notify.NewService(notifyStore, notify.WithLogger(log))
	app.publisher = audit.NewPublisher(256, log)
	app.verifier = identity.NewJWTVerifier(cfg.JWTSigningKey, "carelink")
	directory := identity.NewStaticDirectory()

	ledgerOpts = append(ledgerOpts,
		ledgerservice.WithLogger(log),
		ledgerservice.WithAuditPublisher(app.publisher),
		ledgerservice.WithMetrics(ledgermetrics.New()))
	app.ledger = ledgerservice.New(requestStore, relationshipStore, directory, app.notifications, ledgerOpts...)

	app.engine = reconcile.New(relationshipStore, networkStore,
		reconcile.WithLogger(log),
		reconcile.WithChunkSize(cfg.ReconcileChunkSize))

	app.families = family.New(networkStore, directory, app.notifications,
		family.WithLogger(log),
		family.WithAuditPublisher(app.publisher),
		family.WithDeduper(app.engine))

	app.resolver = access.New(relationshipStore, networkStore, access.WithLogger(log))
	return app, nil
}

// run starts the audit and delivery workers, the optional reconciliation
// sweep, and the metrics listener, then blocks until the context ends.
func (app *application) run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httpserver.New(app.cfg.MetricsAddr, mux)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return audit.NewWorker(app.auditStore, app.publisher.Inbox()).Run(groupCtx)
	})
	group.Go(func() error {
		sink := notify.NewLogSink(app.logger)
		return notify.NewWorker(sink, app.notifications.Outbox(), app.logger).Run(groupCtx)
	})

	if app.cfg.ReconcileInterval > 0 {
		group.Go(func() error {
			return app.sweepLoop(groupCtx)
		})
	}

	group.Go(func() error {
		app.logger.Info("serving metrics", "addr", app.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (app *application) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(app.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := app.engine.ReconcileAll(ctx)
			if err != nil {
				app.logger.Error("reconciliation sweep failed", "error", err)
				continue
			}
			app.logger.Info("reconciliation sweep finished",
				"scanned", report.Scanned,
				"deleted", report.Deleted,
				"failed_chunks", report.Failed)
		}
	}
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn("close failed", "error", err)
		}
	}
}
