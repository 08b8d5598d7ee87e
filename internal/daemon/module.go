// Package daemon composes the relay: configuration in, fx-managed
// lifecycle out.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ffigueiredo/paperboy/internal/bucket"
	"github.com/ffigueiredo/paperboy/internal/bus"
	"github.com/ffigueiredo/paperboy/internal/config"
	"github.com/ffigueiredo/paperboy/internal/conn"
	"github.com/ffigueiredo/paperboy/internal/inbox"
	"github.com/ffigueiredo/paperboy/internal/ledger"
	"github.com/ffigueiredo/paperboy/internal/lock"
	"github.com/ffigueiredo/paperboy/internal/logging"
	"github.com/ffigueiredo/paperboy/internal/outbox"
	"github.com/ffigueiredo/paperboy/internal/qrpage"
	"github.com/ffigueiredo/paperboy/internal/statedir"
	"github.com/ffigueiredo/paperboy/internal/status"
	"github.com/ffigueiredo/paperboy/internal/store"
	"github.com/ffigueiredo/paperboy/internal/supabase"
	"github.com/ffigueiredo/paperboy/internal/wa"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideBackoff,
			provideManager,
			provideLedger,
			provideStorage,
			provideBucketEngine,
			provideOutboxEngine,
			provideArchiver,
			provideQRServer,
			provideQRPrinter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := statedir.Ensure(p.Config.StateDir); err != nil {
		return nil, err
	}
	return logging.New(statedir.LogFile(p.Config.StateDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring state directory lock", zap.String("dir", p.Config.StateDir))
	l, err := lock.Acquire(p.Config.StateDir)
	if err != nil {
		return nil, err
	}
	logger.Info("state directory lock acquired")
	return l, nil
}

// provideStore opens the relational side when DATABASE_URL is set. Without
// it the relay still runs: bucket announcements need no database, only the
// outbox and inbox do. A database that is unreachable at startup disables
// those two features for this run instead of taking the whole relay down.
func provideStore(p Params, logger *zap.Logger) *store.DB {
	if !p.Config.RelationalEnabled() {
		logger.Info("DATABASE_URL not set, outbox and inbox disabled")
		return nil
	}

	db, err := store.Open(p.Config.DatabaseURL)
	if err != nil {
		logger.Warn("relational backend unavailable, outbox and inbox disabled", zap.Error(err))
		return nil
	}
	version, changed, err := db.Migrate()
	if err != nil {
		logger.Warn("migrations failed, outbox and inbox disabled", zap.Error(err))
		_ = db.Close()
		return nil
	}
	if changed {
		logger.Info("migrations applied", zap.Uint("schema_version", version))
	} else {
		logger.Info("schema up to date", zap.Uint("schema_version", version))
	}
	return db
}

func provideAdapter(p Params, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), statedir.SessionDB(p.Config.StateDir), logger)
}

func provideBackoff(p Params) *conn.Backoff {
	return &conn.Backoff{
		Min: p.Config.ReconnectMin,
		Max: p.Config.ReconnectMax,
	}
}

func provideManager(adapter *wa.Adapter, machine *status.Machine, b *bus.Bus, backoff *conn.Backoff, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(adapter, machine, b, backoff, logger)
}

func provideLedger(p Params, logger *zap.Logger) *ledger.Ledger {
	return ledger.Open(statedir.Ledger(p.Config.StateDir), logger)
}

func provideStorage(p Params, logger *zap.Logger) *supabase.Client {
	return supabase.NewClient(p.Config.SupabaseURL, p.Config.SupabaseKey, p.Config.Bucket, nil, logger)
}

func provideBucketEngine(p Params, storage *supabase.Client, manager *conn.Manager, led *ledger.Ledger, machine *status.Machine, logger *zap.Logger) *bucket.Engine {
	return bucket.NewEngine(storage, manager, led, machine, p.Config.GroupJID, p.Config.PollInterval, logger)
}

func provideOutboxEngine(p Params, db *store.DB, manager *conn.Manager, machine *status.Machine, logger *zap.Logger) *outbox.Engine {
	if db == nil {
		return nil
	}
	return outbox.NewEngine(db, manager, machine, p.Config.GroupJID, p.Config.PollInterval, logger)
}

func provideArchiver(db *store.DB, b *bus.Bus, logger *zap.Logger) *inbox.Archiver {
	if db == nil {
		return nil
	}
	return inbox.NewArchiver(db, b, logger)
}

func provideQRServer(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *qrpage.Server {
	return qrpage.NewServer(p.Config.QRPort, machine, b, logger)
}

func provideQRPrinter(b *bus.Bus, logger *zap.Logger) *qrPrinter {
	return newQRPrinter(b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *qrpage.Server, lk *lock.Lock, manager *conn.Manager, bucketEng *bucket.Engine, outboxEng *outbox.Engine, archiver *inbox.Archiver, db *store.DB, printer *qrPrinter, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("paperboy starting",
				zap.String("bucket", p.Config.Bucket),
				zap.String("group", p.Config.GroupJID),
				zap.Duration("poll_interval", p.Config.PollInterval),
				zap.Bool("relational", p.Config.RelationalEnabled()))

			printer.Start()
			if err := srv.Start(); err != nil {
				return err
			}

			if archiver != nil {
				archiver.Start(context.Background())
			}
			bucketEng.Start(context.Background())
			if outboxEng != nil {
				outboxEng.Start(context.Background())
			}

			manager.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := manager.Stop(ctx); err != nil {
				logger.Warn("connection manager did not stop cleanly", zap.Error(err))
			}
			bucketEng.Stop()
			if outboxEng != nil {
				outboxEng.Stop()
			}
			if archiver != nil {
				archiver.Stop()
			}
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("qr page did not stop cleanly", zap.Error(err))
			}
			printer.Stop()
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("error closing database", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
