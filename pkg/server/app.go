package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	domrepo "github.com/woodid012/plugit/internal/domain/repository"
	"github.com/woodid012/plugit/internal/usecase"
	pkgch "github.com/woodid012/plugit/pkg/clickhouse"
	"github.com/woodid012/plugit/pkg/config"
	xhttp "github.com/woodid012/plugit/pkg/http"
	applogger "github.com/woodid012/plugit/pkg/logger"
)

// App encapsulates the whole service lifecycle: the HTTP read API plus the
// periodic sync and backfill schedulers.
type App struct {
	cfg     *config.Config
	log     *applogger.Logger
	syncer  *usecase.Syncer
	handler xhttp.Handler
	store   domrepo.RecordStore
	updates domrepo.UpdateSink
	ch      *pkgch.Client

	httpServer *xhttp.Server
	// syncMu makes passes single-flight: a tick that fires while the
	// previous pass is still running is dropped, not queued.
	syncMu sync.Mutex
}

// New creates the App with all dependencies. ch may be nil when the history
// archive is disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	syncer *usecase.Syncer,
	handler xhttp.Handler,
	store domrepo.RecordStore,
	updates domrepo.UpdateSink,
	ch *pkgch.Client,
) *App {
	return &App{
		cfg:     cfg,
		log:     log,
		syncer:  syncer,
		handler: handler,
		store:   store,
		updates: updates,
		ch:      ch,
	}
}

// Run starts the schedulers and the HTTP server and blocks until
// interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idxCtx, idxCancel := context.WithTimeout(ctx, 30*time.Second)
	err := a.store.EnsureIndexes(idxCtx)
	idxCancel()
	if err != nil {
		return err
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	go a.scheduler(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

func (a *App) scheduler(ctx context.Context) {
	// First pass immediately; the tickers take over after that.
	a.runSync(ctx)

	syncTick := time.NewTicker(a.cfg.Sync.Interval)
	backfillTick := time.NewTicker(a.cfg.Sync.BackfillInterval)
	defer syncTick.Stop()
	defer backfillTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick.C:
			a.runSync(ctx)
		case <-backfillTick.C:
			a.runBackfill(ctx)
		}
	}
}

func (a *App) runSync(ctx context.Context) {
	if !a.syncMu.TryLock() {
		a.log.Warn("sync tick skipped, previous pass still running")
		return
	}
	defer a.syncMu.Unlock()

	res, err := a.syncer.Sync(ctx, false)
	if err != nil {
		a.log.Error("sync pass failed", applogger.Error(err))
		return
	}
	for _, msg := range res.Errors {
		a.log.Warn("sync pass error", applogger.String("detail", msg))
	}
	if res.Truncated > 0 {
		a.log.Warn("further sync errors suppressed", applogger.Int("count", res.Truncated))
	}
}

func (a *App) runBackfill(ctx context.Context) {
	if !a.syncMu.TryLock() {
		a.log.Warn("backfill tick skipped, sync pass still running")
		return
	}
	defer a.syncMu.Unlock()

	if _, err := a.syncer.Backfill(ctx); err != nil {
		a.log.Error("backfill pass failed", applogger.Error(err))
	}
}

// shutdown stops the HTTP server first so no reads arrive while the
// infrastructure clients close underneath them.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if err := a.updates.Close(); err != nil {
		a.log.Warn("update sink close error", applogger.Error(err))
	}
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Warn("store close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
