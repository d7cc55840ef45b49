package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadflow_backend/internal/assignment"
	"leadflow_backend/internal/bootstrap"
	"leadflow_backend/internal/directory"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/internal/visitors"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.GetStoreDriver())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open stores", "error", err)
		panic("failed to open stores: " + err.Error())
	}
	defer stores.Close()

	policy, err := domain.ParseUnqualifiedPolicy(cfg.GetUnqualifiedPolicy())
	if err != nil {
		panic("invalid pipeline policy: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	forwarder, err := bootstrap.NewForwarder(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize outbound forwarder", "error", err)
		panic("failed to initialize outbound forwarder: " + err.Error())
	}
	if forwarder != nil {
		forwarder.Subscribe(eventBus)
		defer func() { _ = forwarder.Close() }()
	}

	taskClient := initTaskClient(cfg, log)
	if taskClient != nil {
		defer func() { _ = taskClient.Close() }()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	visitorsModule := visitors.NewModule(stores.Visitors, eventBus, policy, val, log)
	directoryModule := directory.NewModule(stores.Directory, stores.Executives, val, log)
	assignmentModule := assignment.NewModule(stores.Visitors, directoryModule.Service(), stores.Executives, eventBus, val, log)

	embedded := cfg.IsSchedulerEmbedded() || cfg.UsesMemoryStore()
	if !cfg.IsSchedulerEmbedded() && cfg.UsesMemoryStore() {
		log.Warn("memory store cannot be shared with a scheduler process; embedding the reconciler")
	}

	var (
		control    scheduler.Control
		reconciler *scheduler.Reconciler
		worker     *scheduler.Worker
	)
	if embedded {
		lock, closeLock, err := bootstrap.NewPassLock(cfg, log)
		if err != nil {
			log.Error("failed to initialize pass lock", "error", err)
			panic("failed to initialize pass lock: " + err.Error())
		}
		defer closeLock()

		reconciler = scheduler.New(stores.Visitors, assignmentModule.Service(), eventBus, log, scheduler.Options{
			Interval:   cfg.GetAssignmentInterval(),
			BatchSize:  cfg.GetAssignmentBatchSize(),
			MaxPerPass: cfg.GetAssignmentMaxPerPass(),
			Locker:     lock,
			RunOnStart: true,
		})
		control = scheduler.NewLocalControl(ctx, reconciler)

		if taskClient != nil {
			worker, err = scheduler.NewWorker(cfg, reconciler, assignmentModule.Service(), log)
			if err != nil {
				log.Error("failed to initialize scheduler worker", "error", err)
				panic("failed to initialize scheduler worker: " + err.Error())
			}
		}
	} else {
		if taskClient == nil {
			panic("REDIS_URL is required when the reconciler runs in the scheduler process")
		}
		control = scheduler.NewRemoteControl(taskClient)
	}

	// New enquiries are routed right away instead of waiting for a tick.
	if taskClient != nil {
		scheduler.NewVisitorDispatcher(taskClient, log).Subscribe(eventBus)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   stores.Health,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			visitorsModule,
			directoryModule,
			assignmentModule,
			scheduler.NewModule(control),
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if reconciler != nil {
		if err := reconciler.Start(gctx); err != nil {
			panic("failed to start reconciler: " + err.Error())
		}
		g.Go(func() error {
			<-gctx.Done()
			reconciler.Stop()
			return nil
		})
	}
	if worker != nil {
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		eventBus.Wait()
		panic("server error: " + err.Error())
	}
	eventBus.Wait()
	log.Info("server stopped")
}

func initTaskClient(cfg config.SchedulerConfig, log *logger.Logger) *scheduler.Client {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; visitors wait for the next reconciliation tick")
		return nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		return nil
	}
	return client
}
