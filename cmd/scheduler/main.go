package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	assignsvc "leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/bootstrap"
	directorysvc "leadflow_backend/internal/directory/service"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/scheduler"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "interval", cfg.GetAssignmentInterval().String())

	if cfg.UsesMemoryStore() {
		panic("the scheduler process needs STORE_DRIVER=postgres; use SCHEDULER_EMBEDDED with the memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open stores", "error", err)
		panic("failed to open stores: " + err.Error())
	}
	defer stores.Close()

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

	lock, closeLock, err := bootstrap.NewPassLock(cfg, log)
	if err != nil {
		log.Error("failed to initialize pass lock", "error", err)
		panic("failed to initialize pass lock: " + err.Error())
	}
	defer closeLock()

	directory := directorysvc.New(stores.Directory, stores.Executives, log)
	assigner := assignsvc.New(stores.Visitors, directory, stores.Executives, eventBus, log)

	reconciler := scheduler.New(stores.Visitors, assigner, eventBus, log, scheduler.Options{
		Interval:   cfg.GetAssignmentInterval(),
		BatchSize:  cfg.GetAssignmentBatchSize(),
		MaxPerPass: cfg.GetAssignmentMaxPerPass(),
		Locker:     lock,
		RunOnStart: true,
	})

	worker, err := scheduler.NewWorker(cfg, reconciler, assigner, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	if err := reconciler.Start(ctx); err != nil {
		panic("failed to start reconciler: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		reconciler.Stop()
		return nil
	})

	_ = g.Wait()
	eventBus.Wait()
	log.Info("scheduler stopped")
}
