// Package main runs the background worker: session completion, attendee
// count repair and notification delivery.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campus-talks/backend/config"
	"github.com/campus-talks/backend/internal/bootstrap"
	"github.com/campus-talks/backend/internal/counter"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/registrations"
	"github.com/campus-talks/backend/internal/sessions"
	"github.com/campus-talks/backend/internal/worker"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Fatal("the worker needs a shared store; the memory driver runs its jobs inside the server")
	}

	ctx := context.Background()
	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer infra.Close()
	store := infra.Store

	dispatcher := notify.NewDispatcher(infra.Notifier(logger), logger)
	completion := sessions.NewCompletionJob(sessions.NewRepository(store), dispatcher, logger)
	reconciler := counter.NewReconciler(store, registrations.NewAttendeeCounter(store), "sessionId", logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		completion.Run(workerCtx, cfg.Jobs.CompletionInterval)
	}()

	if infra.Queue != nil {
		processor := worker.NewNotificationProcessor(infra.Queue, notify.NewLogNotifier(logger), logger)
		wg.Add(2)
		go func() {
			defer wg.Done()
			processor.Run(workerCtx)
		}()
		go func() {
			defer wg.Done()
			if err := reconciler.Run(workerCtx); err != nil {
				logger.Error("counter reconciler", zap.Error(err))
			}
		}()
	} else {
		// Without a change feed the counters can only be swept once.
		if n, err := reconciler.ReconcileAll(workerCtx); err != nil {
			logger.Warn("counter sweep failed", zap.Error(err))
		} else {
			logger.Info("counter sweep done", zap.Int("sessions", n))
		}
	}
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
