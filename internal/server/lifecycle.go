// Package server runs the battleship process: listeners and background
// workers start together and stop in reverse order on a signal or failure.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component with a blocking Start.
type Service interface {
	// Start blocks until the service is stopped or fails.
	Start() error
	// Stop unblocks Start and releases the service's resources.
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls StartFn.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls StopFn when set.
func (f *FuncService) Stop() {
	if f.StopFn != nil {
		f.StopFn()
	}
}

// Worker is a background loop that runs until its context is cancelled.
type Worker func(ctx context.Context) error

type namedService struct {
	name    string
	service Service
}

type namedWorker struct {
	name string
	run  Worker
}

// Lifecycle owns the services and workers of one process.
type Lifecycle struct {
	logger   *zap.Logger
	signals  []os.Signal
	mu       sync.Mutex
	services []namedService
	workers  []namedWorker
}

// NewLifecycle creates a Lifecycle that shuts down on SIGINT or SIGTERM.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Add registers a service. Services start in registration order and stop in
// reverse.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Go registers a worker. Workers are cancelled after every service has
// stopped, and Run waits for them to return.
func (l *Lifecycle) Go(name string, w Worker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers = append(l.workers, namedWorker{name: name, run: w})
}

// Run starts everything and blocks until a signal arrives, ctx is done, or
// a service or worker fails.
//
// Postcondition: Every service has been stopped and every worker has
// returned. The first failure, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	workers := append([]namedWorker(nil), l.workers...)
	l.mu.Unlock()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	errCh := make(chan error, len(services)+len(workers))
	var stopping sync.WaitGroup
	var wg sync.WaitGroup

	for _, ns := range services {
		stopping.Add(1)
		go func() {
			defer stopping.Done()
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}
	for _, nw := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := nw.run(workerCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Error("worker failed", zap.String("worker", nw.name), zap.Error(err))
				errCh <- fmt.Errorf("worker %s: %w", nw.name, err)
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("services", len(services)),
		zap.Int("workers", len(workers)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, l.signals...)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("shutting down after failure", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)
	stopping.Wait()
	cancelWorkers()
	wg.Wait()

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}
