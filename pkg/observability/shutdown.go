package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager drains the service on SIGINT/SIGTERM: the HTTP server
// stops accepting first, then every registered closer runs concurrently
// under one deadline.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu      sync.Mutex
	closers []closer
}

// ShutdownFunc releases one resource during shutdown.
type ShutdownFunc func(context.Context) error

type closer struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a manager for the given server. A zero
// timeout defaults to 30s.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

// RegisterShutdownFunc registers a named closer; the name shows up in the
// shutdown log so a hung closer is identifiable.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer{name: name, fn: fn})
}

// WaitForShutdown blocks until a termination signal arrives, then drains.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.WithField("signal", sig.String()).Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown failed")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		sm.logger.Info("HTTP server drained")
	}

	sm.mu.Lock()
	closers := sm.closers
	sm.mu.Unlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(closers))
	for _, c := range closers {
		wg.Add(1)
		go func(c closer) {
			defer wg.Done()
			if err := c.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("closer", c.name).
					Error("shutdown closer failed")
				errChan <- err
				return
			}
			sm.logger.WithField("closer", c.name).Debug("closed")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("shutdown deadline reached")
		return fmt.Errorf("shutdown timeout reached")
	}

	close(errChan)
	var failed int
	for range errChan {
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
