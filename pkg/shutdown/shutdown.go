// Package shutdown coordinates signal-driven teardown: stop accepting,
// drain connections, flush the store.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/pkg/logger"
)

// GraceTimeout bounds how long teardown may take before the process exits
// anyway.
const GraceTimeout = 15 * time.Second

// Watch blocks until SIGINT or SIGTERM, then runs stop with a bounded
// context. A second signal exits immediately.
func Watch(stop func(ctx context.Context)) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal", "signal", sig.String())

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), GraceTimeout)
	defer cancel()
	go func() {
		stop(ctx)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown_complete")
	case <-ctx.Done():
		logger.Error("shutdown_timed_out")
	case s := <-sigCh:
		logger.Warn("shutdown_forced", "signal", s.String())
	}
}
