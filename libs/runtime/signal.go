package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM, with the signal
// as the cancellation cause. A second signal while shutting down exits the
// process immediately.
func SignalContext(logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			logger.Info("shutdown requested", "signal", sig.String())
			cancel(fmt.Errorf("received %s", sig))
		case <-stopped:
			return
		}
		select {
		case sig := <-sigs:
			logger.Warn("second signal, exiting without draining", "signal", sig.String())
			os.Exit(1)
		case <-stopped:
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		close(stopped)
		cancel(context.Canceled)
	}
}
