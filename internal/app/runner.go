package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/store-backoffice/pkg/health"
)

// runner serves HTTP next to background workers and shuts everything down
// in order once its context is done.
type runner struct {
	lg              *zap.Logger
	server          *http.Server
	health          *health.Health
	readinessDelay  time.Duration
	shutdownTimeout time.Duration

	// workers stop as soon as shutdown begins.
	workers []func(ctx context.Context) error
	// drainers stop only after the server finished in-flight requests, which
	// may still hand them work.
	drainers []func(ctx context.Context) error
}

func (r *runner) run(ctx context.Context, serve func() error) error {
	drainCtx, stopDrainers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDrainers()

	g, gCtx := errgroup.WithContext(ctx)
	for _, fn := range r.drainers {
		g.Go(func() error { return fn(drainCtx) })
	}
	for _, fn := range r.workers {
		g.Go(func() error { return fn(gCtx) })
	}
	g.Go(func() error {
		<-gCtx.Done()
		r.health.SetReady(false)
		r.lg.Info("Readiness set to false, draining", zap.Duration("delay", r.readinessDelay))
		time.Sleep(r.readinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
		defer cancel()

		r.lg.Info("Shutting down server", zap.Duration("timeout", r.shutdownTimeout))
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.lg.Error("Server shutdown error", zap.Error(err))
		}
		stopDrainers()
		r.health.Stop()
		return nil
	})
	g.Go(func() error {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
