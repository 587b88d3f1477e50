package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/handler"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/scheduler"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var noJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the periodic jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireGateway(); err != nil {
				return err
			}

			if !noJobs {
				jobs, err := a.scheduleJobs(ctx)
				if err != nil {
					return err
				}
				jobs.Start()
				defer jobs.Stop()
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not run the promotion expiry and payment sweep jobs")
	return cmd
}

func (a *app) scheduleJobs(ctx context.Context) (*scheduler.Scheduler, error) {
	s := scheduler.New(ctx, a.log)
	err := s.Add("promotion-expiry", a.cfg.PromotionExpirySchedule, func(ctx context.Context) error {
		summary, err := a.engine.Promotions.Run(ctx)
		if err != nil {
			return err
		}
		a.log.Info("promotions expired", "scanned", summary.Scanned, "expired", len(summary.Expired), "failed", len(summary.Failed))
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.Add("payment-sweep", a.cfg.PaymentSweepSchedule, func(ctx context.Context) error {
		summary, err := a.engine.Sweeper.Run(ctx)
		if err != nil {
			return err
		}
		a.log.Info("pending payments swept",
			"scanned", summary.Scanned,
			"completed", summary.Completed,
			"cancelled", summary.Cancelled,
			"failed", summary.Failed,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", a.cfg.Port),
		Handler:      handler.NewRouter(a.engine, a.log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}
