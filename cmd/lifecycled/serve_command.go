package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"github.com/spf13/cobra"

	handler "github.com/neomorfeo/lifecycled/internal/adapter/http"
)

const serverShutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and process stage jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			unlock, err := acquireWorkerLock(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer unlock()

			return ctx.withStack(cmd, true, func(runCtx context.Context, s *stack) error {
				signalCtx, cancel := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				if err := startWorker(signalCtx, s); err != nil {
					return err
				}

				srv := &http.Server{
					Addr:              ":" + cfg.HTTP.Port,
					Handler:           newRouter(s, cfg.Telemetry.ServiceName),
					ReadHeaderTimeout: 10 * time.Second,
				}

				serveErr := make(chan error, 1)
				go func() {
					s.logger.InfoContext(signalCtx, "lifecycled listening",
						"addr", srv.Addr,
						"docs", fmt.Sprintf("http://localhost:%s/docs", cfg.HTTP.Port),
					)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serveErr <- err
					}
					close(serveErr)
				}()

				var runErr error
				select {
				case <-signalCtx.Done():
				case runErr = <-serveErr:
				}
				s.logger.InfoContext(runCtx, "shutting down")

				shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(runCtx), serverShutdownTimeout)
				defer cancelShutdown()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					runErr = errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
				}

				return errors.Join(runErr, stopWorker(runCtx, s))
			})
		},
	}
}

// newRouter mounts the admin API on a chi router with tracing middleware.
func newRouter(s *stack, serviceName string) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("lifecycled", version))
	handler.Register(api, s.service, s.engine)

	return router
}
