package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudspend/internal/api"
	"github.com/lvonguyen/cloudspend/internal/auth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cost API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(a.cfg.Auth.Users) == 0 {
			a.logger.Warn("No users configured, every login will be rejected")
		}
		authn := auth.NewAuthenticator(a.cfg.Auth.Users, auth.DefaultParams)
		handler := api.NewHandler(a.engine, authn, a.dispatcher, a.logger, otel.Tracer(serviceName))

		srv := &http.Server{
			Addr:         ":" + a.cfg.Server.Port,
			Handler:      handler.Routes(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("Starting cloudspend API", zap.String("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.logger.Info("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		handler.Wait()
		return nil
	},
}
