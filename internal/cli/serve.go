package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signalpush/internal/app"
	"signalpush/pkg/config"
	"signalpush/pkg/otel"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.App.Env != "local" {
				gin.SetMode(gin.ReleaseMode)
			}

			shutdownOtel, err := otel.Init(otel.Config{
				ServiceName:    cfg.App.Name,
				ServiceVersion: version,
				Endpoint:       cfg.Otel.Endpoint,
				Enabled:        cfg.Otel.Enabled,
			}, log)
			if err != nil {
				return err
			}
			defer shutdownOtel()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("Starting signalpush",
				zap.String("env", cfg.App.Env),
				zap.String("db_host", cfg.DB.Host),
				zap.String("gateway_driver", cfg.Gateway.Driver),
			)

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.StartOutbox(ctx)

			srv := a.Router().Server(cfg.Server.Port)
			errCh := make(chan error, 1)
			go func() {
				log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				log.Error("HTTP server failed", zap.Error(err))
				return err
			}

			log.Info("Shutting down signalpush gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", zap.Error(err))
				return err
			}

			log.Info("signalpush shutdown complete")
			return nil
		},
	}
}
