package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/keyrotate/internal/boundary"
	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/internal/providers"
	"github.com/systmms/keyrotate/internal/rotation/metrics"
	"github.com/systmms/keyrotate/internal/secure"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand creates the serve command
func NewServeCommand(app *App) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rotation requests over HTTP",
		Long: `Serve accepts KMS encrypted rotation requests on POST /v1/credentials.

The payload of each request holds the caller's own access key pair. The
operation runs against the IAM user those keys belong to and the response is
encrypted with the same KMS key. When metrics are enabled a Prometheus
endpoint is served on its own port.`,
		Example: `  # Serve with the key and limits from keyrotate.yaml
  keyrotate serve

  # Override the listen address
  keyrotate serve --listen 127.0.0.1:8443`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Load(); err != nil {
				return err
			}
			def := app.Config.Definition
			if listen != "" {
				def.Server.Listen = listen
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")

	return cmd
}

// servers holds everything serve starts
type servers struct {
	api     *boundary.Server
	metrics *metrics.Server
	closers []func() error
}

func (s *servers) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) buildServers(ctx context.Context) (*servers, error) {
	def := a.Config.Definition
	logger := a.Config.Logger
	out := &servers{}

	if def.Server.KeyURI == "" {
		return nil, dserrors.ConfigError{
			Field:      "server.key_uri",
			Message:    "a KMS key is required to serve requests",
			Suggestion: "Set server.key_uri or KEYROTATE_KEY_URI to a key id, alias (alias/keyrotate) or awskms:// URL",
		}
	}
	channel := secure.NewKeeperChannel(
		secure.WithDefaultKey(def.Server.KeyURI),
		secure.WithKMSRegion(def.Server.KMSRegion),
		secure.WithAllowedKeys(def.Server.AllowedKeys...),
	)
	out.closers = append(out.closers, channel.Close)

	history, closeHistory, err := a.openHistory()
	if err != nil {
		_ = out.close()
		return nil, err
	}
	out.closers = append(out.closers, closeHistory)

	var m *metrics.RotationMetrics
	if def.Metrics.Enabled {
		m = metrics.NewRotationMetrics(def.Metrics.Namespace)
		cfg := metrics.DefaultServerConfig()
		cfg.Port = def.Metrics.Port
		cfg.Path = def.Metrics.Path
		out.metrics = metrics.NewServer(cfg, m, logger)
	}

	recorder, stopNotify, err := a.openRecorder(ctx, history, m)
	if err != nil {
		_ = out.close()
		return nil, err
	}
	out.closers = append(out.closers, func() error {
		stopNotify()
		return nil
	})

	engines := func(session *providers.Session) (boundary.Engine, error) {
		engine, err := a.newEngine(session, recorder, m)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
	handler := boundary.NewHandler(channel, a.sessions(), engines, logger)

	cfg := boundary.DefaultServerConfig()
	cfg.Listen = def.Server.Listen
	cfg.RateLimit = def.Server.RateLimit
	cfg.Burst = def.Server.Burst
	var opts []boundary.ServerOption
	if m != nil {
		opts = append(opts, boundary.WithRequestObserver(m))
	}
	out.api = boundary.NewServer(cfg, handler, logger, opts...)
	return out, nil
}

func (a *App) serve(ctx context.Context) error {
	logger := a.Config.Logger

	srv, err := a.buildServers(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.close(); err != nil {
			logger.Warn("Failed to release resources: %v", err)
		}
	}()

	serverErr := make(chan error, 2)
	go func() {
		if err := srv.api.Start(); err != nil {
			serverErr <- err
		}
	}()
	if srv.metrics != nil {
		go func() {
			if err := srv.metrics.Start(); err != nil {
				serverErr <- err
			}
		}()
	}

	var errs []error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.Error("Server error, shutting down: %v", err)
		errs = append(errs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.api.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("credential server shutdown: %w", err))
	}
	if srv.metrics != nil {
		if err := srv.metrics.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
