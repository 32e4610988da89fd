package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/keyrotate/internal/boundary"
	"github.com/systmms/keyrotate/internal/config"
	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/internal/profile"
	"github.com/systmms/keyrotate/internal/providers"
	"github.com/systmms/keyrotate/internal/rotation/metrics"
	"github.com/systmms/keyrotate/internal/rotation/storage"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// App carries what every command shares
type App struct {
	Config *config.Config

	// Sessions builds AWS sessions. Nil uses the aws section of the config.
	Sessions boundary.SessionFactory

	// Now is the engine clock. Nil uses time.Now.
	Now func() time.Time
}

// run is one command invocation against the caller's own identity
type run struct {
	def      *config.Definition
	identity credential.Identity
	engine   *rotation.Engine
	history  storage.Storage
	close    func() error
}

func (a *App) sessions() boundary.SessionFactory {
	if a.Sessions != nil {
		return a.Sessions
	}
	def := a.Config.Definition
	return providers.NewAWSSessionFactory(providers.SessionConfig{
		Region:   def.AWS.Region,
		Profile:  def.AWS.Profile,
		Endpoint: def.AWS.Endpoint,
	})
}

// open loads the configuration, resolves the identity behind the default
// credential chain and builds its engine.
func (a *App) open(ctx context.Context) (*run, error) {
	if err := a.Config.Load(); err != nil {
		return nil, err
	}

	session, err := a.sessions().NewSession(ctx, nil)
	if err != nil {
		return nil, dserrors.ProviderError("sts", "session setup", err)
	}
	identity, err := session.Resolver.ResolveIdentity(ctx)
	if err != nil {
		return nil, dserrors.ProviderError("sts", "identity resolution", err)
	}
	a.Config.Logger.Debug("Resolved identity %s (%s)", identity, identity.ARN)

	history, closeHistory, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	recorder, stopNotify, err := a.openRecorder(ctx, history, nil)
	if err != nil {
		_ = closeHistory()
		return nil, err
	}
	closeAll := func() error {
		stopNotify()
		return closeHistory()
	}
	engine, err := a.newEngine(session, recorder, nil)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	return &run{
		def:      a.Config.Definition,
		identity: identity,
		engine:   engine,
		history:  history,
		close:    closeAll,
	}, nil
}

func (a *App) openHistory() (storage.Storage, func() error, error) {
	def := a.Config.Definition
	history, closeHistory, err := def.OpenHistory()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open rotation history: %w", err)
	}
	if def.History.RetentionDays > 0 {
		if err := history.CleanupOldEntries(time.Duration(def.History.RetentionDays) * 24 * time.Hour); err != nil {
			a.Config.Logger.Warn("Failed to prune rotation history: %v", err)
		}
	}
	return history, closeHistory, nil
}

// newEngine wires the configured sinks, recorder and metrics around the
// session's credential store
func (a *App) newEngine(session *providers.Session, recorder rotation.Recorder, m *metrics.RotationMetrics) (*rotation.Engine, error) {
	def := a.Config.Definition
	logger := a.Config.Logger

	sinks, err := profile.Build(def.Sinks, session.Config, logger)
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      "sinks",
			Message:    err.Error(),
			Suggestion: "Supported sink types: shared_credentials, credentials_dir, keyring, secretsmanager, ssm",
		}
	}

	opts := []rotation.Option{
		rotation.WithMaxAgeDays(def.Rotation.MaxAgeDays),
		rotation.WithCallTimeout(def.CallTimeout()),
		rotation.WithRecorder(recorder),
	}
	if sinks.Len() > 0 {
		opts = append(opts, rotation.WithProfileSink(sinks))
	}
	if m != nil {
		opts = append(opts, rotation.WithMetrics(m))
	}
	if a.Now != nil {
		opts = append(opts, rotation.WithClock(a.Now))
	}
	return rotation.NewEngine(session.Store, logger, opts...), nil
}
