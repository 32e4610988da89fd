package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/keyrotate/internal/config"
	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/internal/rotation/metrics"
	"github.com/systmms/keyrotate/internal/rotation/notifications"
	"github.com/systmms/keyrotate/internal/rotation/storage"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// buildNotifiers turns the notifications section into notifiers
func buildNotifiers(cfg config.NotifyConfig) ([]notifications.Notifier, error) {
	var out []notifications.Notifier

	if cfg.Slack.WebhookURL != "" {
		events, err := notifications.ParseEventTypes(cfg.Slack.Events)
		if err != nil {
			return nil, notifyConfigError("notifications.slack.events", err)
		}
		slack, err := notifications.NewSlackNotifier(notifications.SlackConfig{
			WebhookURL:       cfg.Slack.WebhookURL,
			Channel:          cfg.Slack.Channel,
			Events:           events,
			MentionOnFailure: cfg.Slack.MentionOnFailure,
		})
		if err != nil {
			return nil, notifyConfigError("notifications.slack.webhook_url", err)
		}
		out = append(out, slack)
	}

	for i, w := range cfg.Webhooks {
		field := fmt.Sprintf("notifications.webhooks[%d]", i)
		events, err := notifications.ParseEventTypes(w.Events)
		if err != nil {
			return nil, notifyConfigError(field+".events", err)
		}
		hook, err := notifications.NewWebhookNotifier(notifications.WebhookConfig{
			Name:        w.Name,
			URL:         w.URL,
			Method:      w.Method,
			Headers:     w.Headers,
			Events:      events,
			MaxAttempts: w.MaxAttempts,
			Timeout:     time.Duration(w.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, notifyConfigError(field, err)
		}
		out = append(out, hook)
	}
	return out, nil
}

func notifyConfigError(field string, err error) error {
	return dserrors.ConfigError{
		Field:      field,
		Message:    err.Error(),
		Suggestion: "See the notifications section of keyrotate.example.yaml",
	}
}

// openRecorder wraps history with the configured notifiers. The returned
// stop function delivers queued notifications and is never nil.
func (a *App) openRecorder(ctx context.Context, history storage.Storage, m *metrics.RotationMetrics) (rotation.Recorder, func(), error) {
	def := a.Config.Definition
	if !def.Notify.Enabled() {
		return history, func() {}, nil
	}

	notifiers, err := buildNotifiers(def.Notify)
	if err != nil {
		return nil, nil, err
	}
	opts := []notifications.ManagerOption{notifications.WithQueueSize(def.Notify.QueueSize)}
	if m != nil {
		opts = append(opts, notifications.WithObserver(m))
	}
	manager := notifications.NewManager(notifiers, a.Config.Logger, opts...)
	manager.Start(context.WithoutCancel(ctx))
	a.Config.Logger.Debug("Sending outcome notifications to %d notifiers", manager.Len())

	return notifications.NewRecorder(history, manager), manager.Stop, nil
}
