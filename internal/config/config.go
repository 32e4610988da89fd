package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/internal/rotation/storage"
)

// Defaults
const (
	DefaultMaxAgeDays     = 75
	DefaultTimeoutMs      = 30000
	DefaultListen         = ":8080"
	DefaultRateLimit      = 10.0
	DefaultBurst          = 20
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultMetricsPrefix  = "keyrotate"
	DefaultRetentionDays  = 0
	HistoryTypeFile       = "file"
	HistoryTypePostgres   = "postgres"
	HistoryTypeMySQL      = "mysql"
	HistoryTypeNone       = "none"
	DefaultConfigFileName = "keyrotate.yaml"
)

//go:embed schema.json
var schema []byte

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the keyrotate.yaml structure
type Definition struct {
	Version  int            `yaml:"version" json:"version"`
	Rotation RotationConfig `yaml:"rotation" json:"rotation"`
	AWS      AWSConfig      `yaml:"aws" json:"aws"`
	Sinks    []SinkConfig   `yaml:"sinks,omitempty" json:"sinks,omitempty"`
	History  HistoryConfig  `yaml:"history" json:"history"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Notify   NotifyConfig   `yaml:"notifications,omitempty" json:"notifications,omitempty"`
}

// RotationConfig holds the policy thresholds
type RotationConfig struct {
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"` // Per remote call (default: 30000)
}

// AWSConfig selects how sessions reach AWS
type AWSConfig struct {
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Profile  string `yaml:"profile,omitempty" json:"profile,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"` // LocalStack or testing
}

// SinkConfig configures one profile sink. Fields that do not apply to the
// sink type are ignored.
type SinkConfig struct {
	Type     string `yaml:"type" json:"type"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`       // shared_credentials
	Profile  string `yaml:"profile,omitempty" json:"profile,omitempty"` // shared_credentials, credentials_dir
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`         // credentials_dir
	Service  string `yaml:"service,omitempty" json:"service,omitempty"` // keyring
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`       // secretsmanager, ssm
	KMSKeyID string `yaml:"kms_key_id,omitempty" json:"kms_key_id,omitempty"`
}

// HistoryConfig selects the rotation history backend
type HistoryConfig struct {
	Type          string `yaml:"type" json:"type"`
	Dir           string `yaml:"dir,omitempty" json:"dir,omitempty"`
	DSN           string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// ServerConfig configures the request boundary HTTP server
type ServerConfig struct {
	Listen    string  `yaml:"listen" json:"listen"`
	KeyURI    string  `yaml:"key_uri,omitempty" json:"key_uri,omitempty"`
	KMSRegion string  `yaml:"kms_region,omitempty" json:"kms_region,omitempty"`
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `yaml:"burst" json:"burst"`

	// AllowedKeys are the key refs callers may pick besides key_uri
	AllowedKeys []string `yaml:"allowed_keys,omitempty" json:"allowed_keys,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Port      int    `yaml:"port" json:"port"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// NotifyConfig configures outcome notifications. Nothing is sent unless a
// Slack webhook or at least one webhook is set.
type NotifyConfig struct {
	QueueSize int             `yaml:"queue_size,omitempty" json:"queue_size,omitempty"`
	Slack     SlackConfig     `yaml:"slack,omitempty" json:"slack,omitempty"`
	Webhooks  []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// SlackConfig is a Slack incoming webhook
type SlackConfig struct {
	WebhookURL       string   `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
	Channel          string   `yaml:"channel,omitempty" json:"channel,omitempty"`
	Events           []string `yaml:"events,omitempty" json:"events,omitempty"`
	MentionOnFailure []string `yaml:"mention_on_failure,omitempty" json:"mention_on_failure,omitempty"`
}

// WebhookConfig is a generic JSON webhook
type WebhookConfig struct {
	Name        string            `yaml:"name,omitempty" json:"name,omitempty"`
	URL         string            `yaml:"url" json:"url"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Events      []string          `yaml:"events,omitempty" json:"events,omitempty"`
	MaxAttempts int               `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	TimeoutMs   int               `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// Enabled reports whether any notifier is configured
func (n NotifyConfig) Enabled() bool {
	return n.Slack.WebhookURL != "" || len(n.Webhooks) > 0
}

// Default returns a definition with every default applied
func Default() *Definition {
	return &Definition{
		Rotation: RotationConfig{
			MaxAgeDays: DefaultMaxAgeDays,
			TimeoutMs:  DefaultTimeoutMs,
		},
		History: HistoryConfig{
			Type: HistoryTypeFile,
			Dir:  storage.DefaultStorageDir(),
		},
		Server: ServerConfig{
			Listen:    DefaultListen,
			RateLimit: DefaultRateLimit,
			Burst:     DefaultBurst,
		},
		Metrics: MetricsConfig{
			Port:      DefaultMetricsPort,
			Path:      DefaultMetricsPath,
			Namespace: DefaultMetricsPrefix,
		},
	}
}

// Load reads keyrotate.yaml, validates it against the schema, applies
// environment overrides and checks the result. An empty Path loads defaults
// and the environment only.
func (c *Config) Load() error {
	def := Default()

	if c.Path != "" {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return dserrors.ConfigError{
					Field:      "path",
					Value:      c.Path,
					Message:    "configuration file not found",
					Suggestion: fmt.Sprintf("Create %s or omit --config to use defaults", c.Path),
				}
			}
			return dserrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}
		if err := ValidateSchema(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, def); err != nil {
			return dserrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}
	}

	ApplyEnv(def)
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration (max age %d days, %d sinks, history %s)",
			def.Rotation.MaxAgeDays, len(def.Sinks), def.History.Type)
	}
	return nil
}

// ValidateSchema checks raw YAML against the embedded JSON schema
func ValidateSchema(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if doc == nil {
		return nil
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal data for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return dserrors.ConfigError{
			Field:      result.Errors()[0].Field(),
			Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "See keyrotate.example.yaml for the supported keys",
		}
	}
	return nil
}

// Validate checks values the schema cannot express
func (d *Definition) Validate() error {
	if d.Rotation.MaxAgeDays <= 0 {
		return dserrors.ConfigError{
			Field:      "rotation.max_age_days",
			Value:      d.Rotation.MaxAgeDays,
			Message:    "must be a positive number of days",
			Suggestion: fmt.Sprintf("Use the default of %d days", DefaultMaxAgeDays),
		}
	}
	if d.Rotation.TimeoutMs <= 0 {
		return dserrors.ConfigError{
			Field:   "rotation.timeout_ms",
			Value:   d.Rotation.TimeoutMs,
			Message: "must be a positive number of milliseconds",
		}
	}

	for i, s := range d.Sinks {
		switch s.Type {
		case "shared_credentials", "credentials_dir", "keyring", "secretsmanager", "ssm":
		default:
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("sinks[%d].type", i),
				Value:      s.Type,
				Message:    "unknown sink type",
				Suggestion: "Use one of: shared_credentials, credentials_dir, keyring, secretsmanager, ssm",
			}
		}
	}

	switch d.History.Type {
	case HistoryTypeFile, HistoryTypeNone:
	case HistoryTypePostgres, HistoryTypeMySQL:
		if d.History.DSN == "" {
			return dserrors.ConfigError{
				Field:      "history.dsn",
				Message:    fmt.Sprintf("a DSN is required for %s history", d.History.Type),
				Suggestion: "Set history.dsn or KEYROTATE_HISTORY_DSN",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "history.type",
			Value:      d.History.Type,
			Message:    "unknown history backend",
			Suggestion: "Use one of: file, postgres, mysql, none",
		}
	}

	if d.Server.RateLimit <= 0 || d.Server.Burst <= 0 {
		return dserrors.ConfigError{
			Field:   "server.rate_limit",
			Value:   fmt.Sprintf("%v/%d", d.Server.RateLimit, d.Server.Burst),
			Message: "rate limit and burst must be positive",
		}
	}
	for i, w := range d.Notify.Webhooks {
		if w.URL == "" {
			return dserrors.ConfigError{
				Field:      fmt.Sprintf("notifications.webhooks[%d].url", i),
				Message:    "a webhook needs a URL",
				Suggestion: "Set url or remove the webhook entry",
			}
		}
	}
	if d.Metrics.Enabled && (d.Metrics.Port <= 0 || d.Metrics.Port > 65535) {
		return dserrors.ConfigError{
			Field:   "metrics.port",
			Value:   d.Metrics.Port,
			Message: "must be a valid TCP port",
		}
	}
	return nil
}

// CallTimeout returns the per remote call timeout
func (d *Definition) CallTimeout() time.Duration {
	if d.Rotation.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(d.Rotation.TimeoutMs) * time.Millisecond
}

// OpenHistory opens the configured history backend. The returned close
// function is never nil.
func (d *Definition) OpenHistory() (storage.Storage, func() error, error) {
	noop := func() error { return nil }
	switch d.History.Type {
	case HistoryTypeNone:
		return storage.Discard{}, noop, nil
	case HistoryTypePostgres, HistoryTypeMySQL:
		s, err := storage.OpenSQLStorage(storage.Dialect(d.History.Type), d.History.DSN)
		if err != nil {
			return nil, noop, err
		}
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		dir := d.History.Dir
		if dir == "" {
			dir = storage.DefaultStorageDir()
		}
		return storage.NewFileStorage(dir), noop, nil
	}
}
