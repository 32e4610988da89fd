package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"

	dserrors "github.com/systmms/keyrotate/internal/errors"
)

// ApplyEnv overrides definition values from KEYROTATE_* variables. The AWS
// region also honours AWS_REGION.
func ApplyEnv(d *Definition) {
	d.Rotation.MaxAgeDays = env.GetInt("KEYROTATE_MAX_AGE_DAYS", d.Rotation.MaxAgeDays)
	d.Rotation.TimeoutMs = env.GetInt("KEYROTATE_TIMEOUT_MS", d.Rotation.TimeoutMs)

	d.AWS.Region = env.GetString("AWS_REGION", d.AWS.Region)
	d.AWS.Region = env.GetString("KEYROTATE_AWS_REGION", d.AWS.Region)
	d.AWS.Profile = env.GetString("KEYROTATE_AWS_PROFILE", d.AWS.Profile)
	d.AWS.Endpoint = env.GetString("KEYROTATE_AWS_ENDPOINT", d.AWS.Endpoint)

	d.History.Type = env.GetString("KEYROTATE_HISTORY_TYPE", d.History.Type)
	d.History.Dir = env.GetString("KEYROTATE_HISTORY_DIR", d.History.Dir)
	d.History.DSN = env.GetString("KEYROTATE_HISTORY_DSN", d.History.DSN)

	d.Server.Listen = env.GetString("KEYROTATE_LISTEN", d.Server.Listen)
	d.Server.KeyURI = env.GetString("KEYROTATE_KEY_URI", d.Server.KeyURI)
	d.Server.KMSRegion = env.GetString("KEYROTATE_KMS_REGION", d.Server.KMSRegion)
	d.Server.RateLimit = env.GetFloat64("KEYROTATE_RATE_LIMIT", d.Server.RateLimit)
	d.Server.Burst = env.GetInt("KEYROTATE_RATE_BURST", d.Server.Burst)

	d.Metrics.Enabled = env.GetBool("KEYROTATE_METRICS_ENABLED", d.Metrics.Enabled)
	d.Metrics.Port = env.GetInt("KEYROTATE_METRICS_PORT", d.Metrics.Port)

	d.Notify.Slack.WebhookURL = env.GetString("KEYROTATE_SLACK_WEBHOOK_URL", d.Notify.Slack.WebhookURL)
}

// LoadDotEnv searches for a .env file from the working directory up to the
// root and loads the first one found. Variables already set win. It returns
// the path of the file it loaded, or "" when there is none. A file that does
// not parse sets nothing and is reported as an error.
func LoadDotEnv() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return "", dserrors.ConfigError{
					Field:      "env_file",
					Value:      envPath,
					Message:    "cannot load environment file: " + err.Error(),
					Suggestion: "Fix the line using KEY=value syntax or remove the file",
				}
			}
			return envPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
