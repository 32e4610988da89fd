package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// Sink types accepted in configuration
const (
	TypeSharedCredentials = "shared_credentials"
	TypeCredentialsDir    = "credentials_dir"
	TypeKeyring           = "keyring"
	TypeSecretsManager    = "secretsmanager"
	TypeSSM               = "ssm"
)

// DefaultProfile is the profile written when none is configured
const DefaultProfile = "default"

// ErrInvalidCredential is returned when a credential without id or secret is
// handed to a sink.
var ErrInvalidCredential = errors.New("credential has no id or secret")

// Named sinks describe their destination in logs
type Named interface {
	Name() string
}

// MultiSink persists to every sink in order. A failing sink does not stop the
// others; all failures are joined.
type MultiSink struct {
	sinks  []rotation.ProfileSink
	logger *logging.Logger
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(logger *logging.Logger, sinks ...rotation.ProfileSink) *MultiSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &MultiSink{sinks: sinks, logger: logger}
}

// Len returns the number of sinks
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Persist implements rotation.ProfileSink
func (m *MultiSink) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	var errs []error
	for _, s := range m.sinks {
		name := sinkName(s)
		if err := s.Persist(ctx, identity, cred); err != nil {
			m.logger.Warn("SAVE credential %s to %s failed: %v", cred.ID, name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.logger.Info("SAVED credential %s at '%s'", cred.ID, name)
	}
	return errors.Join(errs...)
}

func sinkName(s rotation.ProfileSink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

func validate(cred credential.Credential) error {
	if cred.ID == "" || !cred.HasSecret() {
		return ErrInvalidCredential
	}
	return nil
}

// document is the JSON form stored by the keyring, Secrets Manager and SSM
// sinks. Field names match the AWS CLI's credential_process output.
type document struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	AccountID       string `json:"AccountId,omitempty"`
	UserName        string `json:"UserName,omitempty"`
	CreatedAt       string `json:"CreatedAt,omitempty"`
}

func encodeDocument(identity credential.Identity, cred credential.Credential) (string, error) {
	doc := document{
		Version:         1,
		AccessKeyID:     cred.ID,
		SecretAccessKey: cred.Secret.Reveal(),
		AccountID:       identity.AccountID,
		UserName:        identity.UserName,
	}
	if !cred.CreatedAt.IsZero() {
		doc.CreatedAt = cred.CreatedAt.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode credential: %w", err)
	}
	return string(data), nil
}

// DecodeDocument parses a stored credential document
func DecodeDocument(raw string) (credential.Credential, error) {
	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return credential.Credential{}, fmt.Errorf("failed to decode credential: %w", err)
	}
	cred := credential.Credential{
		ID:     doc.AccessKeyID,
		Secret: logging.Secret(doc.SecretAccessKey),
		Status: credential.StatusActive,
	}
	if doc.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, doc.CreatedAt)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("invalid CreatedAt: %w", err)
		}
		cred.CreatedAt = t
	}
	return cred, nil
}

// expandName substitutes {account} and {user} in a destination name
func expandName(pattern string, identity credential.Identity) string {
	return strings.NewReplacer(
		"{account}", identity.AccountID,
		"{user}", identity.UserName,
	).Replace(pattern)
}
