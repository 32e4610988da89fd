package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultSecretName is the secret name pattern used when none is set
const DefaultSecretName = "keyrotate/{account}/{user}"

// SecretsManagerAPI defines the Secrets Manager operations the sink uses
type SecretsManagerAPI interface {
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManagerSink writes the credential document as a new version of a
// secret, creating the secret on first use.
type SecretsManagerSink struct {
	client   SecretsManagerAPI
	name     string
	kmsKeyID string
}

// SecretsManagerOption configures a SecretsManagerSink
type SecretsManagerOption func(*SecretsManagerSink)

// WithSecretsManagerClient sets a custom client (for testing)
func WithSecretsManagerClient(client SecretsManagerAPI) SecretsManagerOption {
	return func(s *SecretsManagerSink) {
		s.client = client
	}
}

// WithSecretKMSKey sets the KMS key used when the secret is created
func WithSecretKMSKey(keyID string) SecretsManagerOption {
	return func(s *SecretsManagerSink) {
		s.kmsKeyID = keyID
	}
}

// NewSecretsManagerSink creates the sink. name may contain {account} and
// {user}.
func NewSecretsManagerSink(cfg aws.Config, name string, opts ...SecretsManagerOption) *SecretsManagerSink {
	if name == "" {
		name = DefaultSecretName
	}
	s := &SecretsManagerSink{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = secretsmanager.NewFromConfig(cfg)
	}
	return s
}

// Name implements Named
func (s *SecretsManagerSink) Name() string {
	return "secretsmanager:" + s.name
}

// Persist implements rotation.ProfileSink
func (s *SecretsManagerSink) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	doc, err := encodeDocument(identity, cred)
	if err != nil {
		return err
	}
	name := expandName(s.name, identity)

	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(doc),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("put secret %s: %w", name, err)
	}

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(doc),
		Description:  aws.String(fmt.Sprintf("IAM access key of %s", identity)),
	}
	if s.kmsKeyID != "" {
		input.KmsKeyId = aws.String(s.kmsKeyID)
	}
	if _, err := s.client.CreateSecret(ctx, input); err != nil {
		return fmt.Errorf("create secret %s: %w", name, err)
	}
	return nil
}
