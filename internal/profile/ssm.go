package profile

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultParameterName is the parameter name pattern used when none is set
const DefaultParameterName = "/keyrotate/{account}/{user}"

// SSMAPI defines the Parameter Store operations the sink uses
type SSMAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMSink writes the credential document to a SecureString parameter,
// overwriting the previous value.
type SSMSink struct {
	client   SSMAPI
	name     string
	kmsKeyID string
}

// SSMOption configures an SSMSink
type SSMOption func(*SSMSink)

// WithSSMClient sets a custom client (for testing)
func WithSSMClient(client SSMAPI) SSMOption {
	return func(s *SSMSink) {
		s.client = client
	}
}

// WithParameterKMSKey encrypts the parameter with a customer managed key
func WithParameterKMSKey(keyID string) SSMOption {
	return func(s *SSMSink) {
		s.kmsKeyID = keyID
	}
}

// NewSSMSink creates the sink. name may contain {account} and {user}.
func NewSSMSink(cfg aws.Config, name string, opts ...SSMOption) *SSMSink {
	if name == "" {
		name = DefaultParameterName
	}
	s := &SSMSink{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = ssm.NewFromConfig(cfg)
	}
	return s
}

// Name implements Named
func (s *SSMSink) Name() string {
	return "ssm:" + s.name
}

// Persist implements rotation.ProfileSink
func (s *SSMSink) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	doc, err := encodeDocument(identity, cred)
	if err != nil {
		return err
	}
	name := expandName(s.name, identity)

	input := &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(doc),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if s.kmsKeyID != "" {
		input.KeyId = aws.String(s.kmsKeyID)
	}
	if _, err := s.client.PutParameter(ctx, input); err != nil {
		return fmt.Errorf("put parameter %s: %w", name, err)
	}
	return nil
}
