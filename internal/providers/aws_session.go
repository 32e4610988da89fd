package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// SessionConfig holds the AWS settings shared by every session
type SessionConfig struct {
	Region   string
	Profile  string
	Endpoint string // Optional custom endpoint for LocalStack or testing
}

// StaticKeys is an access key pair supplied by a caller
type StaticKeys struct {
	AccessKeyID     string
	SecretAccessKey logging.Secret
	SessionToken    logging.Secret
}

// Valid reports whether both halves of the key pair are present
func (k StaticKeys) Valid() bool {
	return k.AccessKeyID != "" && k.SecretAccessKey != ""
}

// Session bundles the collaborators needed to rotate one identity's keys
type Session struct {
	Config   aws.Config
	Store    rotation.CredentialStore
	Resolver IdentityResolver
}

// LoadAWSConfig builds an aws.Config. With keys the session authenticates as
// that key pair; without keys the default credential chain applies.
func LoadAWSConfig(ctx context.Context, cfg SessionConfig, keys *StaticKeys) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	region := cfg.Region
	if region == "" {
		region = "us-east-1" // IAM is a global service
	}
	configOpts = append(configOpts, awsconfig.WithRegion(region))

	if keys != nil {
		if !keys.Valid() {
			return aws.Config{}, fmt.Errorf("%w: access key id and secret access key are required", rotation.ErrConfiguration)
		}
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keys.AccessKeyID, keys.SecretAccessKey.Reveal(), keys.SessionToken.Reveal()),
		))
	} else if cfg.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// AWSSessionFactory creates sessions against IAM and STS
type AWSSessionFactory struct {
	config    SessionConfig
	iamClient IAMClientAPI
	stsClient STSClientAPI
}

// SessionFactoryOption configures an AWSSessionFactory
type SessionFactoryOption func(*AWSSessionFactory)

// WithSessionClients makes every session use the given SDK clients (for testing)
func WithSessionClients(iamClient IAMClientAPI, stsClient STSClientAPI) SessionFactoryOption {
	return func(f *AWSSessionFactory) {
		f.iamClient = iamClient
		f.stsClient = stsClient
	}
}

// NewAWSSessionFactory creates a session factory
func NewAWSSessionFactory(cfg SessionConfig, opts ...SessionFactoryOption) *AWSSessionFactory {
	f := &AWSSessionFactory{config: cfg}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewSession loads an AWS config for keys (nil for the default chain) and
// wires an IAM store and STS resolver on it.
func (f *AWSSessionFactory) NewSession(ctx context.Context, keys *StaticKeys) (*Session, error) {
	awsCfg, err := LoadAWSConfig(ctx, f.config, keys)
	if err != nil {
		return nil, err
	}

	iamOpts := []IAMOption{WithIAMEndpoint(f.config.Endpoint)}
	stsOpts := []STSOption{WithSTSEndpoint(f.config.Endpoint)}
	if f.iamClient != nil {
		iamOpts = append(iamOpts, WithIAMClient(f.iamClient))
	}
	if f.stsClient != nil {
		stsOpts = append(stsOpts, WithSTSClient(f.stsClient))
	}

	return &Session{
		Config:   awsCfg,
		Store:    NewIAMStore(awsCfg, iamOpts...),
		Resolver: NewSTSResolver(awsCfg, stsOpts...),
	}, nil
}
