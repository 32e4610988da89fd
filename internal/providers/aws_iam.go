package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/credential"
)

// IAMClientAPI defines the IAM access key operations used by IAMStore
// This allows for mocking in tests
type IAMClientAPI interface {
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
}

// IAMStore implements rotation.CredentialStore on IAM access keys
type IAMStore struct {
	client   IAMClientAPI
	endpoint string // Optional custom endpoint for LocalStack or testing
}

// IAMOption is a functional option for configuring IAMStore
type IAMOption func(*IAMStore)

// WithIAMClient sets a custom IAM client (for testing)
func WithIAMClient(client IAMClientAPI) IAMOption {
	return func(s *IAMStore) {
		s.client = client
	}
}

// WithIAMEndpoint points the IAM client at a custom endpoint
func WithIAMEndpoint(endpoint string) IAMOption {
	return func(s *IAMStore) {
		s.endpoint = endpoint
	}
}

// NewIAMStore creates an IAM backed credential store from an AWS config
func NewIAMStore(cfg aws.Config, opts ...IAMOption) *IAMStore {
	s := &IAMStore{}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var clientOpts []func(*iam.Options)
		if s.endpoint != "" {
			endpoint := s.endpoint
			clientOpts = append(clientOpts, func(o *iam.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = iam.NewFromConfig(cfg, clientOpts...)
	}
	return s
}

// List returns every access key of the user, following pagination
func (s *IAMStore) List(ctx context.Context, identity credential.Identity) (credential.Set, error) {
	input := &iam.ListAccessKeysInput{
		UserName: aws.String(identity.UserName),
	}

	set := credential.Set{}
	paginator := iam.NewListAccessKeysPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapAWSError("iam", "list", identity.UserName, err)
		}
		for _, md := range page.AccessKeyMetadata {
			cred, err := fromMetadata(md)
			if err != nil {
				return nil, err
			}
			set = append(set, cred)
		}
	}
	return set, nil
}

// Create issues a new access key; the returned credential carries the secret
func (s *IAMStore) Create(ctx context.Context, identity credential.Identity) (credential.Credential, error) {
	out, err := s.client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{
		UserName: aws.String(identity.UserName),
	})
	if err != nil {
		return credential.Credential{}, wrapAWSError("iam", "create", identity.UserName, err)
	}
	if out.AccessKey == nil {
		return credential.Credential{}, fmt.Errorf("iam create returned no access key for user %s", identity.UserName)
	}

	key := out.AccessKey
	status, err := credential.ParseStatus(string(key.Status))
	if err != nil {
		return credential.Credential{}, err
	}
	return credential.Credential{
		ID:        aws.ToString(key.AccessKeyId),
		Secret:    logging.Secret(aws.ToString(key.SecretAccessKey)),
		Status:    status,
		CreatedAt: createdAt(key.CreateDate),
	}, nil
}

// SetStatus activates or deactivates one access key
func (s *IAMStore) SetStatus(ctx context.Context, identity credential.Identity, id string, status credential.Status) error {
	var st types.StatusType
	switch status {
	case credential.StatusActive:
		st = types.StatusTypeActive
	case credential.StatusInactive:
		st = types.StatusTypeInactive
	default:
		return fmt.Errorf("%w: %d", credential.ErrUnknownStatus, int(status))
	}

	_, err := s.client.UpdateAccessKey(ctx, &iam.UpdateAccessKeyInput{
		AccessKeyId: aws.String(id),
		Status:      st,
		UserName:    aws.String(identity.UserName),
	})
	return wrapAWSError("iam", "update", identity.UserName, err)
}

// Delete removes one access key
func (s *IAMStore) Delete(ctx context.Context, identity credential.Identity, id string) error {
	_, err := s.client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		AccessKeyId: aws.String(id),
		UserName:    aws.String(identity.UserName),
	})
	return wrapAWSError("iam", "delete", identity.UserName, err)
}

func fromMetadata(md types.AccessKeyMetadata) (credential.Credential, error) {
	status, err := credential.ParseStatus(string(md.Status))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("access key %s: %w", aws.ToString(md.AccessKeyId), err)
	}
	return credential.Credential{
		ID:        aws.ToString(md.AccessKeyId),
		Status:    status,
		CreatedAt: createdAt(md.CreateDate),
	}, nil
}

func createdAt(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
