package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// STSClientAPI defines the STS operations used by STSResolver
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IdentityResolver resolves the principal behind a session
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context) (credential.Identity, error)
}

// STSResolver resolves the IAM user a session authenticates as
type STSResolver struct {
	client   STSClientAPI
	endpoint string
}

// STSOption is a functional option for configuring STSResolver
type STSOption func(*STSResolver)

// WithSTSClient sets a custom STS client (for testing)
func WithSTSClient(client STSClientAPI) STSOption {
	return func(r *STSResolver) {
		r.client = client
	}
}

// WithSTSEndpoint points the STS client at a custom endpoint
func WithSTSEndpoint(endpoint string) STSOption {
	return func(r *STSResolver) {
		r.endpoint = endpoint
	}
}

// NewSTSResolver creates a resolver from an AWS config
func NewSTSResolver(cfg aws.Config, opts ...STSOption) *STSResolver {
	r := &STSResolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		var clientOpts []func(*sts.Options)
		if r.endpoint != "" {
			endpoint := r.endpoint
			clientOpts = append(clientOpts, func(o *sts.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		r.client = sts.NewFromConfig(cfg, clientOpts...)
	}
	return r
}

// ResolveIdentity calls GetCallerIdentity and extracts the account and user
// name. Sessions that are not IAM users fail with a configuration error.
func (r *STSResolver) ResolveIdentity(ctx context.Context) (credential.Identity, error) {
	out, err := r.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return credential.Identity{}, wrapAWSError("sts", "identity", "", err)
	}

	callerARN := aws.ToString(out.Arn)
	account, user, err := ParseUserARN(callerARN)
	if err != nil {
		return credential.Identity{}, err
	}
	if acct := aws.ToString(out.Account); acct != "" && acct != account {
		return credential.Identity{}, fmt.Errorf("%w: caller account %s does not match ARN %s",
			rotation.ErrConfiguration, acct, callerARN)
	}

	identity := credential.Identity{
		AccountID: account,
		UserName:  user,
		ARN:       callerARN,
	}
	if err := identity.Validate(); err != nil {
		return credential.Identity{}, fmt.Errorf("%w: %w", rotation.ErrConfiguration, err)
	}
	return identity, nil
}

// ParseUserARN returns the account id and user name of an IAM user ARN such as
// arn:aws:iam::123456789012:user/division/deploy. The user name is the last
// path segment.
func ParseUserARN(raw string) (account, user string, err error) {
	parsed, err := arn.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid caller ARN %q: %v", rotation.ErrConfiguration, raw, err)
	}
	if parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "user/") {
		return "", "", fmt.Errorf("%w: caller %s is not an IAM user; access keys can only be rotated for users",
			rotation.ErrConfiguration, raw)
	}

	path := strings.TrimPrefix(parsed.Resource, "user/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: caller ARN %s has no user name", rotation.ErrConfiguration, raw)
	}
	return parsed.AccountID, path, nil
}
