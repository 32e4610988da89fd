package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// APIError builds an AWS API error with the given code, as the SDK returns it
func APIError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message, Fault: smithy.FaultClient}
}

// FakeAccessKey is one access key held by FakeIAMClient
type FakeAccessKey struct {
	ID        string
	Secret    string
	Status    iamtypes.StatusType
	CreatedAt time.Time
}

// FakeIAMClient is a mock implementation of the IAM access key API.
// It enforces the two keys per user quota.
type FakeIAMClient struct {
	mu   sync.Mutex
	keys map[string][]FakeAccessKey
	seq  int

	// Errors maps operation names ("ListAccessKeys", "CreateAccessKey",
	// "UpdateAccessKey", "DeleteAccessKey") to errors to return
	Errors map[string]error
	// PageSize splits ListAccessKeys into pages when > 0
	PageSize int
	// Now is the creation time source for new keys
	Now func() time.Time
	// Calls records operation names in order
	Calls []string
}

// NewFakeIAMClient creates a new mock IAM client
func NewFakeIAMClient() *FakeIAMClient {
	return &FakeIAMClient{
		keys:   make(map[string][]FakeAccessKey),
		Errors: make(map[string]error),
		Now:    time.Now,
	}
}

// AddAccessKey adds an access key for a user
func (f *FakeIAMClient) AddAccessKey(userName string, key FakeAccessKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[userName] = append(f.keys[userName], key)
}

// AccessKeys returns the keys of a user
func (f *FakeIAMClient) AccessKeys(userName string) []FakeAccessKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeAccessKey, len(f.keys[userName]))
	copy(out, f.keys[userName])
	return out
}

func (f *FakeIAMClient) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op)
	return f.Errors[op]
}

// ListAccessKeys mocks the ListAccessKeys operation. Marker is the index of
// the first key of the page.
func (f *FakeIAMClient) ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	if err := f.enter("ListAccessKeys"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := f.keys[aws.ToString(params.UserName)]
	start := 0
	if params.Marker != nil {
		if _, err := fmt.Sscanf(*params.Marker, "%d", &start); err != nil {
			return nil, APIError("InvalidInput", "bad marker")
		}
	}
	end := len(keys)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &iam.ListAccessKeysOutput{}
	for _, k := range keys[start:end] {
		created := k.CreatedAt
		out.AccessKeyMetadata = append(out.AccessKeyMetadata, iamtypes.AccessKeyMetadata{
			AccessKeyId: aws.String(k.ID),
			Status:      k.Status,
			CreateDate:  &created,
			UserName:    params.UserName,
		})
	}
	if end < len(keys) {
		out.IsTruncated = true
		out.Marker = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

// CreateAccessKey mocks the CreateAccessKey operation
func (f *FakeIAMClient) CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error) {
	if err := f.enter("CreateAccessKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	user := aws.ToString(params.UserName)
	if len(f.keys[user]) >= 2 {
		return nil, APIError("LimitExceeded", "Cannot exceed quota for AccessKeysPerUser: 2")
	}
	f.seq++
	key := FakeAccessKey{
		ID:        fmt.Sprintf("AKIAIAMFAKE%09d", f.seq),
		Secret:    fmt.Sprintf("iam-fake-secret-%d", f.seq),
		Status:    iamtypes.StatusTypeActive,
		CreatedAt: f.Now().UTC(),
	}
	f.keys[user] = append(f.keys[user], key)

	created := key.CreatedAt
	return &iam.CreateAccessKeyOutput{
		AccessKey: &iamtypes.AccessKey{
			AccessKeyId:     aws.String(key.ID),
			SecretAccessKey: aws.String(key.Secret),
			Status:          key.Status,
			CreateDate:      &created,
			UserName:        params.UserName,
		},
	}, nil
}

// UpdateAccessKey mocks the UpdateAccessKey operation
func (f *FakeIAMClient) UpdateAccessKey(ctx context.Context, params *iam.UpdateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.UpdateAccessKeyOutput, error) {
	if err := f.enter("UpdateAccessKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	user := aws.ToString(params.UserName)
	for i, k := range f.keys[user] {
		if k.ID == aws.ToString(params.AccessKeyId) {
			f.keys[user][i].Status = params.Status
			return &iam.UpdateAccessKeyOutput{}, nil
		}
	}
	return nil, APIError("NoSuchEntity", fmt.Sprintf("The Access Key with id %s cannot be found.", aws.ToString(params.AccessKeyId)))
}

// DeleteAccessKey mocks the DeleteAccessKey operation
func (f *FakeIAMClient) DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error) {
	if err := f.enter("DeleteAccessKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	user := aws.ToString(params.UserName)
	for i, k := range f.keys[user] {
		if k.ID == aws.ToString(params.AccessKeyId) {
			f.keys[user] = append(f.keys[user][:i], f.keys[user][i+1:]...)
			return &iam.DeleteAccessKeyOutput{}, nil
		}
	}
	return nil, APIError("NoSuchEntity", fmt.Sprintf("The Access Key with id %s cannot be found.", aws.ToString(params.AccessKeyId)))
}

// FakeSTSClient is a mock implementation of GetCallerIdentity
type FakeSTSClient struct {
	Account string
	Arn     string
	UserID  string
	Err     error
}

// GetCallerIdentity mocks the GetCallerIdentity operation
func (f *FakeSTSClient) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String(f.Arn),
		UserId:  aws.String(f.UserID),
	}, nil
}

// FakeSecretsManagerClient is a mock implementation of the Secrets Manager
// write API
type FakeSecretsManagerClient struct {
	mu sync.Mutex
	// Secrets maps secret names to their current string value
	Secrets map[string]string
	// Versions counts writes per secret
	Versions map[string]int
	// Errors maps secret names to errors to return
	Errors map[string]error
	// KmsKeyIDs records the key used when a secret was created
	KmsKeyIDs map[string]string
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets:   make(map[string]string),
		Versions:  make(map[string]int),
		Errors:    make(map[string]error),
		KmsKeyIDs: make(map[string]string),
	}
}

// AddSecretString adds a string secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[name] = value
	f.Versions[name] = 1
}

// SecretString returns the current value of a secret
func (f *FakeSecretsManagerClient) SecretString(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Secrets[name]
	return v, ok
}

// PutSecretValue mocks the PutSecretValue operation
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; !exists {
		return nil, &smtypes.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	f.Versions[name]++
	return &secretsmanager.PutSecretValueOutput{
		Name:      params.SecretId,
		VersionId: aws.String(fmt.Sprintf("v%d", f.Versions[name])),
	}, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, &smtypes.ResourceExistsException{Message: aws.String("secret already exists")}
	}
	f.Secrets[name] = aws.ToString(params.SecretString)
	f.Versions[name] = 1
	f.KmsKeyIDs[name] = aws.ToString(params.KmsKeyId)
	return &secretsmanager.CreateSecretOutput{
		Name:      params.Name,
		VersionId: aws.String("v1"),
	}, nil
}

// FakeSSMClient is a mock implementation of the SSM Parameter Store write API
type FakeSSMClient struct {
	mu sync.Mutex
	// Parameters maps parameter names to their data
	Parameters map[string]*ParameterData
	// Errors maps parameter names to errors to return
	Errors map[string]error
}

// ParameterData holds the data for a mock parameter
type ParameterData struct {
	Value   string
	Type    ssmtypes.ParameterType
	KeyID   string
	Version int64
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]*ParameterData),
		Errors:     make(map[string]error),
	}
}

// Parameter returns a copy of a stored parameter
func (f *FakeSSMClient) Parameter(name string) (ParameterData, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Parameters[name]
	if !ok {
		return ParameterData{}, false
	}
	return *p, true
}

// Names returns the stored parameter names in order
func (f *FakeSSMClient) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Parameters))
	for n := range f.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PutParameter mocks the PutParameter operation
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	existing, exists := f.Parameters[name]
	if exists && !aws.ToBool(params.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{Message: aws.String("parameter already exists")}
	}

	version := int64(1)
	if exists {
		version = existing.Version + 1
	}
	f.Parameters[name] = &ParameterData{
		Value:   aws.ToString(params.Value),
		Type:    params.Type,
		KeyID:   aws.ToString(params.KeyId),
		Version: version,
	}
	return &ssm.PutParameterOutput{Version: version}, nil
}
