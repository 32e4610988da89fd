package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/systmms/keyrotate/pkg/rotation"
)

// AWSError wraps an AWS API error with the operation that produced it and
// the rotation error kind it maps to.
type AWSError struct {
	Service  string // "iam" or "sts"
	Op       string // Operation: "list", "create", "update", "delete", "identity"
	UserName string
	Code     string // AWS error code when the SDK provided one
	Kind     error
	Err      error
}

func (e *AWSError) Error() string {
	target := e.Service
	if e.UserName != "" {
		target = fmt.Sprintf("%s user %s", e.Service, e.UserName)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s error for %s (%s): %v", e.Service, e.Op, target, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s error for %s: %v", e.Service, e.Op, target, e.Err)
}

// Unwrap exposes both the error kind and the SDK error.
func (e *AWSError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Error codes that mean the session itself cannot be used
var authorizationCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
	"InvalidAccessKeyId":          true,
}

func wrapAWSError(service, op, userName string, err error) error {
	if err == nil {
		return nil
	}
	code, kind := classifyAWSError(err)
	return &AWSError{
		Service:  service,
		Op:       op,
		UserName: userName,
		Code:     code,
		Kind:     kind,
		Err:      err,
	}
}

// classifyAWSError maps an SDK error to its code and rotation error kind.
func classifyAWSError(err error) (string, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", rotation.ErrTransientProvider
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", rotation.ErrTransientProvider
	}

	code := apiErr.ErrorCode()
	switch {
	case authorizationCodes[code]:
		return code, rotation.ErrAuthorization
	case code == "LimitExceeded":
		return code, rotation.ErrLimitExceeded
	case code == "NoSuchEntity":
		return code, rotation.ErrConfiguration
	default:
		return code, rotation.ErrTransientProvider
	}
}

// IsAuthorizationError reports whether err means the session is invalid or
// lacks permission.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, rotation.ErrAuthorization)
}
