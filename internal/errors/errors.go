package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/keyrotate/pkg/rotation"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Is lets errors.Is(err, rotation.ErrConfiguration) match configuration errors
func (e ConfigError) Is(target error) bool {
	return target == rotation.ErrConfiguration
}

// ProviderError enhances AWS errors with context
func ProviderError(service string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s error during %s", service, operation),
		Suggestion: getProviderSuggestion(service, err),
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on service and error
func getProviderSuggestion(service string, err error) string {
	errStr := err.Error()

	switch service {
	case "iam":
		if strings.Contains(errStr, "AccessDenied") {
			return "Allow iam:ListAccessKeys, iam:CreateAccessKey, iam:UpdateAccessKey and iam:DeleteAccessKey on arn:aws:iam::*:user/${aws:username}"
		}
		if strings.Contains(errStr, "LimitExceeded") {
			return "The user already has two access keys. Run 'keyrotate cleanup' or 'keyrotate delete --id <key>'"
		}
		if strings.Contains(errStr, "NoSuchEntity") {
			return "Verify the user and access key exist. List them with: 'aws iam list-access-keys'"
		}

	case "sts":
		if strings.Contains(errStr, "ExpiredToken") {
			return "The session token has expired. Refresh your credentials and try again"
		}
		if strings.Contains(errStr, "InvalidClientTokenId") || strings.Contains(errStr, "SignatureDoesNotMatch") {
			return "The access key is invalid or deleted. Check the profile with 'aws sts get-caller-identity'"
		}
		if strings.Contains(errStr, "not an IAM user") {
			return "Access keys belong to IAM users. Run keyrotate with a user's credentials, not a role"
		}

	case "kms":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check kms:Encrypt and kms:Decrypt permissions on the key"
		}
		if strings.Contains(errStr, "NotFoundException") || strings.Contains(errStr, "failed to open keeper") {
			return "Verify the key id or alias and region. List keys with: 'aws kms list-aliases'"
		}
		if strings.Contains(errStr, "InvalidCiphertext") {
			return "The payload was encrypted with a different key"
		}

	case "secretsmanager":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:PutSecretValue and secretsmanager:CreateSecret"
		}

	case "ssm":
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for ssm:PutParameter"
		}

	case "keyring":
		if strings.Contains(errStr, "secret service") || strings.Contains(errStr, "dbus") {
			return "No keyring daemon is reachable. Start gnome-keyring or use a different sink"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "ThrottlingException") || strings.Contains(errStr, "Throttling") {
		return "AWS rate limit exceeded. Wait a moment and try again"
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and endpoint configuration"
	}

	return ""
}

// suggestions per rotation error kind
var kindSuggestions = []struct {
	kind       error
	suggestion string
}{
	{rotation.ErrAuthorization, "Refresh the credentials keyrotate runs with, then try again"},
	{rotation.ErrLimitExceeded, "Remove the extra access keys in the IAM console, then run 'keyrotate evaluate'"},
	{rotation.ErrNoCredential, "Create an access key for the user or reactivate one in the IAM console"},
	{rotation.ErrAmbiguousState, "Run 'keyrotate evaluate' again to finish the rotation"},
	{rotation.ErrPartialRotation, "Save the new credential shown above, then run 'keyrotate evaluate' again"},
	{rotation.ErrTransientProvider, "Run 'keyrotate evaluate' again"},
	{rotation.ErrConfiguration, "Check keyrotate.yaml and the identity keyrotate runs as"},
}

// RotationError explains a rotation failure to the user
func RotationError(reason string, err error) error {
	if err == nil {
		return nil
	}
	ue := UserError{Message: reason, Err: err}
	if reason == "" {
		ue.Message = err.Error()
	} else {
		ue.Details = err.Error()
	}
	for _, ks := range kindSuggestions {
		if errors.Is(err, ks.kind) {
			ue.Suggestion = ks.suggestion
			break
		}
	}
	return ue
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if rotation.Retryable(err) {
		return true
	}
	if rotation.KindName(err) != "unknown" {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var ue UserError
	if errors.As(err, &ue) {
		return err
	}
	var ce ConfigError
	if errors.As(err, &ce) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
