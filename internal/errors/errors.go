// Package errors defines the pipeline's error taxonomy. Every error raised by
// a pipeline step wraps exactly one of these sentinels so callers can report
// the failing category without inspecting AWS error types themselves.
package errors

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	ErrMalformedReference   = errors.New("malformed git reference")
	ErrAuthentication       = errors.New("authentication rejected")
	ErrTransfer             = errors.New("transfer failed")
	ErrNotFound             = errors.New("not found")
	ErrDependencyResolution = errors.New("dependency resolution failed")
	ErrFunctionNotFound     = errors.New("function not found")
	ErrBuild                = errors.New("build failed")
)

// Is reports whether any error in err's chain matches target.
// Re-exported so callers don't need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// authCodes are the AWS API error codes that indicate rejected or expired
// credentials rather than a fault with the request itself.
var authCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidAccessKeyId":          true,
	"InvalidClientTokenId":        true,
	"MissingAuthenticationToken":  true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
}

// ClassifyAWS maps an AWS SDK error onto the pipeline taxonomy. Credential
// rejections become ErrAuthentication, missing buckets/objects become
// ErrNotFound, Lambda's ResourceNotFoundException becomes ErrFunctionNotFound,
// and everything else is an ErrTransfer.
func ClassifyAWS(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authCodes[code]:
			return fmt.Errorf("%w: %s: %s", ErrAuthentication, code, apiErr.ErrorMessage())
		case code == "NoSuchBucket" || code == "NoSuchKey" || code == "NotFound":
			return fmt.Errorf("%w: %s: %s", ErrNotFound, code, apiErr.ErrorMessage())
		case code == "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", ErrFunctionNotFound, apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: %s: %s", ErrTransfer, code, apiErr.ErrorMessage())
	}

	return fmt.Errorf("%w: %v", ErrTransfer, err)
}
