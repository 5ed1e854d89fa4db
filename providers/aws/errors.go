package aws

import (
	"errors"

	"github.com/aws/smithy-go"

	"github.com/updraft-io/updraft/internal/cloud"
)

// retryableCodes are API error codes that resolve on their own.
var retryableCodes = map[string]bool{
	"TooManyRequestsException":    true,
	"ThrottlingException":         true,
	"Throttling":                  true,
	"RequestLimitExceeded":        true,
	"ServiceUnavailableException": true,
	"ServiceUnavailable":          true,
	"ServiceException":            true,
	"InternalFailure":             true,
	"InternalServerError":         true,
	"RequestTimeout":              true,
	"RequestTimeoutException":     true,
	"EC2ThrottledException":       true,
}

// classify wraps an SDK error with its transiency. Server faults and
// throttling retry; client faults do not. Errors that never reached the
// API (network, DNS) are retryable because every call here is an
// idempotent upsert.
func classify(op, resource string, err error) error {
	if err == nil {
		return nil
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		if retryableCodes[ae.ErrorCode()] || ae.ErrorFault() == smithy.FaultServer {
			return cloud.NewTransient(op, resource, err)
		}
		return cloud.NewPermanent(op, resource, err)
	}

	return cloud.NewTransient(op, resource, err)
}

// isNotFound reports whether err is a missing-resource API error.
func isNotFound(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ResourceNotFoundException", "NotFoundException", "NoSuchEntity", "NotFound":
			return true
		}
	}
	return false
}

// isConflict reports whether err is a resource-conflict API error.
func isConflict(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ResourceConflictException", "ConflictException":
			return true
		}
	}
	return false
}
