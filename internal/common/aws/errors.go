package aws

import (
	"context"
	stderrors "errors"

	"notification-workers/internal/common/errors"

	"github.com/aws/smithy-go"
)

var throttlingCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
}

// Classify maps an AWS SDK error onto the delivery error taxonomy.
// Throttling is rate limited, server faults are transient and client faults
// are provider rejections.
func Classify(service string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError(service, err)
	}

	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return errors.NewTransientError(service, err)
	}
	if throttlingCodes[apiErr.ErrorCode()] {
		return errors.NewRateLimitError(service, 0).WithCause(err)
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return errors.NewTransientError(service, err)
	}
	return errors.NewProviderRejectedError(service, 0, apiErr.ErrorCode()+": "+apiErr.ErrorMessage()).WithCause(err)
}
