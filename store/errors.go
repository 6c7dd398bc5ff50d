package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrAlreadyExists is returned by Create under onlyIfAbsent when the
	// primary key is already present. Callers swallow it and proceed with
	// the existing record.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotFound is returned by Get when no record has the given id.
	ErrNotFound = errors.New("record not found")
	// ErrThrottled marks a transient, retriable backing-store error.
	ErrThrottled = errors.New("record store throttled")
)

// classify maps a DynamoDB error onto the store's error taxonomy. Errors
// outside the taxonomy pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return fmt.Errorf("%s: %w", op, ErrThrottled)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException", "RequestLimitExceeded":
			return fmt.Errorf("%s: %w", op, ErrThrottled)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
