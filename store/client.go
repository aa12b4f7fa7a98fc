package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Client is the subset of the DynamoDB API collections depend on.
// *dynamodb.Client satisfies it; tests substitute an in-memory double.
type Client interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// ClientConfig configures NewClient.
type ClientConfig struct {
	// Region overrides the region from the environment or shared config.
	Region string

	// Profile selects a shared config profile.
	Profile string

	// Endpoint overrides the service endpoint, e.g. "http://localhost:8000"
	// for DynamoDB Local.
	Endpoint string

	// AccessKeyID and SecretAccessKey set static credentials. DynamoDB Local
	// accepts any non-empty pair.
	AccessKeyID     string
	SecretAccessKey string

	// MaxAttempts caps the SDK's retryer, including the first attempt.
	// Zero keeps the SDK default.
	MaxAttempts int
}

// NewClient builds a DynamoDB client from the default AWS configuration chain.
func NewClient(ctx context.Context, cc ClientConfig) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cc.Region != "" {
		opts = append(opts, config.WithRegion(cc.Region))
	}
	if cc.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cc.Profile))
	}
	if cc.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKeyID, cc.SecretAccessKey, ""),
		))
	}
	if cc.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cc.MaxAttempts))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
	}), nil
}

// throttleCodes are API error codes DynamoDB returns for transient overload.
var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
}

// mapError translates SDK errors into package errors.
// missingTable is returned (wrapped) when the table doesn't exist; it differs
// between table lifecycle calls and item calls.
func mapError(err error, missingTable error) error {
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", missingTable, notFound.ErrorMessage())
	}

	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return fmt.Errorf("%w: %s", ErrTableExists, inUse.ErrorMessage())
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrConditionFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "ValidationException" {
			return fmt.Errorf("%w: %s", ErrSchema, apiErr.ErrorMessage())
		}
		if throttleCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	// No API response at all: connection refused, DNS, TLS, retries exhausted.
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
