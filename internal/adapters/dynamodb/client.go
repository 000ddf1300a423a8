package dynamodb

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

const defaultRegion = "us-east-1"

// DynamoDBAPI is the subset of the DynamoDB client used by the adapters.
// *dynamodb.Client satisfies it.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error)
	GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error)
}

type ClientOptions struct {
	Region string
	// Endpoint overrides the service endpoint (e.g. http://localhost:4566 for LocalStack).
	Endpoint string
}

// NewClient loads the default AWS credential chain and returns a DynamoDB client.
func NewClient(ctx context.Context, opts ClientOptions) (*dyn.Client, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dyn.NewFromConfig(cfg, func(o *dyn.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = sdkaws.String(opts.Endpoint)
		}
	}), nil
}
