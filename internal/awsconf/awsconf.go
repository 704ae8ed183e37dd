// Package awsconf builds the aws.Config shared by the S3 and SQS clients.
package awsconf

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Options selects region and credentials. When AccessKeyID is empty the
// default credential chain is used (environment, shared profile, instance
// role).
type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxRetries      int
}

// Load resolves an aws.Config from opts.
func Load(ctx context.Context, opts Options) (aws.Config, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error

	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}
	if opts.MaxRetries > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(opts.MaxRetries))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
