package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultMaxConcurrency = 8

// S3Options mirrors the storage options accepted under
// trainer.remote_storage.options for s3:// paths.
type S3Options struct {
	Key            string         `mapstructure:"key"`
	Secret         string         `mapstructure:"secret"`
	Token          string         `mapstructure:"token"`
	EndpointURL    string         `mapstructure:"endpoint_url"`
	Region         string         `mapstructure:"region"`
	Anon           bool           `mapstructure:"anon"`
	ClientKwargs   S3ClientKwargs `mapstructure:"client_kwargs"`
	MaxConcurrency int            `mapstructure:"max_concurrency"`
}

type S3ClientKwargs struct {
	EndpointURL string `mapstructure:"endpoint_url"`
	RegionName  string `mapstructure:"region_name"`
}

func (o S3Options) endpoint() string {
	if o.EndpointURL != "" {
		return o.EndpointURL
	}
	return o.ClientKwargs.EndpointURL
}

func (o S3Options) region() string {
	if o.Region != "" {
		return o.Region
	}
	return o.ClientKwargs.RegionName
}

func (o S3Options) concurrency() int {
	if o.MaxConcurrency > 0 {
		return o.MaxConcurrency
	}
	return defaultMaxConcurrency
}

func createS3Config(ctx context.Context, s3Endpoint, s3Region string, creds aws.CredentialsProvider) (aws.Config, error) {
	opts := []func(*aws_config.LoadOptions) error{}

	if s3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) { // nolint:staticcheck
			return aws.Endpoint{ // nolint:staticcheck
				PartitionID:       "aws",
				URL:               s3Endpoint,
				SigningRegion:     s3Region,
				HostnameImmutable: true, // Important for MinIO
			}, nil
		})

		opts = append(opts, aws_config.WithEndpointResolverWithOptions(resolver)) // nolint:staticcheck
	}

	if s3Region != "" {
		opts = append(opts, aws_config.WithRegion(s3Region))
	}

	if creds != nil {
		opts = append(opts, aws_config.WithCredentialsProvider(creds))
	}

	return aws_config.LoadDefaultConfig(ctx, opts...)
}

func initializeS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var creds aws.CredentialsProvider
	switch {
	case opts.Anon:
		creds = aws.AnonymousCredentials{}
	case opts.Key != "" && opts.Secret != "":
		creds = credentials.NewStaticCredentialsProvider(opts.Key, opts.Secret, opts.Token)
	}

	region := opts.region()
	if region == "" && opts.endpoint() != "" {
		// Custom endpoints (MinIO) still need a signing region.
		region = "us-east-1"
	}

	awsCfg, err := createS3Config(ctx, opts.endpoint(), region, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	// Public buckets are readable without credentials, so fall back to anonymous
	// access when none can be found in the environment.
	if creds == nil {
		if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
			awsCfg, err = createS3Config(ctx, opts.endpoint(), region, aws.AnonymousCredentials{})
			if err != nil {
				return nil, fmt.Errorf("failed to create aws config with anonymous credentials: %w", err)
			}
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return client, nil
}
