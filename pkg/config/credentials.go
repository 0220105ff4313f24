package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StorageProvider is an S3-compatible service that can hold sync reports
type StorageProvider string

const (
	ProviderAWS    StorageProvider = "aws"
	ProviderMinIO  StorageProvider = "minio"
	ProviderCustom StorageProvider = "custom"
)

// StorageCredentials holds credentials for the report archive bucket
type StorageCredentials struct {
	Provider        StorageProvider
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string // Optional, mainly for AWS STS
	Region          string
	EndpointURL     string
	ForcePathStyle  bool // Required for MinIO and most custom endpoints
}

// StorageCredentials returns the report archive credentials of c with
// provider defaults applied
func (c *Config) StorageCredentials() *StorageCredentials {
	creds := &StorageCredentials{
		Provider:        StorageProvider(c.ReportProvider),
		AccessKeyID:     c.ReportAccessKeyID,
		SecretAccessKey: c.ReportSecretAccessKey,
		Region:          c.ReportRegion,
		EndpointURL:     c.ReportEndpoint,
		ForcePathStyle:  c.ReportPathStyle,
	}
	applyProviderDefaults(creds)
	return creds
}

func applyProviderDefaults(creds *StorageCredentials) {
	if creds.Region == "" {
		creds.Region = "us-east-1"
	}
	switch creds.Provider {
	case ProviderMinIO:
		creds.ForcePathStyle = true
		if creds.EndpointURL == "" {
			creds.EndpointURL = "http://localhost:9000"
		}
	case ProviderCustom:
		creds.ForcePathStyle = true
	}
}

// LoadAWSConfig loads credentials from multiple sources in order of priority:
// 1. Explicit credentials provided
// 2. Environment variables
// 3. AWS credentials file (~/.aws/credentials)
// 4. IAM role (for EC2/ECS/Lambda)
func LoadAWSConfig(ctx context.Context, creds *StorageCredentials) (aws.Config, error) {
	if creds != nil && creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		return loadFromExplicitCredentials(ctx, creds)
	}

	if envCreds := loadFromEnvironment(creds); envCreds != nil {
		return loadFromExplicitCredentials(ctx, envCreds)
	}

	return loadFromDefaultChain(ctx, creds)
}

func loadFromExplicitCredentials(ctx context.Context, creds *StorageCredentials) (aws.Config, error) {
	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}

	staticProvider := credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID,
		creds.SecretAccessKey,
		creds.SessionToken,
	)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(staticProvider),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load credentials: %w", err)
	}

	return cfg, nil
}

// loadFromEnvironment reads the standard AWS variables, keeping the
// configured region of base when set
func loadFromEnvironment(base *StorageCredentials) *StorageCredentials {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil
	}

	creds := &StorageCredentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Region:          os.Getenv("AWS_REGION"),
	}
	if base != nil && base.Region != "" {
		creds.Region = base.Region
	}
	return creds
}

func loadFromDefaultChain(ctx context.Context, creds *StorageCredentials) (aws.Config, error) {
	region := "us-east-1"
	if envRegion := os.Getenv("AWS_REGION"); envRegion != "" {
		region = envRegion
	}
	if creds != nil && creds.Region != "" {
		region = creds.Region
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load default credentials: %w", err)
	}

	return cfg, nil
}

// NewS3Client builds the client used by the report archive
func NewS3Client(ctx context.Context, creds *StorageCredentials) (*s3.Client, error) {
	cfg, err := LoadAWSConfig(ctx, creds)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, s3Options(creds)...), nil
}

func s3Options(creds *StorageCredentials) []func(*s3.Options) {
	if creds == nil {
		return nil
	}
	var opts []func(*s3.Options)
	if creds.EndpointURL != "" {
		endpoint := creds.EndpointURL
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			// S3-compatible services answer wrong-region requests with 301s
			o.HTTPClient = &http.Client{
				Timeout: 30 * time.Second,
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
		})
	}
	if creds.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return opts
}

// CredentialsSource describes where report archive credentials came from
func CredentialsSource(creds *StorageCredentials) string {
	if creds != nil && creds.AccessKeyID != "" {
		return "configuration"
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		return "environment variables"
	}

	home, err := os.UserHomeDir()
	if err == nil {
		if _, err := os.Stat(home + "/.aws/credentials"); err == nil {
			return "credentials file (~/.aws/credentials)"
		}
	}

	if os.Getenv("AWS_EXECUTION_ENV") != "" || os.Getenv("AWS_CONTAINER_CREDENTIALS_RELATIVE_URI") != "" {
		return "IAM role (container/lambda)"
	}

	return "unknown (possibly IAM role)"
}
