package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig configures the AWS Secrets Manager provider.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	// Endpoint points the client at LocalStack or a VPC endpoint.
	Endpoint string
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type awsProvider struct {
	client secretsManagerAPI
}

func newAWSProvider(ctx context.Context, cfg AWSConfig) (provider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("secrets: aws provider requires region")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.NewCredentialsCache(static)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &awsProvider{client: client}, nil
}

func (a *awsProvider) Name() ProviderType {
	return ProviderAWS
}

func (a *awsProvider) Close() error {
	return nil
}

// Fetch reads the secret at ref.Path. A version such as AWSCURRENT or
// AWSPREVIOUS selects a staging label; anything else is a version id.
func (a *awsProvider) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	}
	switch {
	case ref.Version == "":
	case strings.HasPrefix(ref.Version, "AWS"):
		input.VersionStage = aws.String(ref.Version)
	default:
		input.VersionId = aws.String(ref.Version)
	}

	out, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: aws fetch failed for %s: %w", ref.Path, err)
	}

	var data map[string]string
	switch {
	case out.SecretString != nil:
		data = decodePayload([]byte(*out.SecretString))
	case out.SecretBinary != nil:
		data = map[string]string{"binary": base64.StdEncoding.EncodeToString(out.SecretBinary)}
	default:
		data = map[string]string{}
	}

	metadata := Metadata{Version: aws.ToString(out.VersionId)}
	if out.CreatedDate != nil {
		metadata.CreatedAt = out.CreatedDate.UTC()
	}
	return Secret{Data: data, Metadata: metadata}, nil
}
