package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/helpinghands/auth-service/internal/util/logger"
)

// SecretsManagerClient is the slice of the AWS Secrets Manager API this
// loader uses.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsLoader resolves aws-secrets:// config references.
type AWSSecretsLoader struct {
	client SecretsManagerClient
}

// NewAWSSecretsLoader builds a loader from the default AWS credential chain.
func NewAWSSecretsLoader(ctx context.Context) (*AWSSecretsLoader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &AWSSecretsLoader{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// GetSecret retrieves one secret string by name or ARN.
func (l *AWSSecretsLoader) GetSecret(name string) (string, error) {
	out, err := l.client.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		logger.Errorf("secrets: get secret %s: %v", name, err)
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}
	return *out.SecretString, nil
}
