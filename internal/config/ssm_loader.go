package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/helpinghands/auth-service/internal/util/logger"
)

// SSMParameterStoreClient is the slice of the AWS SSM API this loader uses.
type SSMParameterStoreClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMLoader resolves ssm:// config references from Parameter Store.
type SSMLoader struct {
	client SSMParameterStoreClient
}

// NewSSMLoader builds a loader from the default AWS credential chain.
func NewSSMLoader(ctx context.Context) (*SSMLoader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SSMLoader{client: ssm.NewFromConfig(cfg)}, nil
}

// GetParameter retrieves one parameter, decrypting SecureString values
// when decrypt is true.
func (l *SSMLoader) GetParameter(name string, decrypt bool) (string, error) {
	out, err := l.client.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		logger.Errorf("ssm: get parameter %s: %v", name, err)
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}
