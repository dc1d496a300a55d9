package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog"
)

// SecretValueGetter is the subset of the AWS Secrets Manager client used here.
type SecretValueGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager reads secrets named "<environment>/<name>".
// Credentials come from the runtime (task role, instance profile).
type AWSSecretsManager struct {
	client      SecretValueGetter
	environment string
	logger      zerolog.Logger
}

// NewAWSSecretsManager loads the default AWS configuration for region.
func NewAWSSecretsManager(ctx context.Context, region, environment string, logger zerolog.Logger) (*AWSSecretsManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg), environment, logger), nil
}

// NewAWSSecretsManagerWithClient uses an injected client.
func NewAWSSecretsManagerWithClient(client SecretValueGetter, environment string, logger zerolog.Logger) *AWSSecretsManager {
	return &AWSSecretsManager{
		client:      client,
		environment: environment,
		logger:      logger.With().Str("component", "AWSSecretsManager").Logger(),
	}
}

// GetSecret implements Getter.
func (a *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	fullName := fmt.Sprintf("%s/%s", a.environment, name)
	a.logger.Debug().Str("secret", fullName).Msg("Retrieving secret from AWS Secrets Manager")

	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(fullName)})
	if err != nil {
		a.logger.Error().Err(err).Str("secret", fullName).Msg("Error retrieving secret")
		return "", fmt.Errorf("get secret %q: %w", fullName, err)
	}
	if out == nil || aws.ToString(out.SecretString) == "" {
		return "", ErrSecretNotFound{Name: fullName}
	}
	return aws.ToString(out.SecretString), nil
}
