package secrets

import (
	"context"
	"errors"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// SecretVersionAccessor is the subset of the Secret Manager client used here.
type SecretVersionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GoogleSecretManager reads the latest version of a secret from GCP Secret
// Manager. In GCP the environment is the project id.
type GoogleSecretManager struct {
	client    SecretVersionAccessor
	closer    func() error
	projectID string
	logger    zerolog.Logger
}

// NewGoogleSecretManager creates a getter with its own Secret Manager client.
func NewGoogleSecretManager(ctx context.Context, projectID string, logger zerolog.Logger, opts ...option.ClientOption) (*GoogleSecretManager, error) {
	if projectID == "" {
		return nil, errors.New("project id is required for GCP Secret Manager")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secretmanager.NewClient: %w", err)
	}
	g := NewGoogleSecretManagerWithClient(client, projectID, logger)
	g.closer = client.Close
	return g, nil
}

// NewGoogleSecretManagerWithClient uses an injected client. The caller owns
// the client's lifecycle.
func NewGoogleSecretManagerWithClient(client SecretVersionAccessor, projectID string, logger zerolog.Logger) *GoogleSecretManager {
	return &GoogleSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger.With().Str("component", "GoogleSecretManager").Logger(),
	}
}

// GetSecret implements Getter.
func (g *GoogleSecretManager) GetSecret(ctx context.Context, name string) (string, error) {
	fullName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, name)
	g.logger.Debug().Str("secret", name).Str("project_id", g.projectID).Msg("Retrieving secret from GCP Secret Manager")

	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: fullName})
	if err != nil {
		g.logger.Error().Err(err).Str("secret", name).Msg("Error retrieving secret")
		return "", fmt.Errorf("get secret %q: %w", fullName, err)
	}
	if resp.GetPayload() == nil || len(resp.GetPayload().GetData()) == 0 {
		return "", ErrSecretNotFound{Name: name}
	}
	return string(resp.GetPayload().GetData()), nil
}

// Close releases the client when this getter created it.
func (g *GoogleSecretManager) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}
