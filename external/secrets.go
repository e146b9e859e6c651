package external

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretStore wraps an aws-sdk-go-v2 Secrets Manager client to satisfy
// override.SecretStore. scope is used as a "/"-joined prefix ahead of
// key, mirroring the original's Databricks-secret-scope addressing.
type SecretStore struct {
	client *secretsmanager.Client
}

// NewSecretStore builds a SecretStore over an already-configured
// aws-sdk-go-v2 Secrets Manager client.
func NewSecretStore(client *secretsmanager.Client) *SecretStore {
	return &SecretStore{client: client}
}

// GetSecret implements override.SecretStore.
func (s *SecretStore) GetSecret(ctx context.Context, scope, key string) (string, error) {
	if scope == "" || key == "" {
		return "", nil
	}
	name := scope + "/" + key
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("secretsmanager get_secret_value %q: %w", name, err)
	}
	return aws.ToString(out.SecretString), nil
}
