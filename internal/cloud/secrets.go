package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/optimeist/optimeist/internal/log"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	DescribeSecret(ctx context.Context, in *secretsmanager.DescribeSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretStore implements install.SecretStore and reads secret values for the extension.
type SecretStore struct {
	api SecretsAPI
}

// NewSecretStore wraps api.
func NewSecretStore(api SecretsAPI) *SecretStore {
	return &SecretStore{api: api}
}

// GetOrCreate returns the ARN of the named secret, creating it when absent.
// value is only called on creation.
func (s *SecretStore) GetOrCreate(ctx context.Context, name string, value func() (string, error)) (string, error) {
	out, err := s.api.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(name)})
	if err == nil {
		return aws.ToString(out.ARN), nil
	}
	var notFound *smtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return "", fmt.Errorf("describe secret %s: %w", name, err)
	}

	secret, err := value()
	if err != nil {
		return "", err
	}
	created, err := s.api.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(secret),
	})
	if err != nil {
		return "", fmt.Errorf("create secret %s: %w", name, err)
	}
	log.Info(log.CatInstall, "created secret", "name", name)
	return aws.ToString(created.ARN), nil
}

// Value returns the secret string stored under id (name or ARN).
func (s *SecretStore) Value(ctx context.Context, id string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return "", fmt.Errorf("get secret value %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	return aws.ToString(out.SecretString), nil
}
