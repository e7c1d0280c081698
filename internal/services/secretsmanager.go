package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsService reads webhook credentials from AWS Secrets Manager.
type SecretsService struct {
	client *secretsmanager.Client
}

// NewSecretsService creates a new SecretsService.
func NewSecretsService(client *secretsmanager.Client) *SecretsService {
	return &SecretsService{
		client: client,
	}
}

// GetWebhookSecret retrieves the shared HMAC secret used to verify push
// webhook signatures.
func (s *SecretsService) GetWebhookSecret(ctx context.Context, secretName string) ([]byte, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	if result.SecretString == nil || *result.SecretString == "" {
		return nil, fmt.Errorf("secret %s is empty", secretName)
	}

	return []byte(*result.SecretString), nil
}
