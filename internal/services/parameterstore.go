package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds the trigger-side configuration values from Parameter Store.
type Config struct {
	SiteBucket        string // destination bucket base
	MainlineBranch    string // branch deploying to the bucket root
	BuildProject      string // CodeBuild project running the pipeline
	WebhookSecretName string // Secrets Manager name of the webhook HMAC secret
	ReleaseTable      string // release history table, empty disables history
	PreviewDeploys    bool   // deploy non-mainline branches to their prefixes
}

// ParameterStore defines the interface for accessing configuration parameters.
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all trigger configuration from Parameter Store
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager
// Parameter Store.
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store.
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store.
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all trigger configuration from Parameter Store.
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/site-deployer", s.env)

	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{
		SiteBucket:        params[fmt.Sprintf("/%s/site-deployer/site-bucket", s.env)],
		MainlineBranch:    params[fmt.Sprintf("/%s/site-deployer/mainline-branch", s.env)],
		BuildProject:      params[fmt.Sprintf("/%s/site-deployer/build-project", s.env)],
		WebhookSecretName: params[fmt.Sprintf("/%s/site-deployer/webhook-secret-name", s.env)],
		ReleaseTable:      params[fmt.Sprintf("/%s/site-deployer/release-table", s.env)],
	}
	config.PreviewDeploys, _ = strconv.ParseBool(params[fmt.Sprintf("/%s/site-deployer/preview-deploys", s.env)])

	applyConfigDefaults(config, s.env)
	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables,
// for local development without an AWS connection.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store.
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables.
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all trigger configuration from environment variables.
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		SiteBucket:        os.Getenv("SITE_BUCKET"),
		MainlineBranch:    os.Getenv("MAINLINE_BRANCH"),
		BuildProject:      os.Getenv("BUILD_PROJECT"),
		WebhookSecretName: os.Getenv("WEBHOOK_SECRET_NAME"),
		ReleaseTable:      os.Getenv("RELEASE_TABLE"),
	}
	config.PreviewDeploys, _ = strconv.ParseBool(os.Getenv("PREVIEW_DEPLOYS"))

	applyConfigDefaults(config, e.env)
	return config, nil
}

func applyConfigDefaults(config *Config, env string) {
	if config.MainlineBranch == "" {
		config.MainlineBranch = "main"
	}
	if config.WebhookSecretName == "" {
		config.WebhookSecretName = fmt.Sprintf("site-deployer/%s/webhook-secret", env)
	}
}

func boolPtr(b bool) *bool {
	return &b
}
