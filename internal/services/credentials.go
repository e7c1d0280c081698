package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/errors"
)

// CredentialChecker verifies the ambient AWS credentials before the pipeline
// issues any remote call, so credential problems surface as a single
// AuthenticationError up front instead of mid-mirror.
type CredentialChecker struct {
	client *sts.Client
}

// NewCredentialChecker creates a new CredentialChecker.
func NewCredentialChecker(client *sts.Client) *CredentialChecker {
	return &CredentialChecker{
		client: client,
	}
}

// Check calls GetCallerIdentity and returns the account ID, or
// ErrAuthentication when the credentials are rejected.
func (c *CredentialChecker) Check(ctx context.Context) (string, error) {
	identity, err := c.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrAuthentication, err)
	}

	account := aws.ToString(identity.Account)
	zerolog.Ctx(ctx).Debug().
		Str("account", account).
		Str("arn", aws.ToString(identity.Arn)).
		Msg("Verified caller identity")
	return account, nil
}
