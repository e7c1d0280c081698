// Package function updates Lambda function code in place. The update is a
// single remote operation: either the function points at the new artifact
// afterwards, or the call fails and the previous code is untouched.
package function

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/errors"
)

// API is the slice of the Lambda client the deployer uses.
type API interface {
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

// Deployer replaces remote function code with built artifacts.
type Deployer struct {
	client       API
	pollInterval time.Duration
}

// New creates a Deployer.
func New(client API) *Deployer {
	return &Deployer{
		client:       client,
		pollInterval: 2 * time.Second,
	}
}

// Deploy uploads the artifact and waits for the platform to finish applying
// it. No retry is performed; any failure is terminal for the caller's run.
func (d *Deployer) Deploy(ctx context.Context, art *artifact.Artifact, functionName string) (err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		evt.Str("function", functionName).
			Str("sha256", art.SHA256).
			Dur("duration", time.Since(begin)).
			Msg("Function code update completed")
	}(time.Now())

	payload, err := os.ReadFile(art.Path)
	if err != nil {
		return fmt.Errorf("%w: reading artifact %s: %v", errors.ErrTransfer, art.Path, err)
	}

	_, err = d.client.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		ZipFile:      payload,
	})
	if err != nil {
		return classify(err, functionName)
	}

	return d.waitForUpdate(ctx, functionName)
}

// waitForUpdate polls until the platform reports the code update has left
// the InProgress state.
func (d *Deployer) waitForUpdate(ctx context.Context, functionName string) error {
	for {
		out, err := d.client.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
			FunctionName: aws.String(functionName),
		})
		if err != nil {
			return classify(err, functionName)
		}

		switch out.LastUpdateStatus {
		case types.LastUpdateStatusFailed:
			return fmt.Errorf("%w: update of %s failed: %s", errors.ErrTransfer,
				functionName, aws.ToString(out.LastUpdateStatusReason))
		case types.LastUpdateStatusInProgress:
			// keep polling
		default:
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s: %v", errors.ErrTransfer, functionName, ctx.Err())
		case <-time.After(d.pollInterval):
		}
	}
}

func classify(err error, functionName string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", errors.ErrFunctionNotFound, functionName)
	}
	return errors.ClassifyAWS(err)
}
