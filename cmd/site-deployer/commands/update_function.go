package commands

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/savaki/site-deployer/internal/function"
	"github.com/savaki/site-deployer/internal/services"
	"github.com/urfave/cli/v2"
)

// UpdateFunctionCommand returns the update-function command for pushing a
// prebuilt artifact to a single Lambda
func UpdateFunctionCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "update-function",
		Usage: "Update one Lambda function from a prebuilt zip",
		Description: `Uploads a packaged artifact as the new code for a single function and
waits until the update settles. Pair with the build command when the
packaging and deployment happen on different machines.

Examples:
  # Update from a locally built artifact
  site-deployer update-function --function-name prod-email-digest --zip dist/email-digest.zip`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "function-name",
				Aliases:  []string{"n"},
				Usage:    "Remote Lambda function identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "zip",
				Aliases:  []string{"z"},
				Usage:    "Path to the packaged artifact",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment (dev, stg, or prd)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
		},
		Action: func(c *cli.Context) error {
			return updateFunctionAction(c, logger)
		},
	}
}

func updateFunctionAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	functionName := c.String("function-name")

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	checker := di.MustGet[*services.CredentialChecker](container)
	account, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("account", account).Msg("Credentials verified")

	deployer := function.New(di.MustGet[*lambda.Client](container))
	art := &artifact.Artifact{Path: c.String("zip")}
	if err := deployer.Deploy(ctx, art, functionName); err != nil {
		return err
	}

	fmt.Printf("Updated %s from %s\n", functionName, c.String("zip"))
	return nil
}
