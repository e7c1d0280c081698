package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/dao/releasedao"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/savaki/site-deployer/internal/function"
	"github.com/savaki/site-deployer/internal/gitref"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/savaki/site-deployer/internal/pipeline"
	"github.com/savaki/site-deployer/internal/services"
	"github.com/savaki/site-deployer/internal/site"
	"github.com/urfave/cli/v2"
)

// DeployCommand returns the deploy command that runs the full pipeline
func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Run the full release pipeline for a pushed branch",
		Description: `Runs the release sequence for one push: resolves the branch destination,
mirrors the site content tree, then packages and updates each Lambda
function in manifest order. The run stops at the first failure.

The mainline branch deploys to the bucket root. Every other branch deploys
to {bucket}/{branch} so feature branches get preview copies side by side.

Examples:
  # Deploy a mainline push
  site-deployer deploy --ref refs/heads/main --commit $COMMIT

  # Deploy a feature branch from a different checkout
  site-deployer deploy --ref refs/heads/feature-x --dir /tmp/checkout

  # Run without recording release history
  site-deployer deploy --ref refs/heads/main --no-history`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ref",
				Usage:    "Fully qualified git reference that was pushed (refs/heads/{branch})",
				Required: true,
				EnvVars:  []string{"DEPLOY_REF"},
			},
			&cli.StringFlag{
				Name:    "commit",
				Usage:   "Commit hash of the push head, recorded in release history",
				EnvVars: []string{"DEPLOY_COMMIT", "CODEBUILD_RESOLVED_SOURCE_VERSION"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Checkout root containing the site tree and function sources",
				Value:   ".",
				EnvVars: []string{"CODEBUILD_SRC_DIR"},
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Pipeline manifest path, relative to --dir",
				Value: "deploy.yml",
			},
			&cli.StringFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Environment (dev, stg, or prd) - determines the release history table",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:  "table",
				Usage: "Release history table name (overrides the env-derived default)",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Skip recording the run in the release history table",
			},
			&cli.StringFlag{
				Name:  "resolver",
				Usage: "Dependency resolver command, invoked as: {resolver} -r {manifest} --target {dir}",
			},
		},
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	dir := c.String("dir")

	manifest, err := models.LoadManifest(filepath.Join(dir, c.String("manifest")))
	if err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	// Preflight: fail before any mutation if credentials are unusable
	checker := di.MustGet[*services.CredentialChecker](container)
	account, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("account", account).Msg("Credentials verified")

	var resolverCmd []string
	if flag := c.String("resolver"); flag != "" {
		resolverCmd = strings.Fields(flag)
	}

	var opts []pipeline.Option
	if !c.Bool("no-history") {
		dao := di.MustGet[*releasedao.DAO](container)
		if table := c.String("table"); table != "" {
			dao = releasedao.New(di.MustGet[*dynamodb.Client](container), table)
		}
		opts = append(opts, pipeline.WithReleases(dao))
	}

	driver := pipeline.New(
		gitref.New(manifest.Site.Mainline),
		site.New(di.MustGet[*s3.Client](container), manifest.Site.CacheControl),
		artifact.New(resolverCmd, ""),
		function.New(di.MustGet[*lambda.Client](container)),
		opts...,
	)

	// Anchor function sources to the checkout root
	specs := make([]models.FunctionSpec, 0, len(manifest.Functions))
	for _, spec := range manifest.Functions {
		spec.Dir = filepath.Join(dir, spec.SourceDir())
		specs = append(specs, spec)
	}

	result, err := driver.Run(ctx, pipeline.RunInput{
		Ref:        c.String("ref"),
		BucketBase: manifest.Site.Bucket,
		SiteDir:    filepath.Join(dir, manifest.Site.Dir),
		CommitHash: c.String("commit"),
		Specs:      specs,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Deployed branch %s to %s\n", result.Context.Branch, result.Context.Destination)
	if result.Site != nil {
		fmt.Printf("  site: %d uploaded, %d deleted, %d unchanged\n",
			result.Site.Uploaded, result.Site.Deleted, result.Site.Unchanged)
	}
	for _, spec := range manifest.Functions {
		fmt.Printf("  function: %s -> %s\n", spec.Name, spec.FunctionName)
	}
	return nil
}
