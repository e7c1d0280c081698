package commands

import (
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/savaki/site-deployer/internal/gitref"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/savaki/site-deployer/internal/site"
	"github.com/urfave/cli/v2"
)

// SiteCommand returns the site command that mirrors content without
// touching any function
func SiteCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "site",
		Usage: "Mirror the site content tree to its destination",
		Description: `Mirrors the local content tree to the destination for a branch: uploads
new and changed files, then removes remote objects with no local
counterpart. Unchanged files (matching MD5) are skipped.

Examples:
  # Mirror the mainline site
  site-deployer site --ref refs/heads/main

  # Mirror a feature branch copy
  site-deployer site --ref refs/heads/feature-x`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "ref",
				Usage:    "Fully qualified git reference (refs/heads/{branch})",
				Required: true,
				EnvVars:  []string{"DEPLOY_REF"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Checkout root containing the site tree",
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
				Usage:   "Environment (dev, stg, or prd)",
				Value:   "dev",
				EnvVars: []string{"ENV"},
			},
		},
		Action: func(c *cli.Context) error {
			return siteAction(c, logger)
		},
	}
}

func siteAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	dir := c.String("dir")

	manifest, err := models.LoadManifest(filepath.Join(dir, c.String("manifest")))
	if err != nil {
		return err
	}

	destination, err := gitref.New(manifest.Site.Mainline).Resolve(c.String("ref"), manifest.Site.Bucket)
	if err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	deployer := site.New(di.MustGet[*s3.Client](container), manifest.Site.CacheControl)
	result, err := deployer.Deploy(ctx, filepath.Join(dir, manifest.Site.Dir), destination)
	if err != nil {
		return err
	}

	fmt.Printf("Mirrored %s to %s: %d uploaded, %d deleted, %d unchanged\n",
		manifest.Site.Dir, destination, result.Uploaded, result.Deleted, result.Unchanged)
	return nil
}
