package main

import (
	"context"
	"os"

	"github.com/savaki/site-deployer/cmd/site-deployer/commands"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "site-deployer",
		Usage: "Static site and Lambda release automation",
		Description: `Releases a static site and its serverless functions from a git checkout.

This tool provides commands for:
  - Running the full release pipeline for a pushed branch
  - Mirroring the site content tree to its destination bucket
  - Packaging and updating individual Lambda functions
  - Inspecting release history`,
		Commands: []*cli.Command{
			commands.DeployCommand(&logger),
			commands.SiteCommand(&logger),
			commands.BuildCommand(&logger),
			commands.UpdateFunctionCommand(&logger),
			commands.ReleasesCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
