package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/dao/releasedao"
	"github.com/savaki/site-deployer/internal/di"
	"github.com/urfave/cli/v2"
)

// ReleasesCommand returns the releases command for inspecting release history
func ReleasesCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "releases",
		Usage: "Show release history",
		Description: `Lists release records for a bucket. Without --branch, shows the latest
release of each branch; with --branch, shows that branch's full history,
newest first.

Examples:
  # Latest release per branch
  site-deployer releases --bucket my-bucket

  # Full history for one branch
  site-deployer releases --bucket my-bucket --branch feature-x`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Aliases:  []string{"b"},
				Usage:    "Destination bucket base",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "branch",
				Usage: "Branch to show full history for",
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
		},
		Action: func(c *cli.Context) error {
			return releasesAction(c, logger)
		},
	}
}

func releasesAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	bucket := c.String("bucket")
	branch := c.String("branch")

	container, err := di.New(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}

	dao := di.MustGet[*releasedao.DAO](container)
	if table := c.String("table"); table != "" {
		dao = releasedao.New(di.MustGet[*dynamodb.Client](container), table)
	}

	var records []releasedao.Record
	if branch != "" {
		records, err = dao.Query(ctx, releasedao.NewPK(bucket, branch))
		// Query returns oldest first; show the most recent release on top
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	} else {
		records, err = dao.QueryLatest(ctx, bucket)
	}
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No releases found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tSTATUS\tCOMMIT\tDESTINATION\tUPDATED")
	for _, record := range records {
		commit := record.CommitHash
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			record.Branch,
			record.Status,
			commit,
			record.Destination,
			time.Unix(record.UpdatedAt, 0).UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}
