package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/urfave/cli/v2"
)

// BuildCommand returns the build command that packages artifacts locally
func BuildCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Package function artifacts without deploying them",
		Description: `Packages each function declared in the manifest into a deployable zip:
resolves dependencies into a staging directory, adds the entry point, and
writes a deterministic archive. The same source tree always produces the
same content digest.

Examples:
  # Build every function into ./dist
  site-deployer build --out dist

  # Build a single function
  site-deployer build --function email-digest --out dist`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Checkout root containing the function sources",
				Value:   ".",
				EnvVars: []string{"CODEBUILD_SRC_DIR"},
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Pipeline manifest path, relative to --dir",
				Value: "deploy.yml",
			},
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "Directory to write the packaged zips into",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "function",
				Aliases: []string{"f"},
				Usage:   "Function name(s) to build (default: all in the manifest)",
			},
			&cli.StringFlag{
				Name:  "resolver",
				Usage: "Dependency resolver command, invoked as: {resolver} -r {manifest} --target {dir}",
			},
		},
		Action: func(c *cli.Context) error {
			return buildAction(c, logger)
		},
	}
}

func buildAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	dir := c.String("dir")
	out := c.String("out")

	manifest, err := models.LoadManifest(filepath.Join(dir, c.String("manifest")))
	if err != nil {
		return err
	}

	specs := manifest.Functions
	if names := c.StringSlice("function"); len(names) > 0 {
		wanted := make(map[string]bool, len(names))
		for _, name := range names {
			wanted[name] = true
		}
		var selected []models.FunctionSpec
		for _, spec := range specs {
			if wanted[spec.Name] {
				selected = append(selected, spec)
				delete(wanted, spec.Name)
			}
		}
		if len(wanted) > 0 {
			var missing []string
			for name := range wanted {
				missing = append(missing, name)
			}
			return fmt.Errorf("function(s) not in manifest: %s", strings.Join(missing, ", "))
		}
		specs = selected
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var resolverCmd []string
	if flag := c.String("resolver"); flag != "" {
		resolverCmd = strings.Fields(flag)
	}
	builder := artifact.New(resolverCmd, "")

	for _, spec := range specs {
		spec.Dir = filepath.Join(dir, spec.SourceDir())

		art, err := builder.Build(ctx, spec)
		if err != nil {
			return err
		}

		target := filepath.Join(out, spec.Name+".zip")
		if err := os.Rename(art.Path, target); err != nil {
			_ = art.Close()
			return fmt.Errorf("failed to move artifact for %s: %w", spec.Name, err)
		}
		_ = art.Close()

		fmt.Printf("%s  %s  %d files, %d bytes\n", art.SHA256, target, len(art.Files), art.Size)
	}
	return nil
}
