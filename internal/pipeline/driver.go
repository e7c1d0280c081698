// Package pipeline sequences a release: resolve the destination from the
// pushed ref, mirror the site, then build and deploy each declared function
// in order. Control flow is strictly sequential and fail-fast; the first
// failing step ends the run and later steps are not attempted.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/gox/slicex"
	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/dao/releasedao"
	"github.com/savaki/site-deployer/internal/gitref"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/savaki/site-deployer/internal/site"
	"github.com/segmentio/ksuid"
)

// Step identifies a stage of the release sequence.
type Step string

const (
	StepResolve  Step = "resolve"
	StepSite     Step = "site"
	StepBuild    Step = "build"
	StepFunction Step = "function"
)

// SiteDeployer mirrors a local tree into a destination.
type SiteDeployer interface {
	Deploy(ctx context.Context, localTree, destination string) (*site.SyncResult, error)
}

// ArtifactBuilder packages one function spec into a deployable artifact.
type ArtifactBuilder interface {
	Build(ctx context.Context, spec models.FunctionSpec) (*artifact.Artifact, error)
}

// FunctionDeployer replaces a remote function's code with an artifact.
type FunctionDeployer interface {
	Deploy(ctx context.Context, art *artifact.Artifact, functionName string) error
}

// Driver runs the release sequence.
type Driver struct {
	resolver  *gitref.Resolver
	site      SiteDeployer
	builder   ArtifactBuilder
	functions FunctionDeployer
	releases  *releasedao.DAO // optional release history
}

// Option configures a Driver.
type Option func(*Driver)

// WithReleases records each run in the release history table.
func WithReleases(dao *releasedao.DAO) Option {
	return func(d *Driver) {
		d.releases = dao
	}
}

// New creates a Driver.
func New(resolver *gitref.Resolver, siteDeployer SiteDeployer, builder ArtifactBuilder, functions FunctionDeployer, opts ...Option) *Driver {
	d := &Driver{
		resolver:  resolver,
		site:      siteDeployer,
		builder:   builder,
		functions: functions,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunInput describes one pipeline invocation.
type RunInput struct {
	Ref        string // fully qualified git reference, e.g. refs/heads/main
	BucketBase string
	SiteDir    string
	CommitHash string // optional, recorded in release history
	Specs      []models.FunctionSpec
}

// Result reports how far the run got. On failure FailedStep names the stage
// and, for per-function stages, FailedFunction names the spec.
type Result struct {
	Context        models.DeploymentContext
	Site           *site.SyncResult
	Completed      []string
	FailedStep     Step
	FailedFunction string
}

// Run executes the release sequence.
func (d *Driver) Run(ctx context.Context, input RunInput) (result *Result, err error) {
	logger := zerolog.Ctx(ctx)
	result = &Result{}

	defer func(begin time.Time) {
		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err).
				Str("failed_step", string(result.FailedStep)).
				Str("failed_function", result.FailedFunction)
		}
		evt.Strs("completed", result.Completed).
			Dur("duration", time.Since(begin)).
			Msg("Pipeline run completed")
	}(time.Now())

	branch, err := d.resolver.ShortName(input.Ref)
	if err != nil {
		result.FailedStep = StepResolve
		return result, err
	}
	destination, err := d.resolver.Resolve(input.Ref, input.BucketBase)
	if err != nil {
		result.FailedStep = StepResolve
		return result, err
	}

	result.Context = models.DeploymentContext{
		Branch:      branch,
		BucketBase:  input.BucketBase,
		Destination: destination,
	}
	result.Completed = append(result.Completed, string(StepResolve))

	logger.Info().
		Str("branch", branch).
		Str("destination", destination).
		Strs("functions", slicex.Map(input.Specs, func(s models.FunctionSpec) string { return s.Name })).
		Msg("Resolved deployment destination")

	release := d.openRelease(ctx, input, result.Context)
	defer func() {
		d.finishRelease(ctx, release, result, err)
	}()

	result.Site, err = d.site.Deploy(ctx, input.SiteDir, destination)
	if err != nil {
		result.FailedStep = StepSite
		return result, fmt.Errorf("site deploy to %s: %w", destination, err)
	}
	result.Completed = append(result.Completed, string(StepSite))

	for _, spec := range input.Specs {
		art, buildErr := d.builder.Build(ctx, spec)
		if buildErr != nil {
			result.FailedStep = StepBuild
			result.FailedFunction = spec.Name
			err = fmt.Errorf("build %s: %w", spec.Name, buildErr)
			return result, err
		}
		result.Completed = append(result.Completed, "build "+spec.Name)

		deployErr := d.functions.Deploy(ctx, art, spec.FunctionName)
		if closeErr := art.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Str("function", spec.Name).Msg("Failed to remove artifact")
		}
		if deployErr != nil {
			result.FailedStep = StepFunction
			result.FailedFunction = spec.Name
			err = fmt.Errorf("deploy %s to %s: %w", spec.Name, spec.FunctionName, deployErr)
			return result, err
		}
		result.Completed = append(result.Completed, "update "+spec.Name)
	}

	return result, nil
}

// openRelease writes the IN_PROGRESS history record. History failures are
// logged, never fatal: the deployment itself has priority.
func (d *Driver) openRelease(ctx context.Context, input RunInput, deployment models.DeploymentContext) *releasedao.Record {
	if d.releases == nil {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	record, err := d.releases.Create(ctx, releasedao.CreateInput{
		Bucket:      input.BucketBase,
		Branch:      deployment.Branch,
		SK:          ksuid.New().String(),
		Destination: deployment.Destination,
		CommitHash:  input.CommitHash,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create release record")
		return nil
	}
	return &record
}

func (d *Driver) finishRelease(ctx context.Context, record *releasedao.Record, result *Result, runErr error) {
	if record == nil {
		return
	}
	logger := zerolog.Ctx(ctx)

	status := releasedao.ReleaseStatusSuccess
	var errMsg *string
	if runErr != nil {
		status = releasedao.ReleaseStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	err := d.releases.Finish(ctx, releasedao.FinishInput{
		PK:       record.PK,
		SK:       record.SK,
		Status:   status,
		Steps:    result.Completed,
		ErrorMsg: errMsg,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to finish release record")
	}
}
