package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/savaki/site-deployer/internal/artifact"
	"github.com/savaki/site-deployer/internal/errors"
	"github.com/savaki/site-deployer/internal/gitref"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/savaki/site-deployer/internal/site"
	"github.com/stretchr/testify/assert"
)

// recorder tracks the order of every remote-facing operation.
type recorder struct {
	ops []string
}

type fakeSite struct {
	rec *recorder
	err error
}

func (f *fakeSite) Deploy(_ context.Context, _, destination string) (*site.SyncResult, error) {
	f.rec.ops = append(f.rec.ops, "site "+destination)
	if f.err != nil {
		return nil, f.err
	}
	return &site.SyncResult{Uploaded: 1}, nil
}

type fakeBuilder struct {
	rec     *recorder
	failFor string
}

func (f *fakeBuilder) Build(_ context.Context, spec models.FunctionSpec) (*artifact.Artifact, error) {
	f.rec.ops = append(f.rec.ops, "build "+spec.Name)
	if spec.Name == f.failFor {
		return nil, fmt.Errorf("%w: no matching distribution", errors.ErrDependencyResolution)
	}
	return &artifact.Artifact{Spec: spec}, nil
}

type fakeFunctions struct {
	rec     *recorder
	failFor string
}

func (f *fakeFunctions) Deploy(_ context.Context, art *artifact.Artifact, functionName string) error {
	f.rec.ops = append(f.rec.ops, "deploy "+functionName)
	if art.Spec.Name == f.failFor {
		return fmt.Errorf("%w: %s", errors.ErrFunctionNotFound, functionName)
	}
	return nil
}

func specs() []models.FunctionSpec {
	return []models.FunctionSpec{
		{Name: "email-digest", FunctionName: "email-digest-prod"},
		{Name: "email-unsub", FunctionName: "email-unsub-prod"},
	}
}

func newTestDriver(rec *recorder, siteErr error, buildFail, deployFail string) *Driver {
	return New(
		gitref.New("main"),
		&fakeSite{rec: rec, err: siteErr},
		&fakeBuilder{rec: rec, failFor: buildFail},
		&fakeFunctions{rec: rec, failFor: deployFail},
	)
}

func TestRunSequence(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, nil, "", "")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "refs/heads/main",
		BucketBase: "my-bucket",
		SiteDir:    "site",
		Specs:      specs(),
	})
	assert.NoError(t, err)

	// Site strictly first, then build/deploy pairs in declared order.
	assert.Equal(t, []string{
		"site my-bucket",
		"build email-digest",
		"deploy email-digest-prod",
		"build email-unsub",
		"deploy email-unsub-prod",
	}, rec.ops)

	assert.Equal(t, "main", result.Context.Branch)
	assert.Equal(t, "my-bucket", result.Context.Destination)
	assert.Equal(t, []string{
		"resolve", "site",
		"build email-digest", "update email-digest",
		"build email-unsub", "update email-unsub",
	}, result.Completed)
}

func TestRunBranchDestination(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, nil, "", "")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "refs/heads/feature-x",
		BucketBase: "my-bucket",
		SiteDir:    "site",
	})
	assert.NoError(t, err)
	assert.Equal(t, "my-bucket/feature-x", result.Context.Destination)
	assert.Equal(t, []string{"site my-bucket/feature-x"}, rec.ops)
}

func TestRunMalformedRefMakesNoRemoteCalls(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, nil, "", "")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "main",
		BucketBase: "my-bucket",
		SiteDir:    "site",
		Specs:      specs(),
	})
	assert.True(t, errors.Is(err, errors.ErrMalformedReference), "err = %v", err)
	assert.Equal(t, StepResolve, result.FailedStep)
	assert.Empty(t, rec.ops)
}

func TestRunSiteFailureStopsEverything(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, fmt.Errorf("%w: connection reset", errors.ErrTransfer), "", "")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "refs/heads/main",
		BucketBase: "my-bucket",
		SiteDir:    "site",
		Specs:      specs(),
	})
	assert.True(t, errors.Is(err, errors.ErrTransfer), "err = %v", err)
	assert.Equal(t, StepSite, result.FailedStep)
	assert.Equal(t, []string{"site my-bucket"}, rec.ops)
}

func TestRunBuildFailureSkipsDeployAndLaterSpecs(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, nil, "email-digest", "")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "refs/heads/main",
		BucketBase: "my-bucket",
		SiteDir:    "site",
		Specs:      specs(),
	})
	assert.True(t, errors.Is(err, errors.ErrDependencyResolution), "err = %v", err)
	assert.Equal(t, StepBuild, result.FailedStep)
	assert.Equal(t, "email-digest", result.FailedFunction)

	// The failing spec is never deployed and email-unsub is never attempted,
	// even though it is logically independent.
	assert.Equal(t, []string{"site my-bucket", "build email-digest"}, rec.ops)
	assert.Equal(t, []string{"resolve", "site"}, result.Completed)
}

func TestRunDeployFailureStopsLaterSpecs(t *testing.T) {
	rec := &recorder{}
	driver := newTestDriver(rec, nil, "", "email-digest")

	result, err := driver.Run(context.Background(), RunInput{
		Ref:        "refs/heads/main",
		BucketBase: "my-bucket",
		SiteDir:    "site",
		Specs:      specs(),
	})
	assert.True(t, errors.Is(err, errors.ErrFunctionNotFound), "err = %v", err)
	assert.Equal(t, StepFunction, result.FailedStep)
	assert.Equal(t, "email-digest", result.FailedFunction)
	assert.Equal(t, []string{
		"site my-bucket",
		"build email-digest",
		"deploy email-digest-prod",
	}, rec.ops)
}
