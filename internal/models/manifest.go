// Package models holds the pipeline definition types shared by the CLI
// commands, the pipeline driver, and the push-trigger lambda.
package models

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCacheControl keeps cached copies short-lived so stale content is
	// never served past the window.
	DefaultCacheControl = "max-age=300, must-revalidate"

	// DefaultHandler is the conventional Lambda entry-point filename.
	DefaultHandler = "lambda_function.py"

	// DefaultRequirements is the conventional pip dependency manifest.
	DefaultRequirements = "requirements.txt"
)

// FunctionSpec declares one serverless function managed by the pipeline.
// Specs are created once at pipeline-definition time and are immutable
// during a run.
type FunctionSpec struct {
	Name         string `yaml:"name"`          // source directory name, e.g. email-digest
	FunctionName string `yaml:"function_name"` // remote Lambda function identifier
	Dir          string `yaml:"dir"`           // source directory, defaults to aws/lambda/{name}
	Handler      string `yaml:"handler"`       // entry-point file, defaults to lambda_function.py
	Requirements string `yaml:"requirements"`  // dependency manifest, defaults to requirements.txt
}

// SourceDir returns the function's source directory relative to the checkout.
func (s FunctionSpec) SourceDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	return filepath.Join("aws", "lambda", s.Name)
}

// HandlerFile returns the entry-point filename within SourceDir.
func (s FunctionSpec) HandlerFile() string {
	if s.Handler != "" {
		return s.Handler
	}
	return DefaultHandler
}

// RequirementsFile returns the dependency manifest path within SourceDir.
// The file may legitimately not exist, in which case the function has an
// empty dependency closure.
func (s FunctionSpec) RequirementsFile() string {
	if s.Requirements != "" {
		return s.Requirements
	}
	return DefaultRequirements
}

// SiteConfig describes the static property and its destination bucket.
type SiteConfig struct {
	Dir          string `yaml:"dir"`           // local content tree, defaults to site
	Bucket       string `yaml:"bucket"`        // destination bucket base
	Mainline     string `yaml:"mainline"`      // branch deploying to the bucket root, defaults to main
	CacheControl string `yaml:"cache_control"` // applied to every uploaded object
}

// Manifest is the pipeline definition, loaded from deploy.yml at the
// checkout root. Function order in the manifest is the deployment order.
type Manifest struct {
	Site      SiteConfig     `yaml:"site"`
	Functions []FunctionSpec `yaml:"functions"`
}

// LoadManifest reads and validates a pipeline manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Site.Dir == "" {
		m.Site.Dir = "site"
	}
	if m.Site.Mainline == "" {
		m.Site.Mainline = "main"
	}
	if m.Site.CacheControl == "" {
		m.Site.CacheControl = DefaultCacheControl
	}
}

// Validate checks that the manifest names a bucket and that every function
// spec carries both a source name and a remote identifier.
func (m *Manifest) Validate() error {
	if m.Site.Bucket == "" {
		return fmt.Errorf("site.bucket is required")
	}
	for i, fn := range m.Functions {
		if fn.Name == "" {
			return fmt.Errorf("functions[%d]: name is required", i)
		}
		if fn.FunctionName == "" {
			return fmt.Errorf("functions[%d] (%s): function_name is required", i, fn.Name)
		}
	}
	return nil
}

// DeploymentContext is the resolved launch state of a run: the branch that
// was pushed, the bucket base, and the destination derived from the two.
type DeploymentContext struct {
	Branch      string
	BucketBase  string
	Destination string
}
