package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yml")
	content := `
site:
  bucket: my-bucket
functions:
  - name: email-digest
    function_name: email-digest-prod
  - name: email-unsub
    function_name: email-unsub-prod
    handler: handler.py
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	assert.NoError(t, err)

	assert.Equal(t, "my-bucket", m.Site.Bucket)
	assert.Equal(t, "site", m.Site.Dir)
	assert.Equal(t, "main", m.Site.Mainline)
	assert.Equal(t, DefaultCacheControl, m.Site.CacheControl)

	if assert.Len(t, m.Functions, 2) {
		assert.Equal(t, filepath.Join("aws", "lambda", "email-digest"), m.Functions[0].SourceDir())
		assert.Equal(t, DefaultHandler, m.Functions[0].HandlerFile())
		assert.Equal(t, DefaultRequirements, m.Functions[0].RequirementsFile())
		assert.Equal(t, "handler.py", m.Functions[1].HandlerFile())
	}
}

func TestLoadManifestMissingBucket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yml")
	if err := os.WriteFile(path, []byte("site:\n  dir: public\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  bool
	}{
		{
			name: "valid with no functions",
			manifest: Manifest{
				Site: SiteConfig{Bucket: "b"},
			},
		},
		{
			name: "function without name",
			manifest: Manifest{
				Site:      SiteConfig{Bucket: "b"},
				Functions: []FunctionSpec{{FunctionName: "remote"}},
			},
			wantErr: true,
		},
		{
			name: "function without remote identifier",
			manifest: Manifest{
				Site:      SiteConfig{Bucket: "b"},
				Functions: []FunctionSpec{{Name: "email-digest"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFunctionSpecExplicitDir(t *testing.T) {
	spec := FunctionSpec{Name: "digest", Dir: "functions/digest"}
	assert.Equal(t, "functions/digest", spec.SourceDir())
}
