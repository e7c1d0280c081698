package artifact

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/savaki/site-deployer/internal/errors"
	"github.com/savaki/site-deployer/internal/models"
	"github.com/stretchr/testify/assert"
)

// writeScript materializes a stub dependency resolver. The builder invokes it
// as: script -r {manifest} --target {staging}.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub resolver scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "resolver.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSpecSource(t *testing.T, handler, requirements string) models.FunctionSpec {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lambda_function.py"), []byte(handler), 0o644); err != nil {
		t.Fatal(err)
	}
	if requirements != "" {
		if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(requirements), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return models.FunctionSpec{
		Name:         "email-digest",
		FunctionName: "email-digest-prod",
		Dir:          dir,
	}
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	contents := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		contents[f.Name] = string(data)
	}
	return contents
}

func TestBuildPackagesClosureAndEntryPoint(t *testing.T) {
	resolver := writeScript(t, `
echo 'VERSION = "2.31.0"' > "$4/requests.py"
mkdir -p "$4/urllib3"
echo 'x = 1' > "$4/urllib3/__init__.py"
`)
	spec := writeSpecSource(t, "def lambda_handler(event, context):\n    return 200\n", "requests==2.31.0\n")

	builder := New([]string{resolver}, t.TempDir())
	art, err := builder.Build(context.Background(), spec)
	assert.NoError(t, err)
	defer art.Close()

	assert.Equal(t, []string{"lambda_function.py", "requests.py", "urllib3/__init__.py"}, art.Files)
	assert.NotEmpty(t, art.SHA256)
	assert.Greater(t, art.Size, int64(0))

	contents := readZip(t, art.Path)
	assert.Equal(t, "def lambda_handler(event, context):\n    return 200\n", contents["lambda_function.py"])
	assert.Equal(t, "VERSION = \"2.31.0\"\n", contents["requests.py"])
}

func TestBuildIdempotent(t *testing.T) {
	resolver := writeScript(t, `echo 'VERSION = "1.0"' > "$4/sendgrid.py"`+"\n")
	spec := writeSpecSource(t, "def lambda_handler(event, context):\n    pass\n", "sendgrid==1.0\n")

	builder := New([]string{resolver}, t.TempDir())

	first, err := builder.Build(context.Background(), spec)
	assert.NoError(t, err)
	defer first.Close()

	second, err := builder.Build(context.Background(), spec)
	assert.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, readZip(t, first.Path), readZip(t, second.Path))
	assert.Equal(t, first.SHA256, second.SHA256)
}

func TestBuildDependencyResolutionFailure(t *testing.T) {
	resolver := writeScript(t, `
echo "No matching distribution found for nosuchpackage" >&2
exit 1
`)
	spec := writeSpecSource(t, "def lambda_handler(event, context):\n    pass\n", "nosuchpackage==9.9\n")

	builder := New([]string{resolver}, t.TempDir())
	_, err := builder.Build(context.Background(), spec)
	assert.True(t, errors.Is(err, errors.ErrDependencyResolution), "err = %v", err)
	assert.Contains(t, err.Error(), "No matching distribution")
}

func TestBuildMissingEntryPoint(t *testing.T) {
	spec := models.FunctionSpec{
		Name:         "ghost",
		FunctionName: "ghost-prod",
		Dir:          filepath.Join(t.TempDir(), "absent"),
	}

	builder := New(nil, t.TempDir())
	_, err := builder.Build(context.Background(), spec)
	assert.True(t, errors.Is(err, errors.ErrBuild), "err = %v", err)
}

func TestBuildWithoutManifestSkipsResolver(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "resolver-ran")
	resolver := writeScript(t, `touch `+marker+"\n")
	spec := writeSpecSource(t, "def lambda_handler(event, context):\n    pass\n", "")

	builder := New([]string{resolver}, t.TempDir())
	art, err := builder.Build(context.Background(), spec)
	assert.NoError(t, err)
	defer art.Close()

	assert.Equal(t, []string{"lambda_function.py"}, art.Files)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "resolver should not have run")
}

func TestArtifactClose(t *testing.T) {
	resolver := writeScript(t, "")
	spec := writeSpecSource(t, "def lambda_handler(event, context):\n    pass\n", "")

	builder := New([]string{resolver}, t.TempDir())
	art, err := builder.Build(context.Background(), spec)
	assert.NoError(t, err)

	assert.NoError(t, art.Close())
	_, statErr := os.Stat(art.Path)
	assert.True(t, os.IsNotExist(statErr))

	// Close is safe to call twice.
	assert.NoError(t, art.Close())
}
