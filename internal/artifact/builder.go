// Package artifact builds self-contained function bundles: the declared
// dependency closure plus the entry-point source, zipped with relative paths
// so the remote runtime imports everything from the archive root.
package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/errors"
	"github.com/savaki/site-deployer/internal/models"
)

// DefaultResolver is the dependency resolver command. It is invoked as
// {resolver...} -r {manifest} --target {staging}.
var DefaultResolver = []string{"python3", "-m", "pip", "install", "--quiet"}

// Builder stages and packages function artifacts.
type Builder struct {
	resolver []string
	workDir  string
}

// New creates a Builder. An empty resolver falls back to DefaultResolver;
// an empty workDir stages under the system temp directory.
func New(resolver []string, workDir string) *Builder {
	if len(resolver) == 0 {
		resolver = DefaultResolver
	}
	return &Builder{
		resolver: resolver,
		workDir:  workDir,
	}
}

// Artifact is an ephemeral packaged bundle for exactly one FunctionSpec.
// It is owned by the run that built it and removed via Close.
type Artifact struct {
	Spec   models.FunctionSpec
	Path   string   // zip location
	SHA256 string   // content digest of the zip
	Size   int64    // zip size in bytes
	Files  []string // sorted archive entries

	staging string
}

// Close removes the artifact's zip and staging directory.
func (a *Artifact) Close() error {
	if a.staging != "" {
		if err := os.RemoveAll(a.staging); err != nil {
			return err
		}
		a.staging = ""
	}
	if a.Path != "" {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Build materializes the spec's dependency closure into a staging directory,
// copies in the entry-point source, and zips the result. Each step must
// succeed before the next starts; a resolver failure aborts only this spec's
// build with ErrDependencyResolution.
func (b *Builder) Build(ctx context.Context, spec models.FunctionSpec) (art *Artifact, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		if art != nil {
			evt = evt.Int("files", len(art.Files)).Int64("bytes", art.Size)
		}
		evt.Str("function", spec.Name).
			Dur("duration", time.Since(begin)).
			Msg("Artifact build completed")
	}(time.Now())

	src := spec.SourceDir()
	entry := filepath.Join(src, spec.HandlerFile())
	if _, statErr := os.Stat(entry); statErr != nil {
		return nil, fmt.Errorf("%w: entry point %s: %v", errors.ErrBuild, entry, statErr)
	}

	staging, err := os.MkdirTemp(b.workDir, "artifact-"+spec.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: creating staging directory: %v", errors.ErrBuild, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	manifest := filepath.Join(src, spec.RequirementsFile())
	if _, statErr := os.Stat(manifest); statErr == nil {
		if err = b.resolve(ctx, manifest, staging); err != nil {
			return nil, err
		}
	} else {
		logger.Debug().Str("function", spec.Name).Msg("No dependency manifest, packaging entry point only")
	}

	if err = copyFile(entry, filepath.Join(staging, spec.HandlerFile())); err != nil {
		return nil, fmt.Errorf("%w: copying entry point: %v", errors.ErrBuild, err)
	}

	zipFile, err := os.CreateTemp(b.workDir, spec.Name+"-*.zip")
	if err != nil {
		return nil, fmt.Errorf("%w: creating archive: %v", errors.ErrBuild, err)
	}
	zipPath := zipFile.Name()
	_ = zipFile.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(zipPath)
		}
	}()

	files, err := writeZip(zipPath, staging)
	if err != nil {
		return nil, fmt.Errorf("%w: writing archive: %v", errors.ErrBuild, err)
	}

	digest, size, err := digestFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing archive: %v", errors.ErrBuild, err)
	}

	return &Artifact{
		Spec:    spec,
		Path:    zipPath,
		SHA256:  digest,
		Size:    size,
		Files:   files,
		staging: staging,
	}, nil
}

// resolve invokes the external dependency resolver. Non-zero completion is a
// DependencyResolutionError per the resolver runtime contract.
func (b *Builder) resolve(ctx context.Context, manifest, target string) error {
	args := append(append([]string{}, b.resolver[1:]...), "-r", manifest, "--target", target)
	cmd := exec.CommandContext(ctx, b.resolver[0], args...)

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%w: %s: %s", errors.ErrDependencyResolution, manifest, detail)
	}
	return nil
}

// writeZip packages the staging directory's full contents, preserving
// relative paths. Entries are written in lexical order with zeroed
// timestamps so unchanged inputs produce equivalent archives.
func writeZip(zipPath, root string) ([]string, error) {
	var entries []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	out, err := os.Create(zipPath)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, name := range entries {
		header := &zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		}
		dst, err := w.CreateHeader(header)
		if err != nil {
			return nil, err
		}
		src, err := os.Open(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return entries, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
