// Package packer builds bundle tarballs from a bundle source directory.
//
// A build loads and normalizes the bundle's spec.yaml, copies the sources
// once per edition into a fresh temp dir, runs each edition's
// preprocessors, stamps the bundle version with a build id and packs each
// edition into an in-memory gzip tarball. Writing the tarballs is left to
// the caller.
package packer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/bundle-pack/internal/archive"
	"github.com/shinji-kodama/bundle-pack/internal/model"
	"github.com/shinji-kodama/bundle-pack/internal/naming"
	"github.com/shinji-kodama/bundle-pack/internal/preprocess"
	"github.com/shinji-kodama/bundle-pack/internal/spec"
	"github.com/shinji-kodama/bundle-pack/internal/workspace"
)

// ErrPathRequired is returned when BuildOptions.Path is empty.
var ErrPathRequired = errors.New("path to source should be defined")

// Builder runs bundle builds.
type Builder struct {
	preprocessors *preprocess.Registry
	now           func() time.Time
}

// NewBuilder returns a Builder using registry for preprocessors. A nil
// registry uses preprocess.NewRegistry with the local Docker daemon.
func NewBuilder(registry *preprocess.Registry) *Builder {
	if registry == nil {
		registry = preprocess.NewRegistry(nil)
	}
	return &Builder{preprocessors: registry, now: time.Now}
}

// Build packs every selected edition of the bundle at opts.Path and
// returns one artifact per edition, in spec order. Each artifact's Key is
// the path the tarball should be written to.
//
// The temp dir holding the edition copies is removed after a successful
// build when opts.CleanWorkspace is set. It is left in place on failure.
func (b *Builder) Build(ctx context.Context, opts model.BuildOptions) ([]model.Artifact, error) {
	logger := zerolog.Ctx(ctx)

	opts, src, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	file, err := spec.Load(filepath.Join(src, spec.FileName))
	if err != nil {
		return nil, model.WrapCLIError(model.ExitSpecError, "failed to load spec", err)
	}
	bundleSpec, err := file.Normalize()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitSpecError, "failed to normalize spec", err)
	}
	if err := file.PopEdition(opts.Edition); err != nil {
		return nil, model.WrapCLIError(model.ExitSpecError, "failed to select edition", err)
	}

	layout, err := workspace.Prepare(opts.Name, opts.Workspace, src, bundleSpec.Editions)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitIOError, "failed to prepare workspace", err)
	}
	logger.Info().Str("dir", layout.TempDir).Msg("prepared workspace")

	resultDir, err := workspace.ResultDir(opts.Workspace, opts.TarballPath)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitIOError, "failed to prepare result dir", err)
	}

	for _, edition := range bundleSpec.Editions {
		env := preprocess.Env{
			Dir:     layout.EditionDirs[edition.Name],
			Edition: edition.Name,
			Release: opts.Release,
		}
		if err := b.preprocessors.Run(ctx, env, edition.Preprocessors); err != nil {
			return nil, err
		}
	}

	timestamp := ""
	if !opts.NoTimestamp {
		timestamp = b.now().UTC().Format(naming.TimestampLayout)
	}

	artifacts := make([]model.Artifact, 0, len(bundleSpec.Editions))
	for _, edition := range bundleSpec.Editions {
		dir := layout.EditionDirs[edition.Name]

		name, err := naming.AddBuildID(dir, opts.Name, edition.Name, opts.MasterBranches, timestamp)
		if err != nil {
			return nil, namingError(err)
		}

		match, err := archive.NewMatcher(bundleSpec.Version, edition.Exclude)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitSpecError, fmt.Sprintf("edition %q", edition.Name), err)
		}
		data, packed, err := archive.Pack(dir, match)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitIOError, fmt.Sprintf("failed to pack edition %q", edition.Name), err)
		}

		key := filepath.Join(resultDir, name)
		logger.Info().
			Str("edition", edition.DirName()).
			Str("tarball", key).
			Strs("files", packed).
			Msg("packed edition")
		artifacts = append(artifacts, model.Artifact{Key: key, Edition: edition.Name, Data: data})
	}

	if opts.CleanWorkspace {
		if err := layout.Clean(); err != nil {
			return nil, model.WrapCLIError(model.ExitIOError, "failed to clean workspace", err)
		}
	}
	return artifacts, nil
}

// resolveOptions fills in defaults and returns the options together with
// the symlink-resolved source path.
func resolveOptions(opts model.BuildOptions) (model.BuildOptions, string, error) {
	if opts.Path == "" {
		return opts, "", model.WrapCLIError(model.ExitUsageError, "invalid build options", ErrPathRequired)
	}

	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return opts, "", model.WrapCLIError(model.ExitIOError, "failed to resolve source path", err)
	}
	src, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return opts, "", model.WrapCLIError(model.ExitIOError, "failed to resolve source path", err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return opts, "", model.WrapCLIError(model.ExitIOError, "failed to stat source path", err)
	}
	if !info.IsDir() {
		return opts, "", model.NewCLIError(model.ExitUsageError, fmt.Sprintf("source path %s is not a directory", src))
	}

	if opts.Name == "" {
		opts.Name = filepath.Base(src)
	}
	if len(opts.MasterBranches) == 0 {
		opts.MasterBranches = []string{model.DefaultMasterBranch}
	}
	if opts.Workspace == "" {
		opts.Workspace = model.DefaultWorkspace
	}
	opts.Workspace, err = filepath.Abs(opts.Workspace)
	if err != nil {
		return opts, "", model.WrapCLIError(model.ExitIOError, "failed to resolve workspace", err)
	}
	return opts, src, nil
}

func namingError(err error) error {
	switch {
	case errors.Is(err, naming.ErrNoVersionFound), errors.Is(err, naming.ErrRestrictedSymbol):
		return model.WrapCLIError(model.ExitVersionError, "invalid bundle version", err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return model.WrapCLIError(model.ExitIOError, "failed to stamp bundle version", err)
	default:
		return model.WrapCLIError(model.ExitGitError, "failed to resolve build id", err)
	}
}
