// Package workspace prepares the per-edition working copies of the bundle
// sources.
//
// Preprocessors modify the sources (rendering templates, vendoring Python
// modules, rewriting the bundle version), so every edition gets its own
// full copy inside a unique temp dir under the build workspace. Concurrent
// builds sharing a workspace therefore never touch each other's files.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// Layout describes a prepared workspace.
type Layout struct {
	// TempDir is the unique directory created for this build. Removing it
	// removes every edition copy.
	TempDir string

	// EditionDirs maps edition names to their working copy.
	EditionDirs map[string]string
}

// Prepare creates a temp dir named "<name>_*" under workspace and copies
// src into one sub-directory per edition.
func Prepare(name, workspace, src string, editions []model.Edition) (*Layout, error) {
	tmpDir, err := os.MkdirTemp(workspace, name+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir in workspace %s: %w", workspace, err)
	}

	layout := &Layout{TempDir: tmpDir, EditionDirs: make(map[string]string, len(editions))}
	for _, edition := range editions {
		dst := filepath.Join(tmpDir, edition.DirName())
		if err := CopyTree(src, dst); err != nil {
			return nil, err
		}
		layout.EditionDirs[edition.Name] = dst
	}
	return layout, nil
}

// Clean removes the temp dir and everything in it.
func (l *Layout) Clean() error {
	if err := os.RemoveAll(l.TempDir); err != nil {
		return fmt.Errorf("failed to clean workspace %s: %w", l.TempDir, err)
	}
	return nil
}

// ResultDir returns the directory tarballs are placed in: tarballPath when
// set (created if missing), otherwise the workspace itself.
func ResultDir(workspace, tarballPath string) (string, error) {
	if tarballPath == "" {
		return workspace, nil
	}
	if err := os.MkdirAll(tarballPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tarball directory %s: %w", tarballPath, err)
	}
	return tarballPath, nil
}

// CopyTree recursively copies srcDir into dstDir, preserving file modes.
// Symbolic links are recreated as links rather than followed, so links
// inside the bundle keep pointing where they did.
func CopyTree(srcDir, dstDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("error walking source directory at %s: %w", path, walkErr)
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		dstPath := filepath.Join(dstDir, relPath)

		// filepath.Walk uses Lstat, so links are reported as links here
		// and never descended.
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read link %s: %w", path, err)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return fmt.Errorf("failed to create link %s: %w", dstPath, err)
			}
			return nil
		}

		if info.IsDir() {
			if err := os.MkdirAll(dstPath, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dstPath, err)
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, dstPath, info.Mode())
	})
}

// copyFile copies a single file from src to dst, preserving the file mode.
func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dst, err)
	}
	defer func() { _ = dstFile.Close() }()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}
