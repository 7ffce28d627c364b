package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// Pack walks dir and writes every entry not excluded by match into a
// gzip-compressed tar stream. It returns the stream and the names stored
// in it, in packing order.
//
// Only regular files and symbolic links become tar entries; directories
// are descended into but not stored. A symlink pointing at a directory is
// descended like a directory. An excluded directory is skipped whole.
// Entry names are relative to dir and slash-separated.
func Pack(dir string, match Matcher) (*bytes.Buffer, []string, error) {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)

	names, err := addDir(tw, dir, "", match)
	if err != nil {
		return nil, nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf, names, nil
}

// addDir adds the contents of root/rel to tw, depth first, in name order.
func addDir(tw *tar.Writer, root, rel string, match Matcher) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		relPath := path.Join(rel, name)
		if match(relPath, name) {
			continue
		}

		fullPath := filepath.Join(root, filepath.FromSlash(relPath))

		// os.Stat follows symlinks, so a link to a directory is walked.
		info, err := os.Stat(fullPath)
		if err == nil && info.IsDir() {
			sub, err := addDir(tw, root, relPath, match)
			if err != nil {
				return nil, err
			}
			names = append(names, sub...)
			continue
		}

		if err := addFile(tw, fullPath, relPath); err != nil {
			return nil, err
		}
		names = append(names, relPath)
	}
	return names, nil
}

// addFile writes a single regular file or symlink entry.
func addFile(tw *tar.Writer, fullPath, name string) error {
	info, err := os.Lstat(fullPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(fullPath)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", name, err)
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", name, err)
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to add %s to tarball: %w", name, err)
	}
	return nil
}
