// Package naming implements the tarball naming rules.
//
// A tarball is named "<repo>_v<version><build id>_<edition>.tgz". The
// version comes from the bundle's config.yaml. The build id is derived
// from git state: master branches build "-1", other branches build
// "-<branch>", pull requests build "-rc<number>.<timestamp>". When a build
// id is applied it is also written back into config.yaml, so the packed
// bundle reports the same version as its file name.
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/bundle-pack/internal/gitinfo"
	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// TimestampLayout formats the UTC build timestamp used in pull-request
// build ids (YYYYMMDDHHMMSS).
const TimestampLayout = "20060102150405"

// MasterBuildID is the build id of builds from a master branch, and of
// git repositories whose branch cannot be resolved.
const MasterBuildID = "-1"

// configFileNames are the bundle config files searched for the version,
// in order.
var configFileNames = []string{"config.yaml", "config.yml"}

var (
	// ErrNoVersionFound is returned when the bundle config declares no version.
	ErrNoVersionFound = errors.New("no version detected")

	// ErrRestrictedSymbol is returned when a version contains "-", which is
	// reserved as the build id separator.
	ErrRestrictedSymbol = errors.New("version contains restricted symbol \"-\"")
)

// BundleConfig locates the version of a bundle.
type BundleConfig struct {
	// File is the config file the version was read from.
	File string

	// Version is the raw scalar text of the version, e.g. "1.10"
	// rather than the float 1.1.
	Version string
}

// ReadVersion finds the bundle config in dir and returns its version.
//
// The config may be a single object or a list of objects. In a list, the
// first object of type cluster or provider wins; otherwise the first
// object carrying a version is used.
func ReadVersion(dir string) (*BundleConfig, error) {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read bundle config %s: %w", path, err)
		}

		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse bundle config %s: %w", path, err)
		}

		node := findVersion(&doc)
		if node == nil {
			return nil, fmt.Errorf("%w in %s", ErrNoVersionFound, path)
		}
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("bundle version in %s must be a string", path)
		}
		return &BundleConfig{File: path, Version: node.Value}, nil
	}
	return nil, fmt.Errorf("%w: no bundle config in %s", ErrNoVersionFound, dir)
}

func findVersion(doc *yaml.Node) *yaml.Node {
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.MappingNode:
		return lookup(root, "version")
	case yaml.SequenceNode:
		var fallback *yaml.Node
		for _, item := range root.Content {
			version := lookup(item, "version")
			if version == nil {
				continue
			}
			if t := lookup(item, "type"); t != nil && (t.Value == "cluster" || t.Value == "provider") {
				return version
			}
			if fallback == nil {
				fallback = version
			}
		}
		return fallback
	}
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// CheckVersion rejects versions that cannot carry a build id.
func CheckVersion(version string) error {
	if i := strings.Index(version, "-"); i >= 0 {
		return fmt.Errorf("%w in position %d", ErrRestrictedSymbol, i)
	}
	return nil
}

// ResolveBuildID derives the build id from git data. A nil data yields
// MasterBuildID. The timestamp is only used for pull requests and is
// omitted, together with its separator, when empty.
func ResolveBuildID(data *gitinfo.Data, masterBranches []string, timestamp string) string {
	switch {
	case data == nil:
		return MasterBuildID
	case data.IsPullRequest():
		id := "-rc" + data.PullRequest
		// Unlike the legacy naming, which always kept the dot ("-rc42."),
		// an empty timestamp drops the separator too.
		if timestamp != "" {
			id += "." + timestamp
		}
		return id
	case slices.Contains(masterBranches, data.Branch):
		return MasterBuildID
	default:
		return "-" + strings.NewReplacer("-", "_", "/", "_").Replace(data.Branch)
	}
}

// WriteVersion rewrites every line of file that contains "version:" and
// oldVersion, replacing oldVersion with newVersion. Other lines, and the
// file mode, are left untouched.
func WriteVersion(file, oldVersion, newVersion string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", file, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	lines := strings.SplitAfter(string(data), "\n")
	for i, line := range lines {
		if strings.Contains(line, "version:") && strings.Contains(line, oldVersion) {
			lines[i] = strings.ReplaceAll(line, oldVersion, newVersion)
		}
	}

	if err := os.WriteFile(file, []byte(strings.Join(lines, "")), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

// TarballName formats the tarball file name. An empty edition is named
// "community".
func TarballName(repoName, version, buildID, edition string) string {
	if edition == "" || edition == "None" {
		edition = model.CommunityEdition
	}
	return repoName + "_v" + version + buildID + "_" + edition + ".tgz"
}

// AddBuildID computes the tarball name for the edition copy in dir. When
// dir is a git repository, the version is validated, the build id is
// resolved and written back into the bundle config.
func AddBuildID(dir, repoName, edition string, masterBranches []string, timestamp string) (string, error) {
	cfg, err := ReadVersion(dir)
	if err != nil {
		return "", err
	}

	data, err := gitinfo.Discover(dir)
	if err != nil {
		return "", err
	}

	buildID := ""
	if data != nil {
		if err := CheckVersion(cfg.Version); err != nil {
			return "", err
		}
		buildID = ResolveBuildID(data, masterBranches, timestamp)
		if err := WriteVersion(cfg.File, cfg.Version, cfg.Version+buildID); err != nil {
			return "", err
		}
	}

	return TarballName(repoName, cfg.Version, buildID, edition), nil
}
