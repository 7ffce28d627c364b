// Package spec loads and normalizes the spec.yaml file found at the root
// of a bundle source directory.
//
// Two formats exist. Version "1.0" files list editions explicitly:
//
//	version: "1.0"
//	editions:
//	  - name: community
//	    exclude: ["^tests"]
//	    preprocessors:
//	      - type: script
//	        script: gen.sh
//
// Anything else is a legacy file: top-level "*_dir" keys name directories
// to leave out of the tarball, and a "processing" list describes steps to
// run. Legacy files are migrated to a single unnamed 1.0 edition.
package spec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// FileName is the spec file looked up at the root of the bundle sources.
const FileName = "spec.yaml"

// Version10 is the only explicit spec version.
const Version10 = "1.0"

// versions lists supported spec versions in migration order.
var versions = []string{Version10}

var (
	// ErrEditionNotFound is returned by PopEdition when the requested
	// edition is not declared in the spec.
	ErrEditionNotFound = errors.New("build edition is not present in spec file")

	// ErrEditionsUnsupported is returned by PopEdition when the spec has
	// not been normalized to a version that knows about editions.
	ErrEditionsUnsupported = errors.New("current spec version doesn't support editions")

	// ErrUnknownProcessing is returned when a legacy processing entry is
	// neither a script nor python_mod_req.
	ErrUnknownProcessing = errors.New("unrecognized processing function")
)

// File is a loaded spec file.
type File struct {
	// Path is where the file was read from.
	Path string

	// Spec is the normalized content. It is only populated once
	// Normalize has been called.
	Spec model.Spec

	// CurrentVersion is the declared version before Normalize and
	// the latest supported version after it.
	CurrentVersion string

	root *yaml.Node
}

// Load reads the spec file at path. A missing file is not an error: it
// yields an empty legacy spec, which normalizes to one unnamed edition.
func Load(path string) (*File, error) {
	f := &File{Path: path, CurrentVersion: "0"}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read spec file %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse spec file %s: %w", path, err)
	}

	// An empty document decodes to a zero node with no content.
	if len(doc.Content) == 0 {
		return f, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("spec file %s: top level must be a mapping", path)
	}
	f.root = root

	if v := lookup(root, "version"); v != nil && v.Kind == yaml.ScalarNode {
		f.CurrentVersion = v.Value
	}
	return f, nil
}

// Normalize migrates the spec to the latest supported version and
// returns it. Files already at 1.0 are decoded as-is.
func (f *File) Normalize() (*model.Spec, error) {
	start := 0
	for i, v := range versions {
		if sameVersion(f.CurrentVersion, v) {
			start = i + 1
			if err := f.root.Decode(&f.Spec); err != nil {
				return nil, fmt.Errorf("failed to decode spec file %s: %w", f.Path, err)
			}
			f.Spec.Version = v
		}
	}

	for _, v := range versions[start:] {
		switch v {
		case Version10:
			migrated, err := f.toVersion10()
			if err != nil {
				return nil, err
			}
			f.Spec = *migrated
		}
	}

	f.CurrentVersion = versions[len(versions)-1]
	return &f.Spec, nil
}

// PopEdition narrows the spec down to the named edition.
//
// An empty name keeps the unnamed edition if the spec has one, and every
// edition otherwise.
func (f *File) PopEdition(name string) error {
	current, err := strconv.ParseFloat(f.CurrentVersion, 64)
	if err != nil || current < 1.0 {
		return ErrEditionsUnsupported
	}

	for _, edition := range f.Spec.Editions {
		if edition.Name == name {
			f.Spec.Editions = []model.Edition{edition}
			return nil
		}
	}
	if name == "" {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrEditionNotFound, name)
}

// legacyProcessing is one entry of a legacy "processing" list.
type legacyProcessing struct {
	Name       string `yaml:"name"`
	Script     string `yaml:"script"`
	File       string `yaml:"file"`
	ExceptFile bool   `yaml:"except_file"`
}

// toVersion10 converts a legacy spec into a single unnamed edition.
// The resulting spec keeps an empty Version so that archive packing uses
// the legacy glob matcher.
func (f *File) toVersion10() (*model.Spec, error) {
	var processing []legacyProcessing
	if node := lookup(f.root, "processing"); node != nil {
		if err := node.Decode(&processing); err != nil {
			return nil, fmt.Errorf("failed to decode processing in %s: %w", f.Path, err)
		}
	}

	edition := model.Edition{
		Exclude:       exceptVar(f.root, processing),
		Preprocessors: []model.Preprocessor{},
	}

	for _, p := range processing {
		switch {
		case p.Script != "":
			dirNode := lookup(f.root, p.Name+"_dir")
			if dirNode == nil {
				return nil, fmt.Errorf("spec file %s: processing %q refers to missing key %q",
					f.Path, p.Name, p.Name+"_dir")
			}
			edition.Preprocessors = append(edition.Preprocessors, model.Preprocessor{
				Type:   "script",
				Script: filepath.Join(dirNode.Value, p.Script),
				Args:   []string{p.File},
			})
		case p.Name == "python_mod_req":
			edition.Preprocessors = append(edition.Preprocessors, model.Preprocessor{
				Type:         p.Name,
				Requirements: p.File,
			})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProcessing, p.Name)
		}
	}

	return &model.Spec{Editions: []model.Edition{edition}}, nil
}

// exceptVar collects the legacy exclusion list: the value of every
// top-level key containing "_dir", in file order, followed by each
// processing file marked except_file.
func exceptVar(root *yaml.Node, processing []legacyProcessing) []string {
	var except []string
	if root != nil {
		for i := 0; i+1 < len(root.Content); i += 2 {
			if strings.Contains(root.Content[i].Value, "_dir") {
				except = append(except, root.Content[i+1].Value)
			}
		}
	}
	for _, p := range processing {
		if p.ExceptFile {
			except = append(except, p.File)
		}
	}
	return except
}

// lookup returns the value node for key in a mapping node, or nil.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// sameVersion compares a declared version against a supported one.
// Both "1.0" and an unquoted 1 are accepted for version 1.0.
func sameVersion(declared, supported string) bool {
	if declared == supported {
		return true
	}
	d, err := strconv.ParseFloat(declared, 64)
	if err != nil {
		return false
	}
	s, err := strconv.ParseFloat(supported, 64)
	return err == nil && d == s
}
