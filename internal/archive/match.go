// Package archive packs an edition directory into a gzip-compressed tar
// stream, leaving out entries matched by the edition's exclusion rules.
package archive

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// ErrInvalidSpecVersion is returned for a spec version that has no
// exclusion matcher.
var ErrInvalidSpecVersion = errors.New("not valid spec version")

// legacyDefaults are always excluded when packing with the legacy matcher.
var legacyDefaults = []string{
	"spec.yaml", "pylintrc", ".[0-9a-zA-Z]*", "*pycache*",
	"README.md", "*requirements*", "*.gz", "*.md",
}

// Matcher reports whether an entry should be left out of the tarball.
// relPath is the slash-separated path relative to the edition root and
// name is its base name.
type Matcher func(relPath, name string) bool

// NewMatcher returns the exclusion matcher for a spec version.
//
// The legacy matcher (empty version) treats each pattern as an fnmatch
// glob tested against both the relative path and the base name, and always
// adds the default exclusions. As with fnmatch, "*" also matches "/" and
// "[!x]" is a negated class. The "1.0" matcher treats each pattern as a
// regular expression anchored at the start of the relative path.
func NewMatcher(version string, exclude []string) (Matcher, error) {
	switch version {
	case "":
		patterns := make([]string, 0, len(exclude)+len(legacyDefaults))
		patterns = append(patterns, exclude...)
		patterns = append(patterns, legacyDefaults...)
		globs := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
			}
			globs = append(globs, g)
		}
		return func(relPath, name string) bool {
			for _, g := range globs {
				if g.Match(relPath) || g.Match(name) {
					return true
				}
			}
			return false
		}, nil

	case "1.0":
		progs := make([]*regexp.Regexp, 0, len(exclude))
		for _, p := range exclude {
			re, err := regexp.Compile(`^(?:` + p + `)`)
			if err != nil {
				return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
			}
			progs = append(progs, re)
		}
		return func(relPath, _ string) bool {
			for _, re := range progs {
				if re.MatchString(relPath) {
					return true
				}
			}
			return false
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSpecVersion, version)
	}
}
