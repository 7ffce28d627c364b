// Package model defines the domain types and value objects for the
// bundle-pack CLI.
//
// This package contains pure data structures with no external dependencies:
// the parsed CLI configuration (BuildOptions), the build result (Artifact),
// the normalized spec file (Spec, Edition, Preprocessor), and the exit
// codes plus CLIError type used to map failures to process exit statuses.
package model
