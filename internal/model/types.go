// Package model defines the domain types for the bundle-pack CLI.
//
// These types are passed between the CLI driver, the configuration layer
// and the packer. None of them are persisted: the only durable output of a
// run is the set of tarballs written by the driver.
package model

import (
	"fmt"
	"io"
	"strconv"
)

// Log level strings accepted by the build. The CLI driver only ever
// produces LogLevelInfo (--verbose) or LogLevelError.
const (
	LogLevelInfo  = "INFO"
	LogLevelError = "ERROR"
)

// DefaultWorkspace is the build workspace used when --workspace is omitted.
const DefaultWorkspace = "/tmp"

// DefaultMasterBranch is the only master branch when --master-branches
// is omitted.
const DefaultMasterBranch = "master"

// CommunityEdition is the edition suffix used in tarball names when an
// edition has no name.
const CommunityEdition = "community"

// BuildOptions is the fully parsed CLI configuration handed to the build.
// It is immutable once constructed by the config package.
type BuildOptions struct {
	// Name is the bundle (repository) name. Used for the tarball name and
	// the temp dir prefix. Empty means "basename of Path".
	Name string

	// Path is the bundle source directory. Required.
	Path string

	// TarballPath is the directory tarballs are placed in.
	// Empty means the workspace directory.
	TarballPath string

	// Workspace is where per-edition copies of the sources are created.
	Workspace string

	// CleanWorkspace removes the temp dir after a successful build.
	// The --dont-clean-ws flag sets it to false.
	CleanWorkspace bool

	// MasterBranches lists branch names whose builds get the "-1" build id.
	MasterBranches []string

	// LogLevel is "INFO" when --verbose was given, "ERROR" otherwise.
	LogLevel string

	// Release marks the build as a release. Exposed to splitter templates
	// as release_version.
	Release bool

	// Edition restricts the build to a single edition. Empty builds all.
	Edition string

	// NoTimestamp suppresses the timestamp in pull-request build ids.
	NoTimestamp bool
}

// LogLevelFor translates the --verbose flag into a log-level string.
func LogLevelFor(verbose bool) string {
	if verbose {
		return LogLevelInfo
	}
	return LogLevelError
}

// Artifact is one entry of the build result: an in-memory tarball and the
// path it should be written to.
type Artifact struct {
	// Key is the output path of the tarball (result dir joined with the
	// tarball name). The driver writes Data to exactly this path.
	Key string

	// Edition is the edition name this tarball was packed from.
	// Empty for the unnamed edition of a legacy spec.
	Edition string

	// Data holds the gzip-compressed tar stream.
	Data io.Reader
}

// Spec is a normalized (version 1.0) bundle spec file.
type Spec struct {
	// Version selects the exclusion matcher: "" for legacy glob rules,
	// "1.0" for regular expressions.
	Version string `yaml:"version"`

	// Editions lists the build variants in declaration order.
	Editions []Edition `yaml:"editions"`
}

// Edition is a named build variant of a bundle.
type Edition struct {
	// Name identifies the edition. Empty for the single edition produced
	// by migrating a legacy spec.
	Name string `yaml:"name"`

	// Exclude lists patterns of paths left out of the tarball.
	Exclude []string `yaml:"exclude"`

	// Preprocessors run against the edition's workspace copy, in order,
	// before it is packed.
	Preprocessors []Preprocessor `yaml:"preprocessors"`
}

// DirName returns the name of the edition's directory inside the build
// temp dir. The unnamed edition uses "None".
func (e Edition) DirName() string {
	if e.Name == "" {
		return "None"
	}
	return e.Name
}

// Preprocessor describes one step run against an edition before packing.
// Which fields are meaningful depends on Type.
type Preprocessor struct {
	// Type is one of "script", "splitter" or "python_mod_req".
	Type string `yaml:"type"`

	// Script is the executable run by a "script" preprocessor.
	Script string `yaml:"script,omitempty"`

	// Args are passed to Script.
	Args []string `yaml:"args,omitempty"`

	// Files are the templates rendered by a "splitter" preprocessor.
	Files []string `yaml:"files,omitempty"`

	// Requirements is the requirements YAML read by "python_mod_req".
	Requirements string `yaml:"requirements,omitempty"`

	// Image is the base image for "python_mod_req".
	Image string `yaml:"image,omitempty"`

	// PreparedImage is an image that already has the requirements
	// installed. It is reused (and kept) when it exists.
	PreparedImage string `yaml:"prepared_image,omitempty"`
}

// ExitCode defines the process exit codes of the CLI.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitUsageError indicates invalid or missing command-line arguments.
	// No build was attempted.
	ExitUsageError ExitCode = 2

	// ExitSpecError indicates spec.yaml could not be read or normalized,
	// or the requested edition does not exist.
	ExitSpecError ExitCode = 3

	// ExitVersionError indicates the bundle version is missing or invalid.
	ExitVersionError ExitCode = 4

	// ExitGitError indicates git data could not be read.
	ExitGitError ExitCode = 5

	// ExitPreprocessFailed indicates a preprocessor failed.
	ExitPreprocessFailed ExitCode = 6

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 7

	// ExitIOError indicates a filesystem operation failed.
	ExitIOError ExitCode = 8
)

// String returns the exit code as a decimal string.
func (c ExitCode) String() string {
	return strconv.Itoa(int(c))
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
