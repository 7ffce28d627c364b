// Package cli implements the cobra-based command line driver for
// bundle-pack.
//
// The driver is deliberately thin: it parses flags (and BUNDLE_PACK_*
// environment variables) into model.BuildOptions, runs the build and
// writes every returned tarball to the path it is keyed by.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/bundle-pack/internal/config"
	"github.com/shinji-kodama/bundle-pack/internal/logger"
	"github.com/shinji-kodama/bundle-pack/internal/model"
	"github.com/shinji-kodama/bundle-pack/internal/packer"
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// BuildFunc produces the tarballs for a set of build options.
type BuildFunc func(ctx context.Context, opts model.BuildOptions) ([]model.Artifact, error)

// NewRootCommand creates the bundle-pack command, backed by a packer
// that runs python_mod_req steps on the local Docker daemon.
func NewRootCommand() *cobra.Command {
	return newRootCommand(packer.NewBuilder(nil).Build)
}

func newRootCommand(build BuildFunc) *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "bundle-pack",
		Short: "Pack a bundle source tree into per-edition tarballs",
		Long: `bundle-pack builds one gzip tarball per edition of a bundle.

The sources are copied into a temporary directory under the workspace,
each edition's preprocessors are run, the bundle version is stamped with
a build id derived from git and the result is packed as
<name>_v<version><build id>_<edition>.tgz.

Every flag can also be set as BUNDLE_PACK_<FLAG>, e.g. BUNDLE_PACK_PATH.

Examples:
  bundle-pack -p ./my-bundle
  bundle-pack -p ./my-bundle -t ./dist -e enterprise -v
  bundle-pack -p ./my-bundle -m main -m release -c`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors lets Execute format errors itself.
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return model.NewCLIError(model.ExitUsageError,
					fmt.Sprintf("unexpected arguments: %v", args))
			}
			return nil
		},

		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(v)
			if err != nil {
				return model.WrapCLIError(model.ExitUsageError, "invalid configuration", err)
			}
			opts := cfg.BuildOptions()
			if opts.Path == "" {
				return model.NewCLIError(model.ExitUsageError,
					"required flag \"path\" not set (use -p/--path or BUNDLE_PACK_PATH)")
			}
			return run(cmd.Context(), cmd.OutOrStdout(), build, opts)
		},
	}

	if err := config.RegisterFlags(v, rootCmd.Flags()); err != nil {
		// Flag names are constants, so binding only fails on a programming error.
		panic(err)
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return model.WrapCLIError(model.ExitUsageError, "invalid flags", err)
	})

	return rootCmd
}

// run executes the build and writes its artifacts.
func run(ctx context.Context, logOut io.Writer, build BuildFunc, opts model.BuildOptions) error {
	log := logger.Setup(logOut, opts.LogLevel)
	ctx = log.WithContext(ctx)

	artifacts, err := build(ctx, opts)
	if err != nil {
		return err
	}
	if err := writeArtifacts(artifacts); err != nil {
		return err
	}

	for _, a := range artifacts {
		log.Info().Str("tarball", a.Key).Msg("written")
	}
	return nil
}

// writeArtifacts writes each artifact's stream to the file named by its
// key, in order. The first failure stops the loop; artifacts after it
// are not written.
func writeArtifacts(artifacts []model.Artifact) error {
	for _, a := range artifacts {
		if err := writeFile(a.Key, a.Data); err != nil {
			return model.WrapCLIError(model.ExitIOError, fmt.Sprintf("failed to write %s", a.Key), err)
		}
	}
	return nil
}

func writeFile(path string, data io.Reader) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(f, data)
	return err
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError types carry their own exit codes; other errors default to
// exit code 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// printError writes "Error: <message>" to stderr.
func printError(message string, underlying error) {
	if underlying != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	}
}
