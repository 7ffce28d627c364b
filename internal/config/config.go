// Package config binds the bundle-pack command line flags to viper and
// turns the result into model.BuildOptions.
//
// Every flag can also be set through the environment as BUNDLE_PACK_<FLAG>,
// with dashes replaced by underscores (e.g. BUNDLE_PACK_DONT_CLEAN_WS).
// A flag given on the command line wins over the environment, which wins
// over the flag default.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// EnvPrefix is the prefix of environment variables read by bundle-pack.
const EnvPrefix = "bundle_pack"

// Flag names. They double as viper keys.
const (
	FlagName           = "name"
	FlagPath           = "path"
	FlagTarPath        = "tarpath"
	FlagWorkspace      = "workspace"
	FlagDontCleanWS    = "dont-clean-ws"
	FlagMasterBranches = "master-branches"
	FlagVerbose        = "verbose"
	FlagRelease        = "release"
	FlagEdition        = "edition"
	FlagNoTimestamp    = "no-timestamp"
)

// Config mirrors the command line flags.
type Config struct {
	Name           string   `mapstructure:"name"`
	Path           string   `mapstructure:"path"`
	TarPath        string   `mapstructure:"tarpath"`
	Workspace      string   `mapstructure:"workspace"`
	DontCleanWS    bool     `mapstructure:"dont-clean-ws"`
	MasterBranches []string `mapstructure:"master-branches"`
	Verbose        bool     `mapstructure:"verbose"`
	Release        bool     `mapstructure:"release"`
	Edition        string   `mapstructure:"edition"`
	NoTimestamp    bool     `mapstructure:"no-timestamp"`
}

// New returns a viper instance reading BUNDLE_PACK_* variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags defines the bundle-pack flags on flags and binds each of
// them to v. Defaults live on the flags themselves; viper falls back to
// them when neither the command line nor the environment sets a value.
func RegisterFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.StringP(FlagName, "n", "", "Name of the bundle repository (default: base name of --path)")
	flags.StringP(FlagPath, "p", "", "Path to the bundle sources (required)")
	flags.StringP(FlagTarPath, "t", "", "Directory to put tarballs in (default: the workspace)")
	flags.StringP(FlagWorkspace, "w", model.DefaultWorkspace, "Directory for temporary build copies")
	flags.BoolP(FlagDontCleanWS, "c", false, "Keep the temporary build copies")
	flags.StringSliceP(FlagMasterBranches, "m", []string{model.DefaultMasterBranch},
		"Branches whose builds get the \"-1\" build id")
	flags.BoolP(FlagVerbose, "v", false, "Log build progress")
	flags.BoolP(FlagRelease, "r", false, "Build a release")
	flags.StringP(FlagEdition, "e", "", "Build only this edition")
	flags.BoolP(FlagNoTimestamp, "s", false, "Leave the timestamp out of pull request build ids")

	for _, name := range []string{
		FlagName, FlagPath, FlagTarPath, FlagWorkspace, FlagDontCleanWS,
		FlagMasterBranches, FlagVerbose, FlagRelease, FlagEdition, FlagNoTimestamp,
	} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Read decodes the bound flags and environment into a Config.
func Read(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return &cfg, nil
}

// BuildOptions converts the configuration into build options.
func (c *Config) BuildOptions() model.BuildOptions {
	return model.BuildOptions{
		Name:           c.Name,
		Path:           c.Path,
		TarballPath:    c.TarPath,
		Workspace:      c.Workspace,
		CleanWorkspace: !c.DontCleanWS,
		MasterBranches: c.MasterBranches,
		LogLevel:       model.LogLevelFor(c.Verbose),
		Release:        c.Release,
		Edition:        c.Edition,
		NoTimestamp:    c.NoTimestamp,
	}
}
