package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// stubBuild records the options it was called with and returns artifacts.
type stubBuild struct {
	called    bool
	opts      model.BuildOptions
	artifacts []model.Artifact
	err       error
}

func (s *stubBuild) build(_ context.Context, opts model.BuildOptions) ([]model.Artifact, error) {
	s.called = true
	s.opts = opts
	return s.artifacts, s.err
}

func execute(t *testing.T, stub *stubBuild, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BUNDLE_PACK_PATH", "")

	cmd := newRootCommand(stub.build)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) model.ExitCode {
	t.Helper()
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr), "expected CLIError, got %v", err)
	return cliErr.Code
}

func TestRoot_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "bundle_v1_community.tgz")
	second := filepath.Join(dir, "bundle_v1_enterprise.tgz")
	stub := &stubBuild{artifacts: []model.Artifact{
		{Key: first, Edition: "community", Data: strings.NewReader("first tarball")},
		{Key: second, Edition: "enterprise", Data: bytes.NewReader([]byte{0x1f, 0x8b, 0x00, 0xff})},
	}}

	_, err := execute(t, stub, "--path", "/src")
	require.NoError(t, err)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "first tarball", string(got))

	got, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b, 0x00, 0xff}, got)
}

func TestRoot_Defaults(t *testing.T) {
	stub := &stubBuild{}

	_, err := execute(t, stub, "-p", "/src")
	require.NoError(t, err)

	require.True(t, stub.called)
	assert.Equal(t, model.BuildOptions{
		Path:           "/src",
		Workspace:      "/tmp",
		CleanWorkspace: true,
		MasterBranches: []string{"master"},
		LogLevel:       "ERROR",
	}, stub.opts)
}

func TestRoot_FlagsReachBuild(t *testing.T) {
	stub := &stubBuild{}

	_, err := execute(t, stub,
		"-p", "/src", "-n", "adcm", "-t", "/out", "-w", "/ws",
		"--dont-clean-ws", "-m", "main", "-m", "develop", "--verbose",
		"--release", "-e", "enterprise", "--no-timestamp")
	require.NoError(t, err)

	assert.Equal(t, model.BuildOptions{
		Name:           "adcm",
		Path:           "/src",
		TarballPath:    "/out",
		Workspace:      "/ws",
		CleanWorkspace: false,
		MasterBranches: []string{"main", "develop"},
		LogLevel:       "INFO",
		Release:        true,
		Edition:        "enterprise",
		NoTimestamp:    true,
	}, stub.opts)
}

func TestRoot_VerboseLogsWrittenTarballs(t *testing.T) {
	key := filepath.Join(t.TempDir(), "b.tgz")
	stub := &stubBuild{artifacts: []model.Artifact{{Key: key, Data: strings.NewReader("x")}}}

	out, err := execute(t, stub, "-p", "/src", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, key)

	out, err = execute(t, stub, "-p", "/src")
	require.NoError(t, err)
	assert.NotContains(t, out, key, "info logs are hidden without --verbose")
}

func TestRoot_MissingPath(t *testing.T) {
	stub := &stubBuild{}

	_, err := execute(t, stub, "--name", "bundle")

	require.Error(t, err)
	assert.Equal(t, model.ExitUsageError, exitCode(t, err))
	assert.False(t, stub.called, "build must not run without a path")
}

func TestRoot_PathFromEnvironment(t *testing.T) {
	stub := &stubBuild{}
	cmd := newRootCommand(stub.build)
	t.Setenv("BUNDLE_PACK_PATH", "/env/src")
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/env/src", stub.opts.Path)
}

func TestRoot_UnknownFlag(t *testing.T) {
	stub := &stubBuild{}

	_, err := execute(t, stub, "-p", "/src", "--bogus")

	require.Error(t, err)
	assert.Equal(t, model.ExitUsageError, exitCode(t, err))
	assert.False(t, stub.called)
}

func TestRoot_BuildErrorPropagates(t *testing.T) {
	key := filepath.Join(t.TempDir(), "never.tgz")
	stub := &stubBuild{
		artifacts: []model.Artifact{{Key: key, Data: strings.NewReader("x")}},
		err:       model.NewCLIError(model.ExitSpecError, "failed to select edition"),
	}

	_, err := execute(t, stub, "-p", "/src")

	require.Error(t, err)
	assert.Equal(t, model.ExitSpecError, exitCode(t, err))
	assert.NoFileExists(t, key)
}

func TestRoot_WriteErrorStopsLoop(t *testing.T) {
	dir := t.TempDir()
	later := filepath.Join(dir, "later.tgz")
	stub := &stubBuild{artifacts: []model.Artifact{
		{Key: filepath.Join(dir, "missing", "first.tgz"), Data: strings.NewReader("a")},
		{Key: later, Data: strings.NewReader("b")},
	}}

	_, err := execute(t, stub, "-p", "/src")

	require.Error(t, err)
	assert.Equal(t, model.ExitIOError, exitCode(t, err))
	assert.NoFileExists(t, later, "artifacts after a failed write are not written")
}
