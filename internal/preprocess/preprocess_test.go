package preprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Run(context.Background(), Env{Dir: t.TempDir()}, []model.Preprocessor{{Type: "rsync"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitPreprocessFailed, cliErr.Code)
}

func TestRegistry_RunsInOrderAndStopsOnError(t *testing.T) {
	r := &Registry{funcs: map[string]Func{}}
	var calls []string
	r.Register("a", func(_ context.Context, _ Env, p model.Preprocessor) error {
		calls = append(calls, "a:"+p.Script)
		return nil
	})
	r.Register("fail", func(context.Context, Env, model.Preprocessor) error {
		calls = append(calls, "fail")
		return errors.New("boom")
	})

	err := r.Run(context.Background(), Env{Edition: "ee"}, []model.Preprocessor{
		{Type: "a", Script: "1"},
		{Type: "a", Script: "2"},
		{Type: "fail"},
		{Type: "a", Script: "3"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"a:1", "a:2", "fail"}, calls)
}

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\necho \"$1\" > out.txt\n"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "gen.sh"), []byte(script), 0o755))

	err := RunScript(context.Background(), Env{Dir: dir}, model.Preprocessor{
		Type:   TypeScript,
		Script: "scripts/gen.sh",
		Args:   []string{"hello"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestRunScript_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fail.sh"), []byte("#!/bin/sh\necho nope\nexit 3\n"), 0o755))

	err := RunScript(context.Background(), Env{Dir: dir}, model.Preprocessor{Script: "fail.sh"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRunScript_Empty(t *testing.T) {
	err := RunScript(context.Background(), Env{Dir: t.TempDir()}, model.Preprocessor{})
	assert.Error(t, err)
}

func TestRunSplitter(t *testing.T) {
	dir := t.TempDir()
	tmpl := "edition: {{ edition }}\nrelease: {{ release_version }}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml.j2"), []byte(tmpl), 0o640))

	err := RunSplitter(context.Background(), Env{Dir: dir, Edition: "enterprise", Release: true},
		model.Preprocessor{Type: TypeSplitter, Files: []string{"config.yaml.j2"}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "edition: enterprise\nrelease: True", string(got))

	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestRunSplitter_MissingKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt.tmpl"), []byte("{{ nope }}"), 0o644))

	err := RunSplitter(context.Background(), Env{Dir: dir},
		model.Preprocessor{Files: []string{"a.txt.tmpl"}})

	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

// TestRunSplitter_JinjaStatements verifies that Jinja2 control blocks and
// filters work on the edition variable.
func TestRunSplitter_JinjaStatements(t *testing.T) {
	dir := t.TempDir()
	tmpl := `{% if edition == "enterprise" %}ee{% else %}{{ edition | upper }}{% endif %}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "name.txt.j2"), []byte(tmpl), 0o644))

	err := RunSplitter(context.Background(), Env{Dir: dir, Edition: "community"},
		model.Preprocessor{Files: []string{"name.txt.j2"}})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "name.txt"))
	require.NoError(t, err)
	assert.Equal(t, "COMMUNITY", string(got))
}

func TestRunSplitter_MissingFile(t *testing.T) {
	err := RunSplitter(context.Background(), Env{Dir: t.TempDir()},
		model.Preprocessor{Files: []string{"absent.j2"}})
	assert.Error(t, err)
}
