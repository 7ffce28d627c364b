package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// RunSplitter renders every file in p.Files as a Jinja2 template and writes
// the result next to it, with the last extension removed: "config.yaml.j2"
// becomes "config.yaml". Templates see edition and release_version as
// top-level variables; any other name is an error.
func RunSplitter(_ context.Context, env Env, p model.Preprocessor) error {
	values := map[string]any{
		"edition":         env.Edition,
		"release_version": env.Release,
	}

	cfg := config.NewConfig()
	cfg.StrictUndefined = true
	jinja := gonja.NewEnvironment(cfg, gonja.DefaultLoader)

	for _, f := range p.Files {
		src := filepath.Join(env.Dir, f)
		if err := renderFile(jinja, src, values); err != nil {
			return err
		}
	}
	return nil
}

func renderFile(jinja *gonja.Environment, src string, values map[string]any) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat template %s: %w", src, err)
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", src, err)
	}

	tmpl, err := jinja.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", src, err)
	}

	out, err := tmpl.ExecuteBytes(values)
	if err != nil {
		return fmt.Errorf("failed to render template %s: %w", src, err)
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src))
	if dst == src {
		return fmt.Errorf("template %s has no extension to strip", src)
	}
	if err := os.WriteFile(dst, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
