package preprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// RunScript runs p.Script with p.Args in the edition directory. A relative
// script path that exists inside the edition directory is resolved
// against it; otherwise it is looked up on PATH.
func RunScript(ctx context.Context, env Env, p model.Preprocessor) error {
	if p.Script == "" {
		return fmt.Errorf("script preprocessor has no script")
	}

	cmd := exec.CommandContext(ctx, resolveScript(env.Dir, p.Script), p.Args...)
	cmd.Dir = env.Dir
	out, err := cmd.CombinedOutput()

	output := strings.TrimSpace(string(out))
	if output != "" {
		zerolog.Ctx(ctx).Info().Str("script", p.Script).Msg(output)
	}
	if err != nil {
		return fmt.Errorf("script %s: %w: %s", p.Script, err, output)
	}
	return nil
}

func resolveScript(dir, script string) string {
	if filepath.IsAbs(script) {
		return script
	}
	candidate := filepath.Join(dir, script)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return script
}
