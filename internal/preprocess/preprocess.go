// Package preprocess runs the steps declared for an edition against its
// workspace copy before the edition is packed.
//
// Each step has a type ("script", "splitter" or "python_mod_req") that
// selects a Func from a Registry. Steps run in declaration order and the
// first failure stops the edition.
package preprocess

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// Preprocessor type names.
const (
	TypeScript       = "script"
	TypeSplitter     = "splitter"
	TypePythonModReq = "python_mod_req"
)

// ErrUnknownType is returned for a step whose type has no registered Func.
var ErrUnknownType = errors.New("unknown preprocessor type")

// Env describes the edition a step runs against.
type Env struct {
	// Dir is the edition's directory inside the build temp dir.
	Dir string

	// Edition is the edition name, empty for the unnamed legacy edition.
	Edition string

	// Release is the --release flag.
	Release bool
}

// Func runs a single step.
type Func func(ctx context.Context, env Env, p model.Preprocessor) error

// Registry maps preprocessor types to their implementations.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns a registry with the script, splitter and
// python_mod_req steps. python_mod_req obtains its container engine from
// engines, which is only called when such a step is run.
func NewRegistry(engines EngineFactory) *Registry {
	r := &Registry{funcs: map[string]Func{}}
	r.Register(TypeScript, RunScript)
	r.Register(TypeSplitter, RunSplitter)
	r.Register(TypePythonModReq, NewPythonModReq(engines).Run)
	return r
}

// Register adds or replaces the Func for typ.
func (r *Registry) Register(typ string, fn Func) {
	r.funcs[typ] = fn
}

// Run executes steps in order against env. Errors are wrapped as
// model.CLIError with ExitPreprocessFailed.
func (r *Registry) Run(ctx context.Context, env Env, steps []model.Preprocessor) error {
	logger := zerolog.Ctx(ctx)
	for i, p := range steps {
		fn, ok := r.funcs[p.Type]
		if !ok {
			return model.WrapCLIError(
				model.ExitPreprocessFailed,
				fmt.Sprintf("edition %q step %d", env.Edition, i+1),
				fmt.Errorf("%w: %q", ErrUnknownType, p.Type),
			)
		}

		logger.Info().Str("edition", env.Edition).Str("type", p.Type).Msg("running preprocessor")
		if err := fn(ctx, env, p); err != nil {
			return model.WrapCLIError(
				model.ExitPreprocessFailed,
				fmt.Sprintf("edition %q step %d (%s) failed", env.Edition, i+1, p.Type),
				err,
			)
		}
	}
	return nil
}
