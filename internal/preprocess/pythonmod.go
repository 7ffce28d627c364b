package preprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/bundle-pack/internal/docker"
	"github.com/shinji-kodama/bundle-pack/internal/model"
)

// DefaultImage is the base image python modules are installed into when
// the step does not name one.
const DefaultImage = "arenadata/adcm:latest"

// PmodDir is the directory, relative to the edition root, that receives
// the vendored modules.
const PmodDir = "pmod"

// mountPoint is where the edition directory is bind-mounted in the copy
// container.
const mountPoint = "/bundle"

// ErrNoModulesToInstall is returned when the requirements file lists no
// python modules.
var ErrNoModulesToInstall = errors.New("no python modules to install")

// ContainerEngine is the subset of docker.Client used by python_mod_req.
type ContainerEngine interface {
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	Run(ctx context.Context, opts docker.RunOptions) (string, error)
	RunAndCommit(ctx context.Context, opts docker.RunOptions, reference string) (string, error)
	RemoveImage(ctx context.Context, id string) error
	Close() error
}

// EngineFactory connects to a container engine.
type EngineFactory func(ctx context.Context) (ContainerEngine, error)

// DockerEngine is the production EngineFactory.
func DockerEngine(ctx context.Context) (ContainerEngine, error) {
	c, err := docker.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Requirements is the content of a python_mod_req requirements file.
type Requirements struct {
	PythonMod []string `yaml:"python_mod"`
	SystemPkg []string `yaml:"system_pkg"`
}

// PythonModReq vendors python modules into an edition. It installs the
// modules in a container, works out which files pip added and copies
// them into the edition's pmod directory.
type PythonModReq struct {
	engines EngineFactory
	newTag  func() string
	uid     int
	gid     int
}

// NewPythonModReq returns the python_mod_req step. A nil factory uses
// DockerEngine.
func NewPythonModReq(engines EngineFactory) *PythonModReq {
	if engines == nil {
		engines = DockerEngine
	}
	return &PythonModReq{
		engines: engines,
		newTag:  uuid.NewString,
		uid:     os.Getuid(),
		gid:     os.Getgid(),
	}
}

// Run implements Func.
func (m *PythonModReq) Run(ctx context.Context, env Env, p model.Preprocessor) error {
	logger := zerolog.Ctx(ctx)

	reqs, err := ReadRequirements(filepath.Join(env.Dir, p.Requirements))
	if err != nil {
		return err
	}

	engine, err := m.engines(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	base := p.Image
	if base == "" {
		base = DefaultImage
	}
	logger.Info().Str("image", base).Msg("pulling base image")
	if err := engine.PullImage(ctx, base); err != nil {
		return err
	}

	prepared, created, err := m.prepareImage(ctx, engine, env, base, p.PreparedImage, reqs)
	if err != nil {
		return err
	}
	if created {
		defer func() {
			if err := engine.RemoveImage(context.WithoutCancel(ctx), prepared); err != nil {
				logger.Error().Err(err).Str("image", prepared).Msg("failed to remove prepared image")
			}
		}()
	}

	before, err := m.freeze(ctx, engine, env, base)
	if err != nil {
		return err
	}
	after, err := m.freeze(ctx, engine, env, prepared)
	if err != nil {
		return err
	}
	added := NewModules(before, after)
	if len(added) == 0 {
		logger.Info().Str("edition", env.Edition).Msg("requirements add no python modules")
		return nil
	}

	out, err := engine.Run(ctx, docker.RunOptions{
		Image:   prepared,
		Cmd:     append([]string{"pip", "show", "-f"}, added...),
		Purpose: "pip-show",
		Source:  env.Dir,
	})
	if err != nil {
		return err
	}
	sources := CopySources(ParsePipShow(out))
	logger.Info().Strs("modules", added).Strs("paths", sources).Msg("vendoring python modules")

	_, err = engine.Run(ctx, docker.RunOptions{
		Image:   prepared,
		Cmd:     []string{"/bin/sh", "-c", copyScript(sources, m.uid, m.gid)},
		Binds:   []string{env.Dir + ":" + mountPoint},
		Purpose: "copy",
		Source:  env.Dir,
	})
	return err
}

// prepareImage returns an image with reqs installed. An existing
// preparedRef is reused as is; otherwise a new image is committed and
// created reports that the caller owns it.
func (m *PythonModReq) prepareImage(ctx context.Context, engine ContainerEngine, env Env,
	base, preparedRef string, reqs *Requirements) (string, bool, error) {
	if preparedRef != "" {
		ok, err := engine.ImageExists(ctx, preparedRef)
		if err != nil {
			return "", false, err
		}
		if ok {
			zerolog.Ctx(ctx).Info().Str("image", preparedRef).Msg("using prepared image")
			return preparedRef, false, nil
		}
	}

	ref := docker.ImageRepository(base) + ":" + m.newTag()
	zerolog.Ctx(ctx).Info().Str("image", ref).Msg("installing requirements")
	id, err := engine.RunAndCommit(ctx, docker.RunOptions{
		Image:   base,
		Cmd:     []string{"/bin/sh", "-c", installScript(reqs)},
		Purpose: "install",
		Source:  env.Dir,
	}, ref)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (m *PythonModReq) freeze(ctx context.Context, engine ContainerEngine, env Env, image string) (string, error) {
	return engine.Run(ctx, docker.RunOptions{
		Image:   image,
		Cmd:     []string{"pip", "freeze"},
		Purpose: "pip-freeze",
		Source:  env.Dir,
	})
}

// ReadRequirements loads a requirements file. A file without python
// modules yields ErrNoModulesToInstall.
func ReadRequirements(file string) (*Requirements, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements: %w", err)
	}
	var reqs Requirements
	if err := yaml.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("failed to parse requirements %s: %w", file, err)
	}
	if len(reqs.PythonMod) == 0 {
		return nil, fmt.Errorf("%s: %w", file, ErrNoModulesToInstall)
	}
	return &reqs, nil
}

// NewModules returns the names of the packages present in the after
// freeze listing but not in before, sorted.
func NewModules(before, after string) []string {
	seen := map[string]bool{}
	for _, line := range strings.Split(before, "\n") {
		seen[strings.TrimSpace(line)] = true
	}

	var added []string
	for _, line := range strings.Split(after, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		added = append(added, freezeName(line))
	}
	sort.Strings(added)
	return added
}

// freezeName extracts the package name of a pip freeze line such as
// "PyYAML==6.0" or "pkg @ file:///src".
func freezeName(line string) string {
	for _, sep := range []string{"==", " @ "} {
		if i := strings.Index(line, sep); i >= 0 {
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}

// PipModule is one package of `pip show -f` output.
type PipModule struct {
	Name     string
	Location string
	Files    []string
}

// ParsePipShow parses `pip show -f` output for one or more packages.
// Packages are separated by "---" lines; file entries are the indented
// lines following "Files:".
func ParsePipShow(out string) []PipModule {
	var (
		modules []PipModule
		cur     *PipModule
		inFiles bool
	)
	flush := func() {
		if cur != nil && cur.Name != "" {
			modules = append(modules, *cur)
		}
		cur, inFiles = nil, false
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		if cur == nil {
			cur = &PipModule{}
		}
		if inFiles && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			if f := strings.TrimSpace(line); f != "" {
				cur.Files = append(cur.Files, f)
			}
			continue
		}
		inFiles = false

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			cur.Name = value
		case "Location":
			cur.Location = value
		case "Files":
			inFiles = true
		}
	}
	flush()
	return modules
}

// TopLevel returns the distinct first path elements of files, in order
// of first appearance. Entries outside the package location ("../...")
// and bytecode caches are skipped.
func (m PipModule) TopLevel() []string {
	seen := map[string]bool{}
	var tops []string
	for _, f := range m.Files {
		top, _, _ := strings.Cut(path.Clean(filepath.ToSlash(f)), "/")
		if top == ".." || top == "." || top == "__pycache__" || seen[top] {
			continue
		}
		seen[top] = true
		tops = append(tops, top)
	}
	return tops
}

// CopySources returns the absolute in-container paths to copy for modules.
func CopySources(modules []PipModule) []string {
	seen := map[string]bool{}
	var sources []string
	for _, m := range modules {
		for _, top := range m.TopLevel() {
			p := path.Join(m.Location, top)
			if !seen[p] {
				seen[p] = true
				sources = append(sources, p)
			}
		}
	}
	return sources
}

func installScript(reqs *Requirements) string {
	var steps []string
	if len(reqs.SystemPkg) > 0 {
		steps = append(steps, "apk add --no-cache "+shellJoin(reqs.SystemPkg))
	}
	steps = append(steps, "pip install "+shellJoin(reqs.PythonMod))
	return strings.Join(steps, " && ")
}

func copyScript(sources []string, uid, gid int) string {
	dst := path.Join(mountPoint, PmodDir)
	steps := []string{"mkdir -p " + shellQuote(dst)}
	if len(sources) > 0 {
		steps = append(steps, "cp -r "+shellJoin(sources)+" "+shellQuote(dst)+"/")
	}
	steps = append(steps, fmt.Sprintf("chown -R %d:%d %s", uid, gid, shellQuote(dst)))
	return strings.Join(steps, " && ")
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
