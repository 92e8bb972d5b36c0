package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

// ErrInvalidScriptName is returned when a script name cannot be used as a
// build target.
var ErrInvalidScriptName = perrors.New(perrors.KindInvalid, "invalid script name")

var targetNameRE = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

// skeleton is created in every assembled tree, even when empty.
var skeleton = []string{
	filepath.Join("src", "processors", "common"),
	filepath.Join("src", "services"),
	filepath.Join("include", "processors", "common"),
	filepath.Join("include", "services"),
	filepath.Join("generated", "messages"),
	filepath.Join("generated", "services"),
}

// generatedDirs are copied wholesale from the generated protocol root.
var generatedDirs = []string{"messages", "services"}

// Config holds the assembler's fixed locations.
type Config struct {
	// SourceRoot contains includes/ and src/ for the shared components.
	SourceRoot string
	// GeneratedRoot contains messages/ and services/ protocol code.
	GeneratedRoot string
	// OutputDir is the tree owned by this assembler. It is replaced on
	// every successful run.
	OutputDir string
}

// Request is one build invocation.
type Request struct {
	ScriptName string
	Includes   []string
	// MainSource, when set, is written as main.cc. Otherwise a main.cc
	// already present in the previous tree is carried over.
	MainSource []byte
}

// Assembler materializes build trees. One Assembler serializes its own
// invocations; two Assemblers must not share an OutputDir.
type Assembler struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg Config, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		logger: logger.With().Str("component", "assembler").Logger(),
	}
}

// SetMetrics attaches metrics collection.
func (a *Assembler) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// OutputDir returns the tree this assembler writes.
func (a *Assembler) OutputDir() string { return a.cfg.OutputDir }

// Assemble builds the tree for scriptName with the given include tokens and
// returns the manifest written into it.
func (a *Assembler) Assemble(ctx context.Context, scriptName string, includes []string) (*Manifest, error) {
	return a.Build(ctx, Request{ScriptName: scriptName, Includes: includes})
}

// Build assembles into a staging directory next to OutputDir and swaps it
// into place only when every step succeeded, so a failed run leaves the
// previous tree untouched.
func (a *Assembler) Build(ctx context.Context, req Request) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	m, err := a.build(ctx, req, start)
	result := "ok"
	if err != nil {
		result = perrors.KindOf(err).String()
	}
	a.metrics.RecordAssembly(result, time.Since(start).Seconds())
	return m, err
}

func (a *Assembler) build(ctx context.Context, req Request, start time.Time) (*Manifest, error) {
	project := models.Sanitize(req.ScriptName)
	if !targetNameRE.MatchString(project) || strings.Trim(project, ".") == "" {
		return nil, perrors.E(perrors.KindInvalid, "assemble "+quote(req.ScriptName), ErrInvalidScriptName)
	}
	if a.cfg.OutputDir == "" {
		return nil, perrors.E(perrors.KindConfig, "assemble", fmt.Errorf("output directory is not configured"))
	}

	deps, err := ResolveAll(req.Includes, a.cfg.SourceRoot)
	if err != nil {
		return nil, err
	}
	deps = dedupe(deps)

	out := filepath.Clean(a.cfg.OutputDir)
	parent := filepath.Dir(out)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, filepath.Base(out)+stagingMarker+"*")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()
	if err := os.Chmod(staging, 0o755); err != nil {
		return nil, fmt.Errorf("chmod staging dir: %w", err)
	}

	manifest, err := a.populate(ctx, staging, project, deps, req.MainSource)
	if err != nil {
		a.logger.Warn().Err(err).Str("script", project).Msg("assembly aborted, previous tree kept")
		return nil, err
	}

	if err := swapDir(staging, out); err != nil {
		return nil, err
	}
	committed = true

	a.logger.Info().
		Str("script", project).
		Int("dependencies", len(deps)).
		Bool("processors", manifest.HasProcessors()).
		Bool("services", manifest.HasServices()).
		Dur("duration", time.Since(start)).
		Msg("build tree assembled")

	return manifest, nil
}

func (a *Assembler) populate(ctx context.Context, root, project string, deps []Dependency, mainSource []byte) (*Manifest, error) {
	for _, dir := range skeleton {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := dep.Category.Dir()
		if err := copyFile(dep.HeaderPath, filepath.Join(root, "include", dir, dep.BaseName+headerExt)); err != nil {
			return nil, err
		}
		if err := copyFile(dep.SourcePath, filepath.Join(root, "src", dir, dep.BaseName+sourceExt)); err != nil {
			return nil, err
		}
	}

	for _, name := range generatedDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyTree(filepath.Join(a.cfg.GeneratedRoot, name), filepath.Join(root, "generated", name)); err != nil {
			return nil, err
		}
	}

	mainPath := filepath.Join(root, MainFileName)
	switch {
	case mainSource != nil:
		if err := os.WriteFile(mainPath, mainSource, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", MainFileName, err)
		}
	case fileExists(filepath.Join(a.cfg.OutputDir, MainFileName)):
		if err := copyFile(filepath.Join(a.cfg.OutputDir, MainFileName), mainPath); err != nil {
			return nil, err
		}
	}

	src, err := scanTree(root)
	if err != nil {
		return nil, err
	}
	manifest := newManifest(project, src, deps)

	if err := os.WriteFile(filepath.Join(root, CMakeFileName), manifest.RenderCMake(), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", CMakeFileName, err)
	}
	encoded, err := manifest.EncodeYAML()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFileName), encoded, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", ManifestFileName, err)
	}
	return manifest, nil
}

func scanTree(root string) (treeSources, error) {
	var (
		src treeSources
		err error
	)
	if src.Processors, err = listSources(root, filepath.Join(root, "src", "processors", "common")); err != nil {
		return src, err
	}
	if src.Services, err = listSources(root, filepath.Join(root, "src", "services")); err != nil {
		return src, err
	}
	if src.Messages, err = listSources(root, filepath.Join(root, "generated", "messages")); err != nil {
		return src, err
	}
	if src.Stubs, err = listSources(root, filepath.Join(root, "generated", "services")); err != nil {
		return src, err
	}
	return src, nil
}

// swapDir replaces dst with src. The previous dst is moved aside first and
// restored if the final rename fails.
func swapDir(src, dst string) error {
	var old string
	if _, err := os.Lstat(dst); err == nil {
		old = dst + oldMarker + strconv.FormatInt(time.Now().UnixNano(), 36)
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("moving previous tree aside: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("installing new tree: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

// Directory name markers for trees that are not live output: a staging tree
// being populated, or a previous tree moved aside during a swap.
const (
	stagingMarker = ".staging-"
	oldMarker     = ".old-"
)

// IsTransient reports whether a directory name was produced by the staging
// or swap steps of Build. Such directories outlive a run only if the process
// died mid-build.
func IsTransient(name string) bool {
	return strings.Contains(name, stagingMarker) || strings.Contains(name, oldMarker)
}

func dedupe(deps []Dependency) []Dependency {
	seen := make(map[string]bool, len(deps))
	out := deps[:0]
	for _, d := range deps {
		key := d.Category.String() + ":" + d.BaseName
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

// ScriptDir is the per-script tree under an output root:
// <outputRoot>/<user>/<title>.
func ScriptDir(outputRoot string, id models.ScriptIdentity) string {
	id = id.Sanitized()
	return filepath.Join(outputRoot, id.User, id.Title)
}
