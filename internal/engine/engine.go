// Package engine runs weave: it repeats rounds of scanning and generation
// until the generated files stop changing, then synthesizes merge points
// and writes everything out.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/cache"
	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/factory"
	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/hints"
	"github.com/iVampireSP/weave/internal/materialize"
	"github.com/iVampireSP/weave/internal/render"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/source"
	"github.com/iVampireSP/weave/internal/synth"
)

// ErrNoFixpoint is returned when generators keep changing their output.
var ErrNoFixpoint = errors.New("generated files did not settle")

type registered struct {
	gen     gen.Generator
	applies func(*config.Config) bool
}

// Engine generates the weave outputs of one module.
type Engine struct {
	cfg        *config.Config
	backend    backend.Backend
	log        *zap.Logger
	generators []registered

	// DryRun prints files to Out instead of writing them.
	DryRun bool
	Out    io.Writer
}

// New creates an engine with the binding-module and factory generators
// registered.
func New(cfg *config.Config, b backend.Backend, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{cfg: cfg, backend: b, log: log, Out: os.Stdout}
	e.Use(materialize.New(log), func(c *config.Config) bool { return !c.GenerateFactoriesOnly })
	e.Use(factory.New(log), (*config.Config).Factories)
	return e
}

// Use registers a generator. It runs every round for which applies
// returns true; a nil applies always runs.
func (e *Engine) Use(g gen.Generator, applies func(*config.Config) bool) {
	if applies == nil {
		applies = func(*config.Config) bool { return true }
	}
	e.generators = append(e.generators, registered{gen: g, applies: applies})
}

// Result describes a finished run.
type Result struct {
	Rounds      int
	UpToDate    bool
	Files       []gen.File
	Written     []string
	Removed     []string
	Invalidated []string
	Round       *scan.Round
}

// Run generates and writes every output of the module.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	unit, err := source.Load(e.cfg.Root, e.cfg.Module, e.cfg.Exclude)
	if err != nil {
		return nil, err
	}

	var c *cache.Cache
	res := &Result{}
	if e.cfg.TrackSourceFiles && !e.DryRun {
		c, err = cache.Open(ctx, e.cfg.CachePath, e.log)
		if err != nil {
			return nil, err
		}
		defer c.Close()

		fresh, invalidated, err := e.check(c, e.inputs(unit))
		if err != nil {
			return nil, err
		}
		if fresh {
			e.log.Info("up to date")
			res.UpToDate = true
			return res, nil
		}
		res.Invalidated = invalidated
	}

	round, files, n, err := e.fixpoint(ctx, unit)
	res.Rounds, res.Round = n, round
	if err != nil {
		return res, err
	}
	outputs, err := e.outputs(round, files)
	if err != nil {
		return res, err
	}
	res.Files = outputs

	if e.DryRun {
		for _, f := range outputs {
			fmt.Fprintf(e.Out, "// === %s ===\n%s\n", f.Path, f.Content)
		}
		return res, nil
	}
	if res.Written, err = write(outputs); err != nil {
		return res, err
	}
	if res.Removed, err = e.cleanup(ctx, unit, c, outputs); err != nil {
		return res, err
	}
	if c != nil {
		if err := e.record(ctx, c, unit, outputs); err != nil {
			return res, err
		}
	}
	e.log.Info("generated",
		zap.Int("rounds", res.Rounds),
		zap.Int("files", len(outputs)),
		zap.Int("written", len(res.Written)),
		zap.Int("removed", len(res.Removed)))
	return res, nil
}

// Scan runs the rounds without synthesizing or writing anything and
// returns the final round.
func (e *Engine) Scan(ctx context.Context) (*scan.Round, error) {
	unit, err := source.Load(e.cfg.Root, e.cfg.Module, e.cfg.Exclude)
	if err != nil {
		return nil, err
	}
	r, _, _, err := e.fixpoint(ctx, unit)
	return r, err
}

// fixpoint repeats rounds until no generator changes its output. Files
// generated in one round are part of the next round's input. Deferred
// declarations are only fatal once nothing changes any more, or right away
// when deferral is disabled.
func (e *Engine) fixpoint(ctx context.Context, unit *source.Unit) (*scan.Round, []gen.File, int, error) {
	hintFacts, err := hints.Load(e.cfg.Hints)
	if err != nil {
		return nil, nil, 0, err
	}

	var active []gen.Generator
	for _, g := range e.generators {
		if g.applies(e.cfg) {
			active = append(active, g.gen)
		}
	}

	generated := make(map[string]gen.File)
	for n := 1; n <= e.cfg.MaxRounds; n++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, n, err
		}
		u, err := e.backend.Load(ctx, unit.WithOverlay(contents(generated)))
		if err != nil {
			return nil, nil, n, fmt.Errorf("round %d: %w", n, err)
		}
		r, err := scan.NewRound(n, u, hintFacts, e.log)
		if err != nil {
			return nil, nil, n, err
		}
		if e.cfg.DisableDeferral && len(r.Deferred()) > 0 {
			return r, nil, n, deferrals(r)
		}

		next := make(map[string]gen.File)
		for _, g := range active {
			files, err := g.Generate(ctx, r)
			if err != nil {
				return r, nil, n, err
			}
			for _, f := range files {
				if _, dup := next[f.Path]; dup {
					return r, nil, n, fmt.Errorf("generator %s: %s is generated twice", g.Name(), f.Path)
				}
				next[f.Path] = f
			}
		}

		if same(generated, next) {
			if len(r.Deferred()) > 0 {
				return r, nil, n, deferrals(r)
			}
			e.log.Debug("fixpoint", zap.Int("rounds", n), zap.Int("files", len(next)))
			return r, gen.Sort(slices.Collect(maps.Values(next))), n, nil
		}
		e.log.Debug("round changed output", zap.Int("round", n), zap.Int("files", len(next)))
		generated = next
	}
	return nil, nil, e.cfg.MaxRounds, fmt.Errorf("%w after %d rounds", ErrNoFixpoint, e.cfg.MaxRounds)
}

func deferrals(r *scan.Round) error {
	var errs diag.List
	for _, d := range r.Deferred() {
		errs = append(errs, d)
	}
	return errs.Err()
}

func contents(files map[string]gen.File) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for p, f := range files {
		out[p] = f.Content
	}
	return out
}

func same(a, b map[string]gen.File) bool {
	if len(a) != len(b) {
		return false
	}
	for p, f := range a {
		g, ok := b[p]
		if !ok || !bytes.Equal(f.Content, g.Content) {
			return false
		}
	}
	return true
}

// outputs adds the merge outputs and the hint index to the files of the
// final round.
func (e *Engine) outputs(r *scan.Round, files []gen.File) ([]gen.File, error) {
	out := append([]gen.File(nil), files...)
	if e.cfg.Merging() {
		merged, err := e.merge(r)
		if err != nil {
			return nil, err
		}
		out = append(out, merged...)
	}
	if e.cfg.WriteHints && !e.cfg.GenerateFactoriesOnly {
		idx := hints.Build(e.cfg.Module, r.Contributions())
		if len(idx.Contributions) > 0 {
			data, err := idx.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, gen.File{Path: filepath.Join(e.cfg.Root, hints.FileName), Content: data})
		}
	}
	return gen.Sort(out), nil
}

func (e *Engine) merge(r *scan.Round) ([]gen.File, error) {
	s, err := synth.New(e.log).Synthesize(r)
	if err != nil {
		return nil, err
	}
	var out []gen.File
	for _, m := range s.Merges {
		d, ok := r.Lookup(m.Decl)
		if !ok {
			return nil, fmt.Errorf("merge point %s is not declared in this module", m.Decl)
		}
		path := filepath.Join(filepath.Dir(d.File), materialize.Snake(m.Decl.Name)+"_merged"+source.GeneratedSuffix)
		content, err := render.Merge(path, d.PkgName, m)
		if err != nil {
			return nil, err
		}
		out = append(out, gen.File{Path: path, Content: content, Sources: m.Sources})
	}
	for _, sm := range s.SubcomponentModules {
		d, ok := r.Lookup(sm.For)
		if !ok {
			continue
		}
		path := filepath.Join(filepath.Dir(d.File), materialize.Snake(sm.For.Name)+"_subcomponent"+source.GeneratedSuffix)
		content, err := render.SubcomponentModule(path, d.PkgName, sm)
		if err != nil {
			return nil, err
		}
		out = append(out, gen.File{Path: path, Content: content, Sources: sm.Sources})
	}
	return out, nil
}

// write writes the files whose content differs from what is on disk.
func write(files []gen.File) ([]string, error) {
	var written []string
	for _, f := range files {
		if old, err := os.ReadFile(f.Path); err == nil && bytes.Equal(old, f.Content) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(f.Path, f.Content, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", f.Path, err)
		}
		written = append(written, f.Path)
	}
	return written, nil
}

// cleanup removes generated files on disk that this run didn't produce.
// Only files carrying the weave header are ever removed.
func (e *Engine) cleanup(ctx context.Context, unit *source.Unit, c *cache.Cache, outputs []gen.File) ([]string, error) {
	keep := make(map[string]bool, len(outputs))
	for _, f := range outputs {
		keep[f.Path] = true
	}
	candidates := make(map[string]bool)
	for _, f := range unit.Stale {
		candidates[f.Path] = true
	}
	if c != nil {
		for _, p := range c.Generated() {
			candidates[p] = true
		}
	}
	candidates[filepath.Join(e.cfg.Root, hints.FileName)] = true

	var removed []string
	for _, p := range slices.Sorted(maps.Keys(candidates)) {
		if keep[p] {
			continue
		}
		if c != nil {
			if err := c.RemoveGenerated(ctx, p); err != nil {
				return removed, err
			}
		}
		content, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !source.IsGenerated(content) && !bytes.HasPrefix(content, []byte("# Code generated by weave.")) {
			continue
		}
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		e.log.Debug("removed stale output", zap.String("path", p))
		removed = append(removed, p)
	}
	return removed, nil
}
