package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/cache"
	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/hints"
	"github.com/iVampireSP/weave/internal/source"
)

// inputs lists every file a run depends on: the sources of the unit, the
// hint indexes of dependencies and weave.yaml.
func (e *Engine) inputs(unit *source.Unit) []string {
	var out []string
	for _, f := range unit.Sources() {
		out = append(out, f.Path)
	}
	for _, dir := range e.cfg.Hints {
		out = append(out, filepath.Join(dir, hints.FileName))
	}
	if p := filepath.Join(e.cfg.Root, config.FileName); exists(p) {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// check compares the inputs with what the cache recorded. The run is
// fresh when nothing changed, nothing was removed and every recorded output
// is still on disk. Otherwise it returns the outputs derived from changed
// or removed inputs.
func (e *Engine) check(c *cache.Cache, inputs []string) (bool, []string, error) {
	recorded := c.Sources()
	current := make(map[string]bool, len(inputs))
	var dirty []string
	for _, p := range inputs {
		current[p] = true
		changed, err := c.HasChanged(p)
		if err != nil {
			return false, nil, err
		}
		if changed {
			dirty = append(dirty, p)
		}
	}
	for _, p := range recorded {
		if !current[p] {
			dirty = append(dirty, p)
		}
	}

	if len(dirty) == 0 && len(recorded) > 0 {
		fresh := true
		for _, g := range c.Generated() {
			if !exists(g) {
				e.log.Debug("output missing", zap.String("path", g))
				fresh = false
				break
			}
		}
		if fresh {
			return true, nil, nil
		}
	}

	invalidated := make(map[string]bool)
	for _, p := range dirty {
		for _, g := range c.GeneratedFilesRecursive(p) {
			invalidated[g] = true
		}
	}
	out := make([]string, 0, len(invalidated))
	for g := range invalidated {
		out = append(out, g)
	}
	slices.Sort(out)
	e.log.Debug("inputs changed", zap.Strings("inputs", dirty), zap.Int("invalidated", len(out)))
	return false, out, nil
}

// record stores the provenance of outputs and the hashes of inputs.
func (e *Engine) record(ctx context.Context, c *cache.Cache, unit *source.Unit, outputs []gen.File) error {
	for _, f := range outputs {
		if err := c.AddGeneratedFile(ctx, f); err != nil {
			return err
		}
	}
	inputs := e.inputs(unit)
	var present []string
	for _, p := range inputs {
		if exists(p) {
			present = append(present, p)
		}
	}
	if err := c.Record(ctx, present...); err != nil {
		return err
	}
	current := make(map[string]bool, len(present))
	for _, p := range present {
		current[p] = true
	}
	for _, p := range c.Sources() {
		if !current[p] {
			if err := c.RemoveSource(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return !errors.Is(err, os.ErrNotExist)
}
