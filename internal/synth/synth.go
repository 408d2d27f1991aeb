// Package synth turns merge points into the shape of their generated
// output: the modules, dependencies and supertypes each one ends up with.
package synth

import (
	"fmt"
	"go/token"
	"slices"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/resolve"
	"github.com/iVampireSP/weave/internal/scan"
)

// State is the progress of one merge-point job.
type State int

const (
	Collecting State = iota
	Resolving
	Synthesizing
	Done
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Resolving:
		return "resolving"
	case Synthesizing:
		return "synthesizing"
	default:
		return "done"
	}
}

// Output is everything synthesized from a stable round.
type Output struct {
	Merges              []*model.MergeOutput
	SubcomponentModules []*model.SubcomponentModule
}

// Synthesizer runs merge-point jobs against a round.
type Synthesizer struct {
	log *zap.Logger
}

// New creates a Synthesizer.
func New(log *zap.Logger) *Synthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{log: log.Named("synth")}
}

// Synthesize processes every merge point of the round, then every
// subcomponent the unit contributes, which is merged as if it carried a
// merge-subcomponent directive of its own.
func (s *Synthesizer) Synthesize(r *scan.Round) (*Output, error) {
	var (
		out    = &Output{}
		errs   diag.List
		order  []model.TypeID
		byDecl = make(map[model.TypeID][]model.MergePoint)
	)
	for _, mp := range r.MergePoints() {
		if _, ok := byDecl[mp.Decl]; !ok {
			order = append(order, mp.Decl)
		}
		byDecl[mp.Decl] = append(byDecl[mp.Decl], mp)
	}
	model.SortTypeIDs(order)

	var jobs []*job
	for _, decl := range order {
		jobs = append(jobs, &job{owner: decl, points: byDecl[decl]})
	}
	for _, c := range r.Contributions() {
		if c.Kind != model.KindSubcomponent || c.Origin.FromHint() {
			continue
		}
		out.SubcomponentModules = append(out.SubcomponentModules, &model.SubcomponentModule{
			ID:      model.SubcomponentModuleID(c.Type),
			For:     c.Type,
			Parent:  c.Parent,
			Sources: []string{c.Origin.Pos.Filename},
		})
		if _, explicit := byDecl[c.Type]; explicit {
			continue
		}
		jobs = append(jobs, &job{
			owner:    c.Type,
			implicit: true,
			points: []model.MergePoint{{
				Decl:    c.Type,
				Scope:   c.Scope,
				Kind:    model.MergeSubcomponent,
				Modules: c.Modules,
				Exclude: c.Exclude,
				Origin:  c.Origin,
			}},
		})
	}

	for _, j := range jobs {
		if err := j.run(r); err != nil {
			errs = append(errs, diag.Flatten(err)...)
			continue
		}
		s.log.Debug("merged",
			zap.Stringer("decl", j.owner),
			zap.Stringer("kind", j.kind),
			zap.Int("modules", len(j.out.Modules)),
			zap.Int("supertypes", len(j.out.Supertypes)))
		out.Merges = append(out.Merges, j.out)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// job synthesizes one merge-point declaration.
type job struct {
	state    State
	owner    model.TypeID
	implicit bool
	points   []model.MergePoint
	kind     model.MergeKind
	pos      token.Position

	candidates [][]model.Contribution
	results    []*resolve.Result
	out        *model.MergeOutput
}

func (j *job) run(r *scan.Round) error {
	for j.state != Done {
		var err error
		switch j.state {
		case Collecting:
			err = j.collect(r)
		case Resolving:
			err = j.resolve(r)
		case Synthesizing:
			err = j.synthesize(r)
		}
		if err != nil {
			return err
		}
		j.state++
	}
	return nil
}

func (j *job) errorf(format string, args ...any) error {
	return diag.Errorf(j.pos, j.owner, format, args...)
}

// collect validates the merge directives of the declaration and gathers
// the candidates of every scope.
func (j *job) collect(r *scan.Round) error {
	first := j.points[0]
	j.kind, j.pos = first.Kind, first.Origin.Pos

	seen := make(map[model.Scope]bool)
	for _, mp := range j.points {
		if mp.Kind != j.kind {
			return j.errorf("%s mixes //weave:%s and //weave:%s; use one kind of merge directive", j.owner, j.kind, mp.Kind)
		}
		if seen[mp.Scope] {
			return j.errorf("%s merges scope %s more than once", j.owner, mp.Scope)
		}
		seen[mp.Scope] = true
	}
	if d, ok := r.Lookup(j.owner); ok && !j.implicit {
		if native, ok := nativeDirective[j.kind]; ok && d.Has(native) {
			return j.errorf("%s is annotated with both //weave:%s and //weave:%s; drop the latter", j.owner, j.kind, native)
		}
	}

	kinds := []model.Kind{model.KindModule, model.KindSupertype, model.KindBinding, model.KindMultibinding, model.KindSubcomponent}
	switch j.kind {
	case model.MergeInterfaces:
		kinds = []model.Kind{model.KindSupertype}
	case model.MergeModules:
		kinds = []model.Kind{model.KindModule, model.KindBinding, model.KindMultibinding, model.KindSubcomponent}
	}
	// A merge point never includes itself or its own merged set.
	self := map[model.TypeID]bool{j.owner: true, model.MergedID(j.owner): true}
	for _, mp := range j.points {
		var cs []model.Contribution
		for _, k := range kinds {
			for c := range r.FindContributed(mp.Scope, k) {
				if self[c.Type] {
					continue
				}
				cs = append(cs, c)
			}
		}
		j.candidates = append(j.candidates, cs)
	}
	return nil
}

var nativeDirective = map[model.MergeKind]string{
	model.MergeComponent:    directive.Component,
	model.MergeSubcomponent: directive.Subcomponent,
	model.MergeModules:      directive.Module,
}

// resolve runs replacement and exclusion per scope.
func (j *job) resolve(r *scan.Round) error {
	var errs diag.List
	for i, mp := range j.points {
		res, err := resolve.Resolve(j.candidates[i], resolve.Request{
			Owner:      j.owner,
			Pos:        mp.Origin.Pos,
			Scopes:     []model.Scope{mp.Scope},
			Exclude:    mp.Exclude,
			Predefined: mp.Modules,
		}, r)
		if err != nil {
			errs = append(errs, diag.Flatten(err)...)
			continue
		}
		j.results = append(j.results, res)
	}
	return errs.Err()
}

// synthesize unions the per-scope results into the output shape of the
// merge kind.
func (j *job) synthesize(r *scan.Round) error {
	out := &model.MergeOutput{Decl: j.owner, Kind: j.kind}
	var (
		modules, deps, supers, subs []model.TypeID
		sources                     = newSources()
	)
	if d, ok := r.Lookup(j.owner); ok {
		sources.add(d.File)
	}

	for i, mp := range j.points {
		out.Scopes = append(out.Scopes, mp.Scope)
		modules = append(modules, mp.Modules...)
		deps = append(deps, mp.Dependencies...)

		res := j.results[i]
		modules = append(modules, res.Modules...)
		supers = append(supers, res.Supertypes...)
		for _, id := range append(append([]model.TypeID(nil), res.Modules...), res.Supertypes...) {
			for _, c := range r.ContributionsOf(id) {
				sources.contribution(c)
			}
		}
		for _, c := range res.Bindings {
			m := c.Module
			if m.IsZero() {
				m = model.ScopedBindingModuleIDs(c.Type, model.BindingScopes(r.ContributionsOf(c.Type)))[c.Scope]
				if d, ok := r.Lookup(m); ok {
					sources.add(d.File)
				} else {
					return j.errorf("binding module %s for %s has not been generated", m, c.Type)
				}
			}
			modules = append(modules, m)
			sources.contribution(c)
		}
		for _, c := range res.Subcomponents {
			m := c.Module
			if m.IsZero() {
				m = model.SubcomponentModuleID(c.Type)
			}
			modules = append(modules, m)
			subs = append(subs, c.Type)
			sources.contribution(c)
		}
	}

	model.SortScopes(out.Scopes)
	switch j.kind {
	case model.MergeComponent:
		out.Modules = model.UniqueTypeIDs(modules)
		out.Dependencies = model.UniqueTypeIDs(deps)
		out.Supertypes = model.UniqueTypeIDs(supers)
		out.Subcomponents = model.UniqueTypeIDs(subs)
	case model.MergeSubcomponent:
		out.Modules = model.UniqueTypeIDs(modules)
		out.Supertypes = model.UniqueTypeIDs(supers)
		out.Subcomponents = model.UniqueTypeIDs(subs)
	case model.MergeModules:
		out.Modules = model.UniqueTypeIDs(modules)
		out.Subcomponents = model.UniqueTypeIDs(subs)
	case model.MergeInterfaces:
		out.Supertypes = model.UniqueTypeIDs(supers)
	default:
		return fmt.Errorf("unknown merge kind %d", j.kind)
	}
	out.Sources = sources.list()
	j.out = out
	return nil
}

// sources accumulates provenance. A fact from a dependency's hint index
// can't be traced to a file, so the output then depends on everything.
type sources struct {
	files      map[string]bool
	everything bool
}

func newSources() *sources { return &sources{files: make(map[string]bool)} }

func (s *sources) add(file string) {
	if file != "" {
		s.files[file] = true
	}
}

func (s *sources) contribution(c model.Contribution) {
	if c.Origin.FromHint() {
		s.everything = true
		return
	}
	s.add(c.Origin.Pos.Filename)
}

func (s *sources) list() []string {
	if s.everything {
		return nil
	}
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
