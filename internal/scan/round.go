// Package scan holds the state of one processing round: the universe the
// front end produced, the facts extracted from it and a per-round cache of
// contribution lookups.
package scan

import (
	"iter"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/extract"
	"github.com/iVampireSP/weave/internal/model"
)

// Round is one pass over the unit. A Round is confined to the goroutine
// running it; the engine builds a fresh one for every pass, which is what
// invalidates the lookup cache.
type Round struct {
	Number   int
	Universe *backend.Universe

	contributions []model.Contribution
	mergePoints   []model.MergePoint
	deferred      []*diag.Deferral
	deferredDecls map[model.TypeID]bool
	byType        map[model.TypeID][]model.Contribution
	modules       map[model.TypeID]bool

	cache map[model.Scope]map[model.Kind][]model.Contribution
	log   *zap.Logger
}

// NewRound extracts the facts of u and combines them with the facts read
// from dependency hint indexes. Structural errors abort the round.
func NewRound(n int, u *backend.Universe, hintFacts []model.Contribution, log *zap.Logger) (*Round, error) {
	if log == nil {
		log = zap.NewNop()
	}
	res := extract.Extract(u)
	if err := res.Errors.Err(); err != nil {
		return nil, err
	}

	r := &Round{
		Number:        n,
		Universe:      u,
		mergePoints:   res.MergePoints,
		deferred:      res.Deferred,
		deferredDecls: make(map[model.TypeID]bool, len(res.Deferred)),
		byType:        make(map[model.TypeID][]model.Contribution),
		modules:       make(map[model.TypeID]bool),
		cache:         make(map[model.Scope]map[model.Kind][]model.Contribution),
		log:           log.With(zap.Int("round", n)),
	}
	for _, d := range res.Deferred {
		r.deferredDecls[d.Decl] = true
	}
	r.contributions = append(append(r.contributions, res.Contributions...), hintFacts...)
	model.SortContributions(r.contributions)
	for _, c := range r.contributions {
		r.byType[c.Type] = append(r.byType[c.Type], c)
		switch {
		case c.Kind == model.KindModule:
			r.modules[c.Type] = true
		case !c.Module.IsZero():
			r.modules[c.Module] = true
		}
	}
	r.log.Debug("round facts",
		zap.Int("contributions", len(r.contributions)),
		zap.Int("merge_points", len(r.mergePoints)),
		zap.Int("deferred", len(r.deferred)))
	return r, nil
}

// FindContributed yields the contributions of a kind grouped under scope,
// in sorted order. Subcomponents are grouped under their parent scope.
// Merge outputs never show up: extraction skips them.
func (r *Round) FindContributed(scope model.Scope, kind model.Kind) iter.Seq[model.Contribution] {
	byKind, ok := r.cache[scope]
	if !ok {
		byKind = make(map[model.Kind][]model.Contribution)
		for _, c := range r.contributions {
			if c.GroupScope() == scope {
				byKind[c.Kind] = append(byKind[c.Kind], c)
			}
		}
		r.cache[scope] = byKind
	}
	cs := byKind[kind]
	return func(yield func(model.Contribution) bool) {
		for _, c := range cs {
			if !yield(c) {
				return
			}
		}
	}
}

// Contributions returns every fact of the round, sorted.
func (r *Round) Contributions() []model.Contribution { return r.contributions }

// MergePoints returns the merge points declared in the unit.
func (r *Round) MergePoints() []model.MergePoint { return r.mergePoints }

// Deferred returns the declarations whose references did not resolve.
func (r *Round) Deferred() []*diag.Deferral { return r.deferred }

// IsDeferred reports whether a declaration's facts were withheld.
func (r *Round) IsDeferred(id model.TypeID) bool { return r.deferredDecls[id] }

// ContributionsOf returns every contribution of a type, in any scope.
func (r *Round) ContributionsOf(id model.TypeID) []model.Contribution { return r.byType[id] }

// IsModule reports whether id is a module: a declaration of the unit or a
// module known from a dependency's hints.
func (r *Round) IsModule(id model.TypeID) bool {
	if d, ok := r.Universe.Lookup(id); ok && d.IsModule() {
		return true
	}
	return r.modules[id]
}

// InUniverse reports whether id's package is part of the unit.
func (r *Round) InUniverse(id model.TypeID) bool { return r.Universe.Contains(id.Pkg) }

// Lookup finds a declaration of the unit.
func (r *Round) Lookup(id model.TypeID) (*backend.Declaration, bool) { return r.Universe.Lookup(id) }

// Log returns the round's logger.
func (r *Round) Log() *zap.Logger { return r.log }
