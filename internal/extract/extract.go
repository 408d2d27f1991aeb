// Package extract turns declarations into contribution facts and merge
// points, validating directive usage along the way.
package extract

import (
	"strconv"
	"strings"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
)

// Result is everything extracted from a universe.
type Result struct {
	Contributions []model.Contribution
	MergePoints   []model.MergePoint
	// Deferred holds declarations whose references don't resolve yet.
	// Their facts are withheld until a later round.
	Deferred []*diag.Deferral
	Errors   diag.List
}

// Extract processes every declaration of the universe. Merge outputs and
// generated binding modules carry no facts and are skipped.
func Extract(u *backend.Universe) *Result {
	res := &Result{}
	for _, d := range u.Decls {
		if d.Has(directive.MergeOutput) || d.Has(directive.BindingModule) {
			continue
		}
		cs, mps, err := Declaration(u, d)
		if err != nil {
			if def, ok := err.(*diag.Deferral); ok {
				res.Deferred = append(res.Deferred, def)
			} else {
				res.Errors = append(res.Errors, err)
			}
			continue
		}
		res.Contributions = append(res.Contributions, cs...)
		res.MergePoints = append(res.MergePoints, mps...)
	}
	model.SortContributions(res.Contributions)
	return res
}

// Declaration extracts the facts of one declaration. A structural error
// wins over a deferral so users see real mistakes first.
func Declaration(u *backend.Universe, d *backend.Declaration) ([]model.Contribution, []model.MergePoint, error) {
	x := &extractor{u: u, d: d}
	var (
		cs       []model.Contribution
		mps      []model.MergePoint
		deferred error
	)
	for _, dir := range d.Directives {
		var (
			c   *model.Contribution
			mp  *model.MergePoint
			err error
		)
		switch dir.Name {
		case directive.ContributesTo:
			c, err = x.contributesTo(dir)
		case directive.ContributesBinding:
			c, err = x.binding(dir, model.KindBinding)
		case directive.ContributesMultibinding:
			c, err = x.binding(dir, model.KindMultibinding)
		case directive.ContributesSubcomponent:
			c, err = x.subcomponent(dir)
		case directive.MergeComponent:
			mp, err = x.mergePoint(dir, model.MergeComponent)
		case directive.MergeSubcomponent:
			mp, err = x.mergePoint(dir, model.MergeSubcomponent)
		case directive.MergeModules:
			mp, err = x.mergePoint(dir, model.MergeModules)
		case directive.MergeInterfaces:
			mp, err = x.mergePoint(dir, model.MergeInterfaces)
		default:
			continue
		}
		switch {
		case err == nil:
		case diag.IsDeferral(err):
			if deferred == nil {
				deferred = err
			}
			continue
		default:
			return nil, nil, err
		}
		if c != nil {
			cs = append(cs, *c)
		}
		if mp != nil {
			mps = append(mps, *mp)
		}
	}
	if deferred != nil {
		return nil, nil, deferred
	}
	return cs, mps, nil
}

type extractor struct {
	u *backend.Universe
	d *backend.Declaration
}

func (x *extractor) errorf(format string, args ...any) error {
	return diag.Errorf(x.d.Pos, x.d.ID, format, args...)
}

func (x *extractor) origin() model.Origin { return model.Origin{Pos: x.d.Pos} }

func (x *extractor) resolve(ref string) (model.TypeID, error) {
	id, ok := x.u.Resolve(x.d, ref)
	if !ok {
		return model.TypeID{}, &diag.Deferral{Pos: x.d.Pos, Decl: x.d.ID, Ref: ref}
	}
	return id, nil
}

func (x *extractor) resolveAll(refs []string) ([]model.TypeID, error) {
	var out []model.TypeID
	for _, ref := range refs {
		id, err := x.resolve(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return model.UniqueTypeIDs(out), nil
}

func (x *extractor) scope(dir directive.Directive) (model.Scope, error) {
	ref := dir.Arg(0)
	if ref == "" {
		return model.Scope{}, x.errorf("//weave:%s needs a scope", dir.Name)
	}
	id, err := x.resolve(ref)
	return model.Scope(id), err
}

func (x *extractor) exported(dir directive.Directive) error {
	if !x.d.Exported() {
		return x.errorf("%s is annotated with //weave:%s but isn't exported", x.d.ID.Name, dir.Name)
	}
	return nil
}

func (x *extractor) contributesTo(dir directive.Directive) (*model.Contribution, error) {
	var kind model.Kind
	switch {
	case x.d.IsModule():
		kind = model.KindModule
	case x.d.Kind == backend.DeclInterface:
		kind = model.KindSupertype
	default:
		return nil, x.errorf("%s is annotated with //weave:%s, but it's neither a module nor an interface", x.d.ID, dir.Name)
	}
	if err := x.exported(dir); err != nil {
		return nil, err
	}
	scope, err := x.scope(dir)
	if err != nil {
		return nil, err
	}
	replaces, err := x.resolveAll(dir.List(directive.ParamReplaces))
	if err != nil {
		return nil, err
	}
	return &model.Contribution{
		Type:     x.d.ID,
		Scope:    scope,
		Kind:     kind,
		Replaces: replaces,
		Origin:   x.origin(),
	}, nil
}

func (x *extractor) binding(dir directive.Directive, kind model.Kind) (*model.Contribution, error) {
	switch x.d.Kind {
	case backend.DeclInterface:
		return nil, x.errorf("%s is an interface and can't contribute a binding; contribute its implementation instead", x.d.ID)
	case backend.DeclFunc:
		return nil, x.errorf("%s is a function and can't contribute a binding", x.d.ID)
	}
	if err := x.exported(dir); err != nil {
		return nil, err
	}
	if x.d.IsModule() {
		return nil, x.errorf("%s is a module and can't contribute a binding; use //weave:contributes-to", x.d.ID)
	}

	c := &model.Contribution{
		Type:      x.d.ID,
		Kind:      kind,
		Singleton: x.d.Kind == backend.DeclVar,
		Pointer:   x.d.Kind == backend.DeclStruct,
		Origin:    x.origin(),
	}

	var err error
	if c.Qualifier, err = x.qualifier(); err != nil {
		return nil, err
	}
	if c.MapKey, err = x.mapKey(kind); err != nil {
		return nil, err
	}
	if c.Rank, err = x.rank(dir, kind); err != nil {
		return nil, err
	}
	if dir.Has(directive.ParamIgnoreQualifier) {
		if kind != model.KindMultibinding {
			return nil, x.errorf("ignore-qualifier only applies to //weave:%s", directive.ContributesMultibinding)
		}
		c.IgnoreQualifier = true
	}

	if c.Scope, err = x.scope(dir); err != nil {
		return nil, err
	}
	if c.Bound, err = x.bound(dir); err != nil {
		return nil, err
	}
	if c.Replaces, err = x.resolveAll(dir.List(directive.ParamReplaces)); err != nil {
		return nil, err
	}
	return c, nil
}

// bound picks the bound type: the explicit bound= parameter, which must be
// one of the asserted supertypes, or the single asserted supertype.
func (x *extractor) bound(dir directive.Directive) (model.TypeID, error) {
	supers, err := x.resolveAll(x.d.Supertypes)
	if err != nil {
		return model.TypeID{}, err
	}

	if ref, ok := dir.Value(directive.ParamBound); ok {
		bound, err := x.resolve(ref)
		if err != nil {
			return model.TypeID{}, err
		}
		for _, s := range supers {
			if s == bound {
				return bound, nil
			}
		}
		return model.TypeID{}, x.errorf("%s contributes a binding for %s, but doesn't implement it; add var _ %s = ...", x.d.ID, bound, ref)
	}

	switch len(supers) {
	case 0:
		if x.d.Kind == backend.DeclVar {
			return model.TypeID{}, x.errorf("%s contributes a binding, but has no declared type to bind", x.d.ID)
		}
		return model.TypeID{}, x.errorf("%s contributes a binding, but implements no interface; assert one with var _ I = (*%s)(nil) or set bound=", x.d.ID, x.d.ID.Name)
	case 1:
		return supers[0], nil
	default:
		return model.TypeID{}, x.errorf("%s contributes a binding, but implements multiple interfaces (%s); set bound= to pick one", x.d.ID, model.Names(supers))
	}
}

func (x *extractor) qualifier() (*model.Key, error) {
	named := x.d.Find(directive.Named)
	custom := x.d.Find(directive.Qualifier)
	if len(named)+len(custom) > 1 {
		return nil, x.errorf("%s has %d qualifiers; a binding takes at most one", x.d.ID, len(named)+len(custom))
	}
	if len(named) == 1 {
		value := named[0].Arg(0)
		if value == "" {
			return nil, x.errorf("//weave:%s on %s needs a value", directive.Named, x.d.ID)
		}
		return &model.Key{Type: model.NamedQualifier, Value: value}, nil
	}
	if len(custom) == 0 {
		return nil, nil
	}
	ref := custom[0].Arg(0)
	if ref == "" {
		return nil, x.errorf("//weave:%s on %s needs a qualifier type", directive.Qualifier, x.d.ID)
	}
	typ, err := x.resolve(ref)
	if err != nil {
		return nil, err
	}
	if def, ok := x.u.Lookup(typ); ok && !def.Has(directive.QualifierDef) {
		return nil, x.errorf("%s is used as a qualifier on %s, but isn't marked //weave:%s", typ, x.d.ID, directive.QualifierDef)
	}
	return &model.Key{Type: typ, Value: custom[0].Arg(1)}, nil
}

// builtinMapKeys only target provider functions, never contributed types.
var builtinMapKeys = map[string]bool{
	"string": true,
	"int":    true,
	"int64":  true,
	"class":  true,
	"type":   true,
}

func (x *extractor) mapKey(kind model.Kind) (*model.Key, error) {
	keys := x.d.Find(directive.MapKey)
	if len(keys) == 0 {
		return nil, nil
	}
	if kind != model.KindMultibinding {
		return nil, x.errorf("%s has a map key, but only //weave:%s takes one", x.d.ID, directive.ContributesMultibinding)
	}
	if len(keys) > 1 {
		return nil, x.errorf("%s has %d map keys; a multibinding takes at most one", x.d.ID, len(keys))
	}
	ref, value := keys[0].Arg(0), keys[0].Arg(1)
	if ref == "" || value == "" {
		return nil, x.errorf("//weave:%s on %s needs a key type and a value", directive.MapKey, x.d.ID)
	}
	if builtinMapKeys[ref] {
		return nil, x.errorf("the built-in %s map key only targets provider functions; declare a //weave:%s type for %s", ref, directive.MapKeyDef, x.d.ID)
	}
	typ, err := x.resolve(ref)
	if err != nil {
		return nil, err
	}
	if def, ok := x.u.Lookup(typ); ok {
		defs := def.Find(directive.MapKeyDef)
		if len(defs) == 0 {
			return nil, x.errorf("%s is used as a map key on %s, but isn't marked //weave:%s", typ, x.d.ID, directive.MapKeyDef)
		}
		targets := defs[0].List(directive.ParamTargets)
		if len(targets) > 0 && !contains(targets, "type") {
			return nil, x.errorf("map key %s targets %s, not contributed types", typ, strings.Join(targets, ", "))
		}
	}
	return &model.Key{Type: typ, Value: value}, nil
}

func (x *extractor) rank(dir directive.Directive, kind model.Kind) (int, error) {
	raw, ok := dir.Value(directive.ParamRank)
	if !ok {
		return model.RankNormal, nil
	}
	if kind != model.KindBinding {
		return 0, x.errorf("rank only applies to //weave:%s", directive.ContributesBinding)
	}
	switch raw {
	case "normal":
		return model.RankNormal, nil
	case "high":
		return model.RankHigh, nil
	case "highest":
		return model.RankHighest, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, x.errorf("invalid rank %q on %s", raw, x.d.ID)
	}
	return n, nil
}

func (x *extractor) subcomponent(dir directive.Directive) (*model.Contribution, error) {
	if x.d.Kind != backend.DeclInterface && x.d.Kind != backend.DeclStruct {
		return nil, x.errorf("%s is annotated with //weave:%s, but only interfaces and structs can be subcomponents", x.d.ID, dir.Name)
	}
	if err := x.exported(dir); err != nil {
		return nil, err
	}
	parentRef, ok := dir.Value(directive.ParamParent)
	if !ok || parentRef == "" {
		return nil, x.errorf("//weave:%s on %s needs parent=", dir.Name, x.d.ID)
	}
	scope, err := x.scope(dir)
	if err != nil {
		return nil, err
	}
	parent, err := x.resolve(parentRef)
	if err != nil {
		return nil, err
	}
	c := &model.Contribution{
		Type:   x.d.ID,
		Scope:  scope,
		Kind:   model.KindSubcomponent,
		Parent: model.Scope(parent),
		Origin: x.origin(),
	}
	if c.Modules, err = x.resolveAll(dir.List(directive.ParamModules)); err != nil {
		return nil, err
	}
	if c.Exclude, err = x.resolveAll(dir.List(directive.ParamExclude)); err != nil {
		return nil, err
	}
	if c.Replaces, err = x.resolveAll(dir.List(directive.ParamReplaces)); err != nil {
		return nil, err
	}
	return c, nil
}

func (x *extractor) mergePoint(dir directive.Directive, kind model.MergeKind) (*model.MergePoint, error) {
	switch kind {
	case model.MergeModules:
		if !x.d.IsModule() {
			return nil, x.errorf("%s is annotated with //weave:%s, but isn't a module", x.d.ID, dir.Name)
		}
	case model.MergeInterfaces:
		if x.d.Kind != backend.DeclInterface {
			return nil, x.errorf("%s is annotated with //weave:%s, but isn't an interface", x.d.ID, dir.Name)
		}
	default:
		if x.d.Kind != backend.DeclInterface && x.d.Kind != backend.DeclStruct {
			return nil, x.errorf("%s is annotated with //weave:%s, but isn't an interface or struct", x.d.ID, dir.Name)
		}
	}

	modulesParam := directive.ParamModules
	if kind == model.MergeModules {
		modulesParam = directive.ParamIncludes
	}
	if kind != model.MergeComponent && len(dir.List(directive.ParamDependencies)) > 0 {
		return nil, x.errorf("dependencies= only applies to //weave:%s", directive.MergeComponent)
	}
	if kind == model.MergeInterfaces && len(dir.List(modulesParam)) > 0 {
		return nil, x.errorf("//weave:%s doesn't take modules", dir.Name)
	}

	scope, err := x.scope(dir)
	if err != nil {
		return nil, err
	}
	mp := &model.MergePoint{Decl: x.d.ID, Scope: scope, Kind: kind, Origin: x.origin()}
	if mp.Modules, err = x.resolveAll(dir.List(modulesParam)); err != nil {
		return nil, err
	}
	if mp.Dependencies, err = x.resolveAll(dir.List(directive.ParamDependencies)); err != nil {
		return nil, err
	}
	if mp.Exclude, err = x.resolveAll(dir.List(directive.ParamExclude)); err != nil {
		return nil, err
	}
	return mp, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
