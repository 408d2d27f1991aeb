// Package materialize generates a binding module for every type that
// contributes a binding or multibinding.
package materialize

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/render"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/source"
)

// Materializer is the generator for binding modules.
type Materializer struct {
	log *zap.Logger
}

// New creates a Materializer.
func New(log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{log: log.Named("materialize")}
}

func (m *Materializer) Name() string { return "bindings" }

// Generate renders one file per contributing type, next to the type.
func (m *Materializer) Generate(ctx context.Context, r *scan.Round) ([]gen.File, error) {
	var files []gen.File
	for _, bm := range Modules(r) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, ok := r.Lookup(bm.For)
		if !ok {
			continue
		}
		path := filepath.Join(filepath.Dir(d.File), FileName(bm.For))
		content, err := render.BindingModule(path, d.PkgName, bm)
		if err != nil {
			return nil, err
		}
		m.log.Debug("binding module",
			zap.Stringer("type", bm.For),
			zap.Int("methods", len(bm.Methods)))
		files = append(files, gen.File{Path: path, Content: content, Sources: bm.Sources})
	}
	return gen.Sort(files), nil
}

// FileName is the name of the file holding the binding module of t.
func FileName(t model.TypeID) string {
	return Snake(t.Name) + "_bindings" + source.GeneratedSuffix
}

// Modules builds the binding modules of every type in the round that
// contributes from source. Facts from hint indexes already have a module.
func Modules(r *scan.Round) []*model.BindingModule {
	var (
		order  []model.TypeID
		byType = make(map[model.TypeID][]model.Contribution)
	)
	for _, c := range r.Contributions() {
		if c.Kind != model.KindBinding && c.Kind != model.KindMultibinding {
			continue
		}
		if c.Origin.FromHint() || r.IsDeferred(c.Type) {
			continue
		}
		if _, ok := byType[c.Type]; !ok {
			order = append(order, c.Type)
		}
		byType[c.Type] = append(byType[c.Type], c)
	}
	model.SortTypeIDs(order)

	out := make([]*model.BindingModule, 0, len(order))
	for _, t := range order {
		out = append(out, Module(t, byType[t]))
	}
	return out
}

// Module builds the binding module for type t from its contributions.
// Contributions that differ only by scope share a method, which then
// belongs to the scoped set of each of those scopes.
func Module(t model.TypeID, cs []model.Contribution) *model.BindingModule {
	bm := &model.BindingModule{ID: model.BindingModuleID(t), For: t}
	var (
		byShape = make(map[string]int)
		sources = make(map[string]bool)
	)
	for _, c := range cs {
		sources[c.Origin.Pos.Filename] = true

		mth := method(c)
		shape := methodShape(mth)
		if i, ok := byShape[shape]; ok {
			bm.Methods[i].Scopes = append(bm.Methods[i].Scopes, c.Scope)
			continue
		}
		mth.Scopes = []model.Scope{c.Scope}
		byShape[shape] = len(bm.Methods)
		bm.Methods = append(bm.Methods, mth)
	}

	names := make(map[string]int)
	for i := range bm.Methods {
		m := &bm.Methods[i]
		model.SortScopes(m.Scopes)
		names[m.Name]++
		if n := names[m.Name]; n > 1 {
			m.Name += strconv.Itoa(n)
		}
	}

	scopes := model.BindingScopes(cs)
	ids := model.ScopedBindingModuleIDs(t, scopes)
	for _, s := range scopes {
		set := model.ScopedBindings{ID: ids[s], Scope: s}
		for _, m := range bm.Methods {
			if slices.Contains(m.Scopes, s) {
				set.Methods = append(set.Methods, m.Name)
			}
		}
		bm.Scoped = append(bm.Scoped, set)
	}

	for f := range sources {
		if f != "" {
			bm.Sources = append(bm.Sources, f)
		}
	}
	slices.Sort(bm.Sources)
	return bm
}

func method(c model.Contribution) model.BindingMethod {
	m := model.BindingMethod{
		Type:     c.Type,
		Pointer:  c.Pointer,
		Provides: c.Singleton,
		Return:   c.Bound,
		Rank:     c.Rank,
		MapKey:   c.MapKey,
	}
	if !c.IgnoreQualifier {
		m.Qualifier = c.Qualifier
	}
	switch {
	case c.Kind == model.KindBinding && c.Singleton:
		m.Kind, m.Name = model.MethodBind, "Provide"
	case c.Kind == model.KindBinding:
		m.Kind, m.Name = model.MethodBind, "Bind"
	case c.MapKey != nil:
		m.Kind, m.Name = model.MethodIntoMap, "IntoMap"
	default:
		m.Kind, m.Name = model.MethodIntoSet, "IntoSet"
	}
	m.Name += c.Bound.Name
	return m
}

func methodShape(m model.BindingMethod) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(m.Kind)))
	b.WriteString("|")
	b.WriteString(m.Return.String())
	b.WriteString("|")
	if m.Qualifier != nil {
		b.WriteString(m.Qualifier.String())
	}
	b.WriteString("|")
	if m.MapKey != nil {
		b.WriteString(m.MapKey.String())
	}
	b.WriteString("|")
	b.WriteString(strconv.Itoa(m.Rank))
	return b.String()
}

// Snake converts a Go identifier to snake case, keeping initialisms
// together: HTTPServer becomes http_server.
func Snake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
