// Package factory generates New<T> constructors for structs marked
// //weave:inject.
package factory

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"text/template"
	"unicode"

	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/materialize"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/render"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/source"
)

// Generator is the factory generator.
type Generator struct {
	log *zap.Logger
}

// New creates a factory Generator.
func New(log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{log: log.Named("factory")}
}

func (g *Generator) Name() string { return "factories" }

// Param is one constructor parameter, assigned to the field of the same
// name.
type Param struct {
	Name  string
	Field string
	Type  string
}

// Factory describes one generated constructor.
type Factory struct {
	Type   model.TypeID
	Func   string
	Params []Param
}

var factoryTpl = template.Must(template.New("factory").Parse(`
// {{.Func}} creates a {{.Type.Name}} from its dependencies.
//
//weave:provides
func {{.Func}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Name}} {{$p.Type}}{{end}}) *{{.Type.Name}} {
	return &{{.Type.Name}}{
{{- range .Params}}
		{{.Field}}: {{.Name}},
{{- end}}
	}
}
`))

// Generate renders a constructor next to every inject struct.
func (g *Generator) Generate(ctx context.Context, r *scan.Round) ([]gen.File, error) {
	var (
		files []gen.File
		errs  diag.List
	)
	for _, d := range r.Universe.Decls {
		if !d.Has(directive.Inject) || d.Generated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := g.generate(r, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, *f)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return gen.Sort(files), nil
}

func (g *Generator) generate(r *scan.Round, d *backend.Declaration) (*gen.File, error) {
	if d.Kind != backend.DeclStruct {
		return nil, diag.Errorf(d.Pos, d.ID, "%s is annotated with //weave:%s, but only structs can be injected", d.ID, directive.Inject)
	}
	fn := "New" + d.ID.Name
	if existing, ok := r.Lookup(model.TypeID{Pkg: d.ID.Pkg, Name: fn}); ok && !existing.Generated {
		return nil, diag.Errorf(d.Pos, d.ID, "%s is annotated with //weave:%s, but %s already exists at %s", d.ID, directive.Inject, fn, existing.Pos)
	}

	im := render.NewImports(d.ID.Pkg)
	f := &Factory{Type: d.ID, Func: fn}
	used := make(map[string]bool)
	taken := make(map[string]bool)
	for _, field := range d.Fields {
		if field.Name == "_" {
			continue
		}
		if err := qualifiers(field.Type, used); err != nil {
			return nil, diag.Errorf(d.Pos, d.ID, "field %s of %s: %v", field.Name, d.ID, err)
		}
		name := paramName(field.Name)
		for base, i := name, 2; taken[name]; i++ {
			name = base + strconv.Itoa(i)
		}
		taken[name] = true
		f.Params = append(f.Params, Param{Name: name, Field: field.Name, Type: field.Type})
	}
	for _, imp := range r.Universe.Imports[d.File] {
		local := imp.Name
		if local == "" {
			local = backend.DefaultImportName(imp.Path)
		}
		if local == "." && len(d.Fields) > 0 {
			return nil, diag.Errorf(d.Pos, d.ID, "%s is injected, but its file dot-imports %s", d.ID, imp.Path)
		}
		if used[local] {
			if got := im.Add(imp.Path, local); got != local {
				return nil, diag.Errorf(d.Pos, d.ID, "import %s of %s can't keep its name %s", imp.Path, d.ID, local)
			}
		}
	}

	path := filepath.Join(filepath.Dir(d.File), FileName(d.ID))
	content, err := render.Execute(factoryTpl, path, d.PkgName, im, f)
	if err != nil {
		return nil, err
	}
	g.log.Debug("factory", zap.Stringer("type", d.ID), zap.Int("params", len(f.Params)))
	return &gen.File{Path: path, Content: content, Sources: []string{d.File}}, nil
}

// FileName is the name of the file holding the factory of t.
func FileName(t model.TypeID) string {
	return materialize.Snake(t.Name) + "_factory" + source.GeneratedSuffix
}

// qualifiers collects the package names a type expression refers to.
func qualifiers(expr string, into map[string]bool) error {
	e, err := parser.ParseExpr(expr)
	if err != nil {
		return err
	}
	ast.Inspect(e, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok {
				into[id.Name] = true
			}
			return false
		}
		return true
	})
	return nil
}

func paramName(field string) string {
	runes := []rune(field)
	i := 0
	for i < len(runes) && unicode.IsUpper(runes[i]) {
		i++
	}
	switch {
	case i == 0:
	case i == 1 || i == len(runes):
		lowerPrefix(runes, i)
	default:
		lowerPrefix(runes, i-1)
	}
	name := string(runes)
	if token.IsKeyword(name) || predeclared[name] {
		name += "_"
	}
	return name
}

func lowerPrefix(runes []rune, n int) {
	for j := 0; j < n; j++ {
		runes[j] = unicode.ToLower(runes[j])
	}
}

var predeclared = map[string]bool{
	"bool": true, "string": true, "int": true, "error": true, "any": true,
	"len": true, "cap": true, "new": true, "make": true, "append": true,
	"nil": true, "true": true, "false": true, "iota": true,
}
