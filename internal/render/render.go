// Package render turns synthesized models into Go source.
package render

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/tools/imports"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/source"
)

// File assembles a generated file from a body rendered against im.
func File(filename, pkgName string, im *Imports, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n\npackage %s\n", source.GeneratedHeader, pkgName)
	if list := im.List(); len(list) > 0 {
		buf.WriteString("\nimport (\n")
		for _, imp := range list {
			fmt.Fprintf(&buf, "\t%s %q\n", imp.Name, imp.Path)
		}
		buf.WriteString(")\n")
	}
	buf.WriteString("\n")
	buf.Write(body)

	out, err := imports.Process(filename, buf.Bytes(), &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s: %w\n%s", filename, err, buf.Bytes())
	}
	return out, nil
}

// Execute renders tpl with data into a complete file for package pkg.
func Execute(tpl *template.Template, filename, pkgName string, im *Imports, data any) ([]byte, error) {
	var body bytes.Buffer
	if err := tpl.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", filename, err)
	}
	return File(filename, pkgName, im, body.Bytes())
}

// Funcs are the template helpers bound to one import set.
func Funcs(im *Imports) template.FuncMap {
	return template.FuncMap{
		"ref":  im.Ref,
		"wire": func() string { return im.Add(backend.WirePath, "wire") },
		"arg":  Arg,
		"join": joinIDs,
		"key":  keyDirective,
	}
}

// Arg quotes a directive argument when it wouldn't survive tokenizing.
func Arg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\",=") {
		return strconv.Quote(s)
	}
	return s
}

func joinIDs(ids []model.TypeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// keyDirective renders a qualifier or map key as directive arguments.
func keyDirective(name string, k *model.Key) string {
	if name == directive.Qualifier && k.Type == model.NamedQualifier {
		return "//" + directive.Prefix + directive.Named + " " + Arg(k.Value)
	}
	s := "//" + directive.Prefix + name + " " + k.Type.String()
	if k.Value != "" {
		s += " " + Arg(k.Value)
	}
	return s
}

var bindingModuleTpl = template.Must(template.New("binding-module").Funcs(Funcs(nil)).Parse(`
// {{.ID.Name}} carries the bindings contributed by {{.For.Name}}.
//
//weave:binding-module {{.For}}
var {{.ID.Name}} = {{wire}}.NewSet(
{{- range .Methods}}
	{{$.ID.Name}}{{.Name}},
{{- end}}
)
{{range .Scoped}}
// {{.ID.Name}} carries the bindings {{$.For.Name}} contributes to {{.Scope.ID.Name}}.
//
//weave:binding-module {{$.For}} scope={{.Scope}}
var {{.ID.Name}} = {{wire}}.NewSet(
{{- range .Methods}}
	{{$.ID.Name}}{{.}},
{{- end}}
)
{{end}}
{{- range .Methods}}
// {{$.ID.Name}}{{.Name}} contributes {{.Type.Name}} as {{.Return.Name}}.
//
//weave:{{.Kind.Directive .Provides}}
{{- with .Qualifier}}
{{key "qualifier" .}}
{{- end}}
{{- with .MapKey}}
{{key "map-key" .}}
{{- end}}
{{- if .Rank}}
//weave:rank {{.Rank}}
{{- end}}
{{- if .Provides}}
func {{$.ID.Name}}{{.Name}}() {{ref .Return}} {
	return {{ref .Type}}
}
{{- else}}
func {{$.ID.Name}}{{.Name}}(v {{if .Pointer}}*{{end}}{{ref .Type}}) {{ref .Return}} {
	return v
}
{{- end}}
{{end}}`))

var subcomponentModuleTpl = template.Must(template.New("subcomponent-module").Funcs(Funcs(nil)).Parse(`
// {{.ID.Name}} installs the {{.For.Name}} subcomponent into {{.Parent}}.
//
//weave:binding-module {{.For}}
var {{.ID.Name}} = {{wire}}.NewSet()
`))

var mergeTpl = template.Must(template.New("merge").Funcs(Funcs(nil)).Parse(`
{{- if .HasModules}}
// {{.Merged}} is everything merged into {{.Decl.Name}}.
//
//weave:merge-output {{.Decl}}
//weave:{{.Native}}
{{- if .Modules}} {{.ModulesParam}}={{join .Modules}}{{end}}
{{- if .Dependencies}} dependencies={{join .Dependencies}}{{end}}
{{- if .Subcomponents}} subcomponents={{join .Subcomponents}}{{end}}
var {{.Merged}} = {{wire}}.NewSet(
{{- range .Modules}}
	{{ref .}},
{{- end}}
)
{{end}}
{{- if .HasSupertypes}}
// {{.Supertypes}} embeds every interface contributed to {{.Decl.Name}}.
//
//weave:merge-output {{.Decl}}
type {{.Supertypes}} interface {
{{- range .MergeOutput.Supertypes}}
	{{ref .}}
{{- end}}
}
{{end}}`))

// BindingModule renders a generated binding module.
func BindingModule(filename, pkgName string, m *model.BindingModule) ([]byte, error) {
	im := NewImports(m.ID.Pkg)
	im.Reserve(m.ID.Name)
	tpl := template.Must(bindingModuleTpl.Clone()).Funcs(Funcs(im))
	return Execute(tpl, filename, pkgName, im, m)
}

// SubcomponentModule renders the module that installs a subcomponent.
func SubcomponentModule(filename, pkgName string, m *model.SubcomponentModule) ([]byte, error) {
	im := NewImports(m.ID.Pkg)
	tpl := template.Must(subcomponentModuleTpl.Clone()).Funcs(Funcs(im))
	return Execute(tpl, filename, pkgName, im, m)
}

type mergeData struct {
	*model.MergeOutput
	Merged     string
	Supertypes string
}

// Native is the framework directive the merged module set stands for.
func (d mergeData) Native() string {
	switch d.Kind {
	case model.MergeSubcomponent:
		return directive.Subcomponent
	case model.MergeModules:
		return directive.Module
	}
	return directive.Component
}

func (d mergeData) ModulesParam() string {
	if d.Kind == model.MergeModules {
		return directive.ParamIncludes
	}
	return directive.ParamModules
}

func (d mergeData) HasModules() bool {
	return d.Kind != model.MergeInterfaces
}

func (d mergeData) HasSupertypes() bool {
	return d.Kind != model.MergeModules && len(d.MergeOutput.Supertypes) > 0
}

// Merge renders the output of one merge point: a module set holding every
// merged module and, unless empty, an interface embedding every merged
// supertype.
func Merge(filename, pkgName string, m *model.MergeOutput) ([]byte, error) {
	im := NewImports(m.Decl.Pkg)
	tpl := template.Must(mergeTpl.Clone()).Funcs(Funcs(im))
	return Execute(tpl, filename, pkgName, im, mergeData{
		MergeOutput: m,
		Merged:      model.MergedID(m.Decl).Name,
		Supertypes:  model.SupertypesID(m.Decl).Name,
	})
}
