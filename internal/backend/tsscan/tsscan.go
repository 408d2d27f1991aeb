// Package tsscan is the symbol-processing front end built on tree-sitter.
// It reproduces the go/ast view from tree-sitter's concrete syntax tree:
// doc comments are the full-line comments directly above a spec, and
// references resolve through the import specs read off the tree.
package tsscan

import (
	"context"
	"fmt"
	"go/token"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/source"
)

// Backend parses files with tree-sitter's Go grammar.
type Backend struct {
	log *zap.Logger
}

// New creates the tree-sitter backend.
func New(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{log: log.Named("treesitter")}
}

func (b *Backend) Name() string { return "treesitter" }

// Load parses every file of the unit. Parsers are not safe for concurrent
// use, so each worker owns one.
func (b *Backend) Load(ctx context.Context, unit *source.Unit) (*backend.Universe, error) {
	results := make([]backend.FileResult, len(unit.Files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range unit.Files {
		g.Go(func() error {
			res, err := parseFile(ctx, f)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		decls   []*backend.Declaration
		asserts []backend.Assertion
		imports = make(map[string][]backend.Import, len(results))
	)
	for i, res := range results {
		decls = append(decls, res.Decls...)
		asserts = append(asserts, res.Asserts...)
		imports[unit.Files[i].Path] = res.Imports
	}
	b.log.Debug("parsed unit", zap.Int("files", len(results)), zap.Int("decls", len(decls)))
	return backend.Assemble(unit.Module, decls, asserts, imports, unit.Packages(), nil), nil
}

func parseFile(ctx context.Context, f *source.File) (backend.FileResult, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, f.Content)
	if err != nil {
		return backend.FileResult{}, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return backend.FileResult{}, fmt.Errorf("parse %s: syntax error", f.Path)
	}
	w := &walker{file: f, src: f.Content, comments: make(map[uint32]string)}
	w.walk(root)
	return w.res, nil
}

type walker struct {
	file     *source.File
	src      []byte
	pkgName  string
	comments map[uint32]string // row -> full-line comment
	res      backend.FileResult
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *walker) walk(root *sitter.Node) {
	// Comments first: doc lookup needs all of them.
	w.collectComments(root)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_clause":
			if id := n.NamedChild(0); id != nil {
				w.pkgName = w.text(id)
			}
		case "import_declaration":
			w.imports(n)
		case "function_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				w.res.Decls = append(w.res.Decls, w.decl(name, backend.DeclFunc, n))
			}
		case "type_declaration":
			for _, spec := range specs(n, "type_spec", "type_alias") {
				w.typeSpec(spec)
			}
		case "var_declaration":
			for _, spec := range specs(n, "var_spec") {
				w.varSpec(spec)
			}
		}
	}
}

// specs returns the spec children of a declaration, looking through the
// list node newer grammars wrap parenthesized groups in.
func specs(decl *sitter.Node, kinds ...string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		n := decl.NamedChild(i)
		if strings.HasSuffix(n.Type(), "_list") {
			out = append(out, specs(n, kinds...)...)
			continue
		}
		for _, k := range kinds {
			if n.Type() == k {
				out = append(out, n)
			}
		}
	}
	return out
}

func (w *walker) collectComments(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "comment":
			w.comment(c)
		case "function_declaration", "method_declaration":
		default:
			w.collectComments(c)
		}
	}
}

// comment records a // comment that sits alone on its line.
func (w *walker) comment(n *sitter.Node) {
	text := w.text(n)
	if !strings.HasPrefix(text, "//") {
		return
	}
	start := int(n.StartByte())
	for i := start - 1; i >= 0 && w.src[i] != '\n'; i-- {
		if w.src[i] != ' ' && w.src[i] != '\t' {
			return
		}
	}
	w.comments[n.StartPoint().Row] = text
}

// doc collects the contiguous full-line comments directly above row.
func (w *walker) doc(row uint32) []directive.Directive {
	var lines []string
	for r := int64(row) - 1; r >= 0; r-- {
		text, ok := w.comments[uint32(r)]
		if !ok {
			break
		}
		lines = append([]string{text}, lines...)
	}
	return directive.ParseLines(lines)
}

func (w *walker) decl(name *sitter.Node, kind backend.DeclKind, docAt *sitter.Node) *backend.Declaration {
	p := name.StartPoint()
	return &backend.Declaration{
		ID:      model.TypeID{Pkg: w.file.Pkg, Name: w.text(name)},
		Kind:    kind,
		PkgName: w.pkgName,
		File:    w.file.Path,
		Pos: token.Position{
			Filename: w.file.Path,
			Offset:   int(name.StartByte()),
			Line:     int(p.Row) + 1,
			Column:   int(p.Column) + 1,
		},
		Generated:  w.file.Generated,
		Directives: w.doc(docAt.StartPoint().Row),
	}
}

func (w *walker) imports(n *sitter.Node) {
	for _, spec := range specs(n, "import_spec") {
		p, err := strconv.Unquote(w.text(spec.ChildByFieldName("path")))
		if err != nil {
			continue
		}
		name := backend.DefaultImportName(p)
		if alias := spec.ChildByFieldName("name"); alias != nil {
			name = w.text(alias)
		}
		w.res.Imports = append(w.res.Imports, backend.Import{Name: name, Path: p})
	}
}

func (w *walker) typeSpec(spec *sitter.Node) {
	name := spec.ChildByFieldName("name")
	if name == nil {
		return
	}
	d := w.decl(name, backend.DeclType, spec)
	typ := spec.ChildByFieldName("type")
	switch {
	case typ == nil:
	case typ.Type() == "interface_type":
		d.Kind = backend.DeclInterface
		for i := 0; i < int(typ.NamedChildCount()); i++ {
			elem := typ.NamedChild(i)
			switch elem.Type() {
			case "method_spec", "method_elem", "comment":
				continue
			}
			if ref := backend.NormalizeRef(w.text(elem)); ref != "" && !backend.IsTop(ref) {
				d.Supertypes = appendUnique(d.Supertypes, ref)
			}
		}
	case typ.Type() == "struct_type":
		d.Kind = backend.DeclStruct
		d.Fields = w.fields(typ)
	}
	w.res.Decls = append(w.res.Decls, d)
}

func (w *walker) fields(st *sitter.Node) []backend.Field {
	var fields []backend.Field
	for i := 0; i < int(st.NamedChildCount()); i++ {
		list := st.NamedChild(i)
		if list.Type() != "field_declaration_list" {
			continue
		}
		for j := 0; j < int(list.NamedChildCount()); j++ {
			fd := list.NamedChild(j)
			if fd.Type() != "field_declaration" {
				continue
			}
			typ := fd.ChildByFieldName("type")
			typeText := w.text(typ)
			var names []string
			star := false
			for k := 0; k < int(fd.ChildCount()); k++ {
				c := fd.Child(k)
				switch c.Type() {
				case "field_identifier":
					names = append(names, w.text(c))
				case "*":
					star = true
				}
			}
			if len(names) == 0 {
				if star {
					typeText = "*" + typeText
				}
				fields = append(fields, backend.Field{Name: embeddedName(typeText), Type: typeText, Embedded: true})
				continue
			}
			for _, n := range names {
				fields = append(fields, backend.Field{Name: n, Type: typeText})
			}
		}
	}
	return fields
}

func embeddedName(typ string) string {
	typ = strings.TrimPrefix(typ, "*")
	if i := strings.Index(typ, "["); i >= 0 {
		typ = typ[:i]
	}
	if i := strings.LastIndex(typ, "."); i >= 0 {
		typ = typ[i+1:]
	}
	return typ
}

func (w *walker) varSpec(spec *sitter.Node) {
	var names []*sitter.Node
	for i := 0; i < int(spec.ChildCount()); i++ {
		if c := spec.Child(i); c.Type() == "identifier" {
			names = append(names, c)
		}
	}
	typ := spec.ChildByFieldName("type")
	var values []*sitter.Node
	if list := spec.ChildByFieldName("value"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			values = append(values, list.NamedChild(i))
		}
	}

	if len(names) == 1 && w.text(names[0]) == "_" {
		if typ != nil && len(values) == 1 {
			if local, ok := asserted(w.text(values[0])); ok {
				w.res.Asserts = append(w.res.Asserts, backend.Assertion{
					Pkg:   w.file.Pkg,
					Type:  local,
					Super: backend.NormalizeRef(w.text(typ)),
				})
			}
		}
		return
	}

	for i, name := range names {
		if w.text(name) == "_" {
			continue
		}
		d := w.decl(name, backend.DeclVar, spec)
		if typ != nil {
			if ref := backend.NormalizeRef(w.text(typ)); ref != "" && !backend.IsTop(ref) {
				d.Supertypes = []string{ref}
			}
		}
		if i < len(values) {
			d.Module = w.isWireSet(w.text(values[i]))
		}
		w.res.Decls = append(w.res.Decls, d)
	}
}

var (
	ptrNil     = regexp.MustCompile(`^\(\*([A-Za-z_][A-Za-z0-9_]*)\)\(nil\)$`)
	newCall    = regexp.MustCompile(`^new\(([A-Za-z_][A-Za-z0-9_]*)\)$`)
	literal    = regexp.MustCompile(`(?s)^&?([A-Za-z_][A-Za-z0-9_]*)\{.*\}$`)
	newSetCall = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.NewSet\(`)
)

// asserted recognises (*T)(nil), T{}, &T{} and new(T) for a local T.
func asserted(value string) (string, bool) {
	value = strings.Join(strings.Fields(value), "")
	for _, re := range []*regexp.Regexp{ptrNil, newCall, literal} {
		if m := re.FindStringSubmatch(value); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func (w *walker) isWireSet(value string) bool {
	m := newSetCall.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return false
	}
	for _, imp := range w.res.Imports {
		if imp.Name == m[1] {
			return imp.Path == backend.WirePath
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
