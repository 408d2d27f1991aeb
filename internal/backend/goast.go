package backend

import (
	"go/ast"
	"go/token"
	"go/types"
	"strconv"

	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/source"
)

// Syntax answers the questions the go/ast walker cannot answer on its own.
// The plain implementation reads them off the syntax tree; a type-checked
// front end answers them from type information.
type Syntax interface {
	// SuperRef renders a type expression used as a supertype reference.
	SuperRef(file *ast.File, expr ast.Expr) string
	// Asserted returns the local type a `var _ I = value` assertion is about.
	Asserted(file *ast.File, value ast.Expr) (string, bool)
	// IsWireSet reports whether value is a wire.NewSet(...) call.
	IsWireSet(file *ast.File, imports []Import, value ast.Expr) bool
}

// FileResult is what WalkFile extracts from one file.
type FileResult struct {
	Decls   []*Declaration
	Asserts []Assertion
	Imports []Import
}

// WalkFile extracts the top-level declarations of a parsed Go file.
func WalkFile(fset *token.FileSet, file *ast.File, f *source.File, syn Syntax) FileResult {
	res := FileResult{Imports: FileImports(file)}
	pkgName := file.Name.Name

	newDecl := func(name *ast.Ident, kind DeclKind, doc *ast.CommentGroup) *Declaration {
		return &Declaration{
			ID:         model.TypeID{Pkg: f.Pkg, Name: name.Name},
			Kind:       kind,
			PkgName:    pkgName,
			File:       f.Path,
			Pos:        fset.Position(name.Pos()),
			Generated:  f.Generated,
			Directives: docDirectives(doc),
		}
	}

	for _, decl := range file.Decls {
		switch decl := decl.(type) {
		case *ast.FuncDecl:
			if decl.Recv == nil {
				res.Decls = append(res.Decls, newDecl(decl.Name, DeclFunc, decl.Doc))
			}
		case *ast.GenDecl:
			for _, spec := range decl.Specs {
				switch spec := spec.(type) {
				case *ast.TypeSpec:
					d := newDecl(spec.Name, DeclType, specDoc(decl, spec.Doc))
					switch t := spec.Type.(type) {
					case *ast.InterfaceType:
						d.Kind = DeclInterface
						for _, m := range t.Methods.List {
							if len(m.Names) == 0 {
								if ref := syn.SuperRef(file, m.Type); ref != "" && !IsTop(ref) {
									d.Supertypes = appendUnique(d.Supertypes, ref)
								}
							}
						}
					case *ast.StructType:
						d.Kind = DeclStruct
						d.Fields = structFields(t)
					}
					res.Decls = append(res.Decls, d)
				case *ast.ValueSpec:
					if decl.Tok != token.VAR {
						continue
					}
					if len(spec.Names) == 1 && spec.Names[0].Name == "_" {
						if spec.Type != nil && len(spec.Values) == 1 {
							if name, ok := syn.Asserted(file, spec.Values[0]); ok {
								res.Asserts = append(res.Asserts, Assertion{
									Pkg:   f.Pkg,
									Type:  name,
									Super: syn.SuperRef(file, spec.Type),
								})
							}
						}
						continue
					}
					for i, name := range spec.Names {
						if name.Name == "_" {
							continue
						}
						d := newDecl(name, DeclVar, specDoc(decl, spec.Doc))
						if spec.Type != nil {
							if ref := syn.SuperRef(file, spec.Type); ref != "" && !IsTop(ref) {
								d.Supertypes = []string{ref}
							}
						}
						if i < len(spec.Values) {
							d.Module = syn.IsWireSet(file, res.Imports, spec.Values[i])
						}
						res.Decls = append(res.Decls, d)
					}
				}
			}
		}
	}
	return res
}

// specDoc picks the doc comment of a spec: its own, or the declaration's
// when the declaration is not parenthesized.
func specDoc(decl *ast.GenDecl, doc *ast.CommentGroup) *ast.CommentGroup {
	if doc != nil {
		return doc
	}
	if !decl.Lparen.IsValid() {
		return decl.Doc
	}
	return nil
}

func docDirectives(doc *ast.CommentGroup) []directive.Directive {
	if doc == nil {
		return nil
	}
	lines := make([]string, len(doc.List))
	for i, c := range doc.List {
		lines[i] = c.Text
	}
	return directive.ParseLines(lines)
}

func structFields(t *ast.StructType) []Field {
	var fields []Field
	for _, f := range t.Fields.List {
		typ := types.ExprString(f.Type)
		if len(f.Names) == 0 {
			fields = append(fields, Field{Name: embeddedName(f.Type), Type: typ, Embedded: true})
			continue
		}
		for _, n := range f.Names {
			fields = append(fields, Field{Name: n.Name, Type: typ})
		}
	}
	return fields
}

func embeddedName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return embeddedName(e.X)
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.Ident:
		return e.Name
	case *ast.IndexExpr:
		return embeddedName(e.X)
	case *ast.IndexListExpr:
		return embeddedName(e.X)
	}
	return ""
}

// FileImports lists a file's imports with their local names.
func FileImports(file *ast.File) []Import {
	var out []Import
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := DefaultImportName(p)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		out = append(out, Import{Name: name, Path: p})
	}
	return out
}

// Syntactic answers Syntax questions from the syntax tree alone.
type Syntactic struct{}

func (Syntactic) SuperRef(_ *ast.File, expr ast.Expr) string {
	return NormalizeRef(types.ExprString(expr))
}

// Asserted recognises (*T)(nil), T{}, &T{} and new(T) for a local T.
func (Syntactic) Asserted(_ *ast.File, value ast.Expr) (string, bool) {
	switch v := value.(type) {
	case *ast.CallExpr:
		if fn, ok := v.Fun.(*ast.Ident); ok && fn.Name == "new" && len(v.Args) == 1 {
			return localName(v.Args[0])
		}
		if paren, ok := v.Fun.(*ast.ParenExpr); ok && len(v.Args) == 1 {
			if star, ok := paren.X.(*ast.StarExpr); ok && isNil(v.Args[0]) {
				return localName(star.X)
			}
		}
	case *ast.CompositeLit:
		return localName(v.Type)
	case *ast.UnaryExpr:
		if lit, ok := v.X.(*ast.CompositeLit); ok && v.Op == token.AND {
			return localName(lit.Type)
		}
	}
	return "", false
}

func (Syntactic) IsWireSet(_ *ast.File, imports []Import, value ast.Expr) bool {
	call, ok := value.(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "NewSet" {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	for _, imp := range imports {
		if imp.Name == x.Name {
			return imp.Path == WirePath
		}
	}
	return false
}

func localName(expr ast.Expr) (string, bool) {
	if id, ok := expr.(*ast.Ident); ok {
		return id.Name, true
	}
	return "", false
}

func isNil(expr ast.Expr) bool {
	id, ok := expr.(*ast.Ident)
	return ok && id.Name == "nil"
}
