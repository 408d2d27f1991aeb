// Package astscan is the tree-based front end: it parses every file with
// go/parser and resolves references through each file's imports.
package astscan

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/source"
)

// Backend parses files with go/parser.
type Backend struct {
	log *zap.Logger
}

// New creates the go/ast backend.
func New(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{log: log.Named("ast")}
}

func (b *Backend) Name() string { return "ast" }

// Load parses the unit's files in parallel and assembles the universe.
func (b *Backend) Load(ctx context.Context, unit *source.Unit) (*backend.Universe, error) {
	fset := token.NewFileSet()
	parsed := make([]*ast.File, len(unit.Files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range unit.Files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			file, err := parser.ParseFile(fset, f.Path, f.Content, parser.ParseComments|parser.SkipObjectResolution)
			if err != nil {
				return fmt.Errorf("parse %s: %w", f.Path, err)
			}
			parsed[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		decls   []*backend.Declaration
		asserts []backend.Assertion
		imports = make(map[string][]backend.Import, len(parsed))
	)
	for i, file := range parsed {
		res := backend.WalkFile(fset, file, unit.Files[i], backend.Syntactic{})
		decls = append(decls, res.Decls...)
		asserts = append(asserts, res.Asserts...)
		imports[unit.Files[i].Path] = res.Imports
	}
	b.log.Debug("parsed unit", zap.Int("files", len(parsed)), zap.Int("decls", len(decls)))
	return backend.Assemble(unit.Module, decls, asserts, imports, unit.Packages(), nil), nil
}
