// Package weavetest writes fixture modules for tests.
package weavetest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/source"
)

// Module is the module path of fixture modules.
const Module = "example.com/app"

// Write creates a module under a temporary directory. Keys are slash
// separated paths relative to the module root. A go.mod is added when the
// fixture has none.
func Write(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if _, ok := files["go.mod"]; !ok {
		writeFile(t, root, "go.mod", "module "+Module+"\n\ngo 1.25\n")
	}
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	return root
}

// Load writes a fixture module and loads its unit.
func Load(t testing.TB, files map[string]string) *source.Unit {
	t.Helper()
	u, err := source.Load(Write(t, files), Module, nil)
	require.NoError(t, err)
	return u
}

func writeFile(t testing.TB, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// Declarations is a fixture exercising every declaration shape the
// front ends must agree on.
var Declarations = map[string]string{
	"scopes/scopes.go": `package scopes

// AppScope groups application-wide contributions.
type AppScope struct{}

type (
	// UserScope is a child scope.
	UserScope struct{}

	RequestScope struct{}
)
`,
	"svc/svc.go": `package svc

import (
	"io"

	"example.com/app/scopes"
	w "github.com/google/wire"
)

// Iface is served by Impl.
type Iface interface {
	io.Closer
	Do() error
}

// Impl does the work.
//
//weave:contributes-binding example.com/app/scopes.AppScope
//weave:named primary
type Impl struct {
	Name  string
	Inner *Other
	*Base
	scopes.UserScope
}

var _ Iface = (*Impl)(nil)
var _ io.Closer = Impl{}
var _ any = &Impl{}

func (*Impl) Do() error    { return nil }
func (*Impl) Close() error { return nil }

type Other struct{}

type Base struct{}

// Set is a wire provider set.
var Set = w.NewSet()

// Marked is a module by directive.
//
//weave:module
//weave:contributes-to scopes.AppScope
var Marked = 1

var (
	// Default is a singleton.
	//
	//weave:contributes-binding scopes.AppScope
	Default Iface = &Impl{}

	plain = new(Other)
)

// NewImpl builds an Impl.
func NewImpl() *Impl { return &Impl{} }
`,
}
