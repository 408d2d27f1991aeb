package astscan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/weavetest"
)

func svcID(name string) model.TypeID {
	return model.TypeID{Pkg: "example.com/app/svc", Name: name}
}

func TestLoadDeclarations(t *testing.T) {
	t.Parallel()

	u, err := New(nil).Load(context.Background(), weavetest.Load(t, weavetest.Declarations))
	require.NoError(t, err)

	impl, ok := u.Lookup(svcID("Impl"))
	require.True(t, ok)
	assert.Equal(t, backend.DeclStruct, impl.Kind)
	assert.Equal(t, "svc", impl.PkgName)
	assert.Equal(t, []string{"Iface", "io.Closer"}, impl.Supertypes)
	assert.True(t, impl.Has(directive.ContributesBinding))
	assert.True(t, impl.Has(directive.Named))
	assert.Equal(t, []backend.Field{
		{Name: "Name", Type: "string"},
		{Name: "Inner", Type: "*Other"},
		{Name: "Base", Type: "*Base", Embedded: true},
		{Name: "UserScope", Type: "scopes.UserScope", Embedded: true},
	}, impl.Fields)

	iface, ok := u.Lookup(svcID("Iface"))
	require.True(t, ok)
	assert.Equal(t, backend.DeclInterface, iface.Kind)
	assert.Equal(t, []string{"io.Closer"}, iface.Supertypes)

	set, ok := u.Lookup(svcID("Set"))
	require.True(t, ok)
	assert.True(t, set.IsModule(), "wire.NewSet through a renamed import")

	marked, ok := u.Lookup(svcID("Marked"))
	require.True(t, ok)
	assert.True(t, marked.IsModule())
	assert.False(t, marked.Module)

	def, ok := u.Lookup(svcID("Default"))
	require.True(t, ok)
	assert.Equal(t, backend.DeclVar, def.Kind)
	assert.Equal(t, []string{"Iface"}, def.Supertypes)
	assert.True(t, def.Has(directive.ContributesBinding), "doc inside a var group")

	plain, ok := u.Lookup(svcID("plain"))
	require.True(t, ok)
	assert.Empty(t, plain.Directives)

	fn, ok := u.Lookup(svcID("NewImpl"))
	require.True(t, ok)
	assert.Equal(t, backend.DeclFunc, fn.Kind)

	user, ok := u.Lookup(model.TypeID{Pkg: "example.com/app/scopes", Name: "UserScope"})
	require.True(t, ok)
	assert.Equal(t, 8, user.Pos.Line)
}

func TestLoadReportsSyntaxErrors(t *testing.T) {
	t.Parallel()

	unit := weavetest.Load(t, map[string]string{"bad/bad.go": "package bad\n\ntype X struct {\n"})
	_, err := New(nil).Load(context.Background(), unit)
	require.Error(t, err)
}

func TestLoadHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Load(ctx, weavetest.Load(t, weavetest.Declarations))
	require.ErrorIs(t, err, context.Canceled)
}
