package materialize

import (
	"context"
	"go/parser"
	"go/token"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/backend/astscan"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/weavetest"
)

const pkg = "example.com/app/svc"

func id(name string) model.TypeID { return model.TypeID{Pkg: pkg, Name: name} }

func newRound(t *testing.T, src string) *scan.Round {
	t.Helper()
	unit := weavetest.Load(t, map[string]string{"svc/svc.go": src})
	u, err := astscan.New(nil).Load(context.Background(), unit)
	require.NoError(t, err)
	r, err := scan.NewRound(1, u, nil, nil)
	require.NoError(t, err)
	return r
}

const fixture = `package svc

type AppScope struct{}
type UserScope struct{}

type Iface interface{}
type Plugin interface{}

//weave:contributes-binding AppScope
type Impl struct{}

var _ Iface = (*Impl)(nil)

//weave:contributes-multibinding AppScope
//weave:contributes-multibinding UserScope
//weave:named extra
type Ext struct{}

var _ Plugin = (*Ext)(nil)

//weave:contributes-binding AppScope rank=high
var Default Iface = &Impl{}
`

func TestSingleBindingMethod(t *testing.T) {
	mods := Modules(newRound(t, fixture))
	require.Len(t, mods, 3)

	var impl *model.BindingModule
	for _, m := range mods {
		if m.For == id("Impl") {
			impl = m
		}
	}
	require.NotNil(t, impl)
	assert.Equal(t, id("ImplBindingModule"), impl.ID)
	require.Len(t, impl.Methods, 1)
	m := impl.Methods[0]
	assert.Equal(t, "BindIface", m.Name)
	assert.Equal(t, model.MethodBind, m.Kind)
	assert.Equal(t, id("Iface"), m.Return)
	assert.True(t, m.Pointer)
	assert.Equal(t, []model.Scope{model.Scope(id("AppScope"))}, m.Scopes)
}

func TestScopesShareMethod(t *testing.T) {
	for _, m := range Modules(newRound(t, fixture)) {
		if m.For != id("Ext") {
			continue
		}
		require.Len(t, m.Methods, 1)
		assert.Equal(t, "IntoSetPlugin", m.Methods[0].Name)
		assert.Equal(t, "extra", m.Methods[0].Qualifier.Value)
		assert.Len(t, m.Methods[0].Scopes, 2)
		assert.Equal(t, []model.ScopedBindings{
			{ID: id("ExtBindingModuleForAppScope"), Scope: model.Scope(id("AppScope")), Methods: []string{"IntoSetPlugin"}},
			{ID: id("ExtBindingModuleForUserScope"), Scope: model.Scope(id("UserScope")), Methods: []string{"IntoSetPlugin"}},
		}, m.Scoped)
		return
	}
	t.Fatal("no module for Ext")
}

func TestSingletonProvides(t *testing.T) {
	for _, m := range Modules(newRound(t, fixture)) {
		if m.For != id("Default") {
			continue
		}
		require.Len(t, m.Methods, 1)
		assert.Equal(t, "ProvideIface", m.Methods[0].Name)
		assert.True(t, m.Methods[0].Provides)
		assert.Equal(t, model.RankHigh, m.Methods[0].Rank)
		return
	}
	t.Fatal("no module for Default")
}

func TestModuleNameCollisions(t *testing.T) {
	impl, iface := id("Impl"), id("Iface")
	s1, s2 := model.Scope(id("S1")), model.Scope(id("S2"))
	bm := Module(impl, []model.Contribution{
		{Type: impl, Kind: model.KindBinding, Scope: s1, Bound: iface},
		{Type: impl, Kind: model.KindBinding, Scope: s2, Bound: iface, Qualifier: &model.Key{Type: model.NamedQualifier, Value: "b"}},
		{Type: impl, Kind: model.KindMultibinding, Scope: s1, Bound: iface, IgnoreQualifier: true, Qualifier: &model.Key{Type: model.NamedQualifier, Value: "c"}},
		{Type: impl, Kind: model.KindMultibinding, Scope: s2, Bound: iface, MapKey: &model.Key{Type: id("K"), Value: "x"}},
	})
	var names []string
	for _, m := range bm.Methods {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"BindIface", "BindIface2", "IntoSetIface", "IntoMapIface"}, names)
	assert.Nil(t, bm.Methods[2].Qualifier)

	require.Len(t, bm.Scoped, 2)
	assert.Equal(t, id("ImplBindingModuleForS1"), bm.Scoped[0].ID)
	assert.Equal(t, []string{"BindIface", "IntoSetIface"}, bm.Scoped[0].Methods)
	assert.Equal(t, id("ImplBindingModuleForS2"), bm.Scoped[1].ID)
	assert.Equal(t, []string{"BindIface2", "IntoMapIface"}, bm.Scoped[1].Methods)
}

func TestGenerate(t *testing.T) {
	r := newRound(t, fixture)
	files, err := New(nil).Generate(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, files, 3)

	d, ok := r.Lookup(id("Impl"))
	require.True(t, ok)
	var found bool
	for _, f := range files {
		_, err := parser.ParseFile(token.NewFileSet(), f.Path, f.Content, parser.ParseComments)
		require.NoError(t, err)
		if f.Path == filepath.Join(filepath.Dir(d.File), "impl_bindings_weave.go") {
			found = true
			assert.Equal(t, []string{d.File}, f.Sources)
			assert.Contains(t, string(f.Content), "func ImplBindingModuleBindIface(v *Impl) Iface {")
			assert.Contains(t, string(f.Content), "var ImplBindingModuleForAppScope = wire.NewSet(\n\tImplBindingModuleBindIface,\n)")
		}
	}
	assert.True(t, found)
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Generate(ctx, newRound(t, fixture))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnake(t *testing.T) {
	for in, want := range map[string]string{
		"Impl":         "impl",
		"AppComponent": "app_component",
		"HTTPServer":   "http_server",
		"UserV2Store":  "user_v2_store",
		"ID":           "id",
	} {
		assert.Equal(t, want, Snake(in), in)
	}
}
