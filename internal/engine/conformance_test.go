package engine

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/backend/astscan"
	"github.com/iVampireSP/weave/internal/backend/tsscan"
	"github.com/iVampireSP/weave/internal/backend/typescan"
	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/diag"
	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/materialize"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/source"
	"github.com/iVampireSP/weave/internal/synth"
	"github.com/iVampireSP/weave/internal/weavetest"
)

const appPkg = weavetest.Module + "/app"

func appID(name string) model.TypeID { return model.TypeID{Pkg: appPkg, Name: name} }

func appIDs(names ...string) []model.TypeID {
	out := make([]model.TypeID, len(names))
	for i, n := range names {
		out[i] = appID(n)
	}
	return model.SortTypeIDs(out)
}

// eachBackend runs fn against every front end. They must agree on every
// scenario.
func eachBackend(t *testing.T, fn func(t *testing.T, b backend.Backend)) {
	t.Helper()
	for _, name := range []string{config.BackendAST, config.BackendTypes, config.BackendTreeSitter} {
		t.Run(name, func(t *testing.T) {
			var b backend.Backend
			switch name {
			case config.BackendAST:
				b = astscan.New(nil)
			case config.BackendTypes:
				if _, err := exec.LookPath("go"); err != nil {
					t.Skip("go command not available")
				}
				b = typescan.New(nil)
			default:
				b = tsscan.New(nil)
			}
			fn(t, b)
		})
	}
}

type fixture struct {
	files      map[string]string
	configure  func(*config.Config)
	generators []gen.Generator
}

func (f fixture) engine(t *testing.T, b backend.Backend) (*Engine, string) {
	t.Helper()
	root := weavetest.Write(t, f.files)
	cfg := config.Default(root, weavetest.Module)
	if f.configure != nil {
		f.configure(cfg)
	}
	require.NoError(t, cfg.Validate())
	e := New(cfg, b, nil)
	for _, g := range f.generators {
		e.Use(g, nil)
	}
	return e, root
}

func (f fixture) run(t *testing.T, b backend.Backend) (*Result, error) {
	t.Helper()
	e, _ := f.engine(t, b)
	return e.Run(context.Background())
}

func app(src string) fixture {
	return fixture{files: map[string]string{"app/app.go": "package app\n" + src}}
}

func mergeOf(t *testing.T, r *scan.Round, decl string) *model.MergeOutput {
	t.Helper()
	out, err := synth.New(nil).Synthesize(r)
	require.NoError(t, err)
	for _, m := range out.Merges {
		if m.Decl == appID(decl) {
			return m
		}
	}
	require.Failf(t, "no merge output", "%s", decl)
	return nil
}

func fileNamed(res *Result, name string) (gen.File, bool) {
	for _, f := range res.Files {
		if filepath.Base(f.Path) == name {
			return f, true
		}
	}
	return gen.File{}, false
}

func TestContributedBindingEndToEnd(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type AppScope struct{}

type Iface interface{ Do() }

//weave:contributes-binding AppScope
type Impl struct{}

func (*Impl) Do() {}

var _ Iface = (*Impl)(nil)

//weave:merge-component AppScope
type C interface{}
`).run(t, b)
		require.NoError(t, err)

		m := mergeOf(t, res.Round, "C")
		assert.Equal(t, appIDs("ImplBindingModuleForAppScope"), m.Modules)

		mods := materialize.Modules(res.Round)
		require.Len(t, mods, 1)
		require.Len(t, mods[0].Methods, 1)
		assert.Equal(t, "BindIface", mods[0].Methods[0].Name)
		assert.Equal(t, appID("Impl"), mods[0].Methods[0].Type)
		assert.Equal(t, appID("Iface"), mods[0].Methods[0].Return)

		f, ok := fileNamed(res, "impl_bindings_weave.go")
		require.True(t, ok)
		assert.Contains(t, string(f.Content), "func ImplBindingModuleBindIface(v *Impl) Iface {")
		assert.Equal(t, 1, strings.Count(string(f.Content), "\nfunc "))

		f, ok = fileNamed(res, "c_merged_weave.go")
		require.True(t, ok)
		assert.Contains(t, string(f.Content), "var CMerged = wire.NewSet(\n\tImplBindingModuleForAppScope,\n)")
	})
}

func TestReplacementIsDirect(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S struct{}

//weave:module
//weave:contributes-to S replaces=B
var A = 0

//weave:module
//weave:contributes-to S replaces=C
var B = 0

//weave:module
//weave:contributes-to S
var C = 0

//weave:merge-component S
type Component interface{}
`).run(t, b)
		require.NoError(t, err)
		assert.Equal(t, appIDs("A", "C"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestPredefinedImmunity(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S struct{}

//weave:module
var X = 0

//weave:module
//weave:contributes-to S replaces=X
var Y = 0

//weave:merge-component S modules=X
type Component interface{}
`).run(t, b)
		require.NoError(t, err)
		assert.Equal(t, appIDs("X", "Y"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestExclusion(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S struct{}

//weave:module
//weave:contributes-to S
var M1 = 0

//weave:module
//weave:contributes-to S
var M2 = 0

//weave:merge-component S exclude=M1
type Component interface{}
`).run(t, b)
		require.NoError(t, err)
		assert.Equal(t, appIDs("M2"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestMultiScopeUnion(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S1 struct{}
type S2 struct{}

//weave:module
//weave:contributes-to S1
var Module1 = 0

//weave:module
//weave:contributes-to S2
var Module2 = 0

//weave:merge-component S1
//weave:merge-component S2
type Component interface{}
`).run(t, b)
		require.NoError(t, err)
		assert.Equal(t, appIDs("Module1", "Module2"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestScopeIsolation(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S1 struct{}
type S2 struct{}

//weave:module
//weave:contributes-to S1
var Module1 = 0

//weave:module
//weave:contributes-to S2
var Module2 = 0

//weave:contributes-to S2
type Api interface{}

//weave:merge-component S1
type Component interface{}
`).run(t, b)
		require.NoError(t, err)
		m := mergeOf(t, res.Round, "Component")
		assert.Equal(t, appIDs("Module1"), m.Modules)
		assert.Empty(t, m.Supertypes)
	})
}

func TestBindingScopeIsolation(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		res, err := app(`
type S1 struct{}
type S2 struct{}

type Iface interface{ Do() }
type Other interface{ Close() }

//weave:contributes-binding S1 bound=Other
//weave:contributes-binding S2 bound=Iface
type Impl struct{}

func (*Impl) Do()    {}
func (*Impl) Close() {}

var (
	_ Iface = (*Impl)(nil)
	_ Other = (*Impl)(nil)
)

//weave:contributes-binding S1
type Alt struct{}

func (*Alt) Do() {}

var _ Iface = (*Alt)(nil)

//weave:merge-component S1
type C1 interface{}

//weave:merge-component S2
type C2 interface{}
`).run(t, b)
		require.NoError(t, err)

		assert.Equal(t, appIDs("AltBindingModuleForS1", "ImplBindingModuleForS1"), mergeOf(t, res.Round, "C1").Modules)
		assert.Equal(t, appIDs("ImplBindingModuleForS2"), mergeOf(t, res.Round, "C2").Modules)

		f, ok := fileNamed(res, "impl_bindings_weave.go")
		require.True(t, ok)
		src := string(f.Content)
		assert.Contains(t, src, "var ImplBindingModuleForS1 = wire.NewSet(\n\tImplBindingModuleBindOther,\n)")
		assert.Contains(t, src, "var ImplBindingModuleForS2 = wire.NewSet(\n\tImplBindingModuleBindIface,\n)")
		assert.Contains(t, src, "//weave:binding-module "+appPkg+".Impl scope="+appPkg+".S2\n")

		f, ok = fileNamed(res, "c1_merged_weave.go")
		require.True(t, ok)
		assert.Contains(t, string(f.Content), "var C1Merged = wire.NewSet(\n\tAltBindingModuleForS1,\n\tImplBindingModuleForS1,\n)")
	})
}

func TestDuplicateBindings(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		_, err := app(`
type S struct{}

type Iface interface{}

//weave:contributes-binding S
//weave:contributes-binding S
type Impl struct{}

var _ Iface = (*Impl)(nil)

//weave:merge-component S
type Component interface{}
`).run(t, b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "contributes multiple bindings")
		assert.Contains(t, err.Error(), "1. ")
		assert.Contains(t, err.Error(), "2. ")
	})
}

func TestIdempotence(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		f := app(`
type S struct{}

type Iface interface{}

//weave:contributes-binding S
type Impl struct{}

var _ Iface = (*Impl)(nil)

//weave:module
//weave:contributes-to S
var M = 0

//weave:merge-component S
type Component interface{}
`)
		e, _ := f.engine(t, b)
		first, err := e.Run(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, first.Written)

		second, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, second.Written)
		assert.Empty(t, second.Removed)
		require.Len(t, second.Files, len(first.Files))
		for i := range first.Files {
			assert.Equal(t, first.Files[i].Path, second.Files[i].Path)
			assert.Equal(t, string(first.Files[i].Content), string(second.Files[i].Content))
		}
	})
}

// chain generates Step<k+1> once Step<k> is visible, up to Step<n+1>.
type chain struct{ n int }

func (chain) Name() string { return "chain" }

func (c chain) Generate(_ context.Context, r *scan.Round) ([]gen.File, error) {
	first, ok := r.Lookup(appID("Step1"))
	if !ok {
		return nil, nil
	}
	var files []gen.File
	for k := 1; k <= c.n; k++ {
		if _, ok := r.Lookup(appID(fmt.Sprintf("Step%d", k))); !ok {
			continue
		}
		name := fmt.Sprintf("Step%d", k+1)
		files = append(files, gen.File{
			Path: filepath.Join(filepath.Dir(first.File), strings.ToLower(name)+source.GeneratedSuffix),
			Content: []byte(source.GeneratedHeader + "\n\npackage app\n\n" +
				"//weave:module\n//weave:contributes-to S\nvar " + name + " = 0\n"),
			Sources: []string{first.File},
		})
	}
	return files, nil
}

func TestRoundChainTerminates(t *testing.T) {
	const n = 3
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		f := app(`
type S struct{}

//weave:module
//weave:contributes-to S
var Step1 = 0

//weave:merge-component S
type Component interface{}
`)
		f.generators = []gen.Generator{chain{n: n}}
		res, err := f.run(t, b)
		require.NoError(t, err)
		assert.Equal(t, n+1, res.Rounds)
		assert.Equal(t, appIDs("Step1", "Step2", "Step3", "Step4"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestDeferralResolvesInLaterRound(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		f := app(`
type S struct{}

//weave:module
//weave:contributes-to S
var Step1 = 0

//weave:module
//weave:contributes-to S replaces=Step2
var Late = 0

//weave:merge-component S
type Component interface{}
`)
		f.generators = []gen.Generator{chain{n: 1}}
		res, err := f.run(t, b)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Rounds)
		assert.Equal(t, appIDs("Late", "Step1"), mergeOf(t, res.Round, "Component").Modules)
	})
}

func TestUnresolvedIsFatal(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		_, err := app(`
type S struct{}

//weave:module
//weave:contributes-to S replaces=Missing
var M = 0
`).run(t, b)
		require.Error(t, err)
		assert.True(t, diag.IsDeferral(err))
		assert.Contains(t, err.Error(), `cannot resolve "Missing"`)
	})
}

func TestDisableDeferral(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend.Backend) {
		f := app(`
type S struct{}

//weave:module
//weave:contributes-to S
var Step1 = 0

//weave:module
//weave:contributes-to S replaces=Step2
var Late = 0
`)
		f.generators = []gen.Generator{chain{n: 1}}
		f.configure = func(c *config.Config) { c.DisableDeferral = true }
		res, err := f.run(t, b)
		require.Error(t, err)
		assert.True(t, diag.IsDeferral(err))
		assert.Equal(t, 1, res.Rounds)
	})
}
