package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/backend/astscan"
	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/gen"
	"github.com/iVampireSP/weave/internal/hints"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/scan"
	"github.com/iVampireSP/weave/internal/source"
	"github.com/iVampireSP/weave/internal/weavetest"
)

const component = `
type S struct{}

type Iface interface{}

//weave:contributes-binding S
type Impl struct{}

var _ Iface = (*Impl)(nil)

//weave:merge-component S
type Component interface{}
`

func TestWritesOutputs(t *testing.T) {
	e, root := app(component).engine(t, astscan.New(nil))
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	for _, name := range []string{
		"app/impl_bindings_weave.go",
		"app/component_merged_weave.go",
		hints.FileName,
	} {
		data, err := os.ReadFile(filepath.Join(root, name))
		require.NoError(t, err, name)
		assert.Contains(t, res.Written, filepath.Join(root, name))
		assert.True(t, bytes.Contains(data, []byte("Code generated by weave")), name)
	}

	idx, err := hints.Read(filepath.Join(root, hints.FileName))
	require.NoError(t, err)
	assert.Equal(t, weavetest.Module, idx.Module)
	require.Len(t, idx.Contributions, 1)
	assert.Equal(t, appPkg+".ImplBindingModuleForS", idx.Contributions[0].Module)
}

func TestDryRun(t *testing.T) {
	e, root := app(component).engine(t, astscan.New(nil))
	var out bytes.Buffer
	e.DryRun, e.Out = true, &out

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Contains(t, out.String(), "// === "+filepath.Join(root, "app", "impl_bindings_weave.go")+" ===")
	_, err = os.Stat(filepath.Join(root, "app", "impl_bindings_weave.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemovesStaleOutputs(t *testing.T) {
	f := app(component)
	f.files["app/old_bindings_weave.go"] = source.GeneratedHeader + "\n\npackage app\n\nvar OldBindingModule = 0\n"
	f.files["app/handwritten_weave.go"] = "package app\n\nvar Handwritten = 0\n"
	e, root := f.engine(t, astscan.New(nil))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "app", "old_bindings_weave.go")}, res.Removed)
	_, err = os.Stat(filepath.Join(root, "app", "handwritten_weave.go"))
	assert.NoError(t, err)
}

func TestDisableComponentMerging(t *testing.T) {
	f := app(component)
	f.configure = func(c *config.Config) { c.DisableComponentMerging = true }
	res, err := f.run(t, astscan.New(nil))
	require.NoError(t, err)
	_, ok := fileNamed(res, "component_merged_weave.go")
	assert.False(t, ok)
	_, ok = fileNamed(res, "impl_bindings_weave.go")
	assert.True(t, ok)
}

func TestGenerateFactoriesOnly(t *testing.T) {
	f := app(component + `
//weave:inject
type Server struct {
	Impl *Impl
}
`)
	f.configure = func(c *config.Config) { c.GenerateFactoriesOnly = true }
	res, err := f.run(t, astscan.New(nil))
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "server_factory_weave.go", filepath.Base(res.Files[0].Path))
}

// flapping never produces the same output twice.
type flapping struct{}

func (flapping) Name() string { return "flapping" }

func (flapping) Generate(_ context.Context, r *scan.Round) ([]gen.File, error) {
	d, ok := r.Lookup(appID("S"))
	if !ok {
		return nil, nil
	}
	return []gen.File{{
		Path:    filepath.Join(filepath.Dir(d.File), "flap_weave.go"),
		Content: []byte(source.GeneratedHeader + "\n\npackage app\n\n// round " + strconv.Itoa(r.Number) + "\n"),
	}}, nil
}

func TestMaxRounds(t *testing.T) {
	f := app("\ntype S struct{}\n")
	f.generators = []gen.Generator{flapping{}}
	f.configure = func(c *config.Config) { c.MaxRounds = 3 }
	res, err := f.run(t, astscan.New(nil))
	require.ErrorIs(t, err, ErrNoFixpoint)
	assert.Equal(t, 3, res.Rounds)
}

func TestIncremental(t *testing.T) {
	ctx := context.Background()
	f := app(component)
	f.files["app/extra.go"] = "package app\n\n//weave:module\n//weave:contributes-to S\nvar Extra = 0\n"
	f.configure = func(c *config.Config) { c.TrackSourceFiles = true }
	e, root := f.engine(t, astscan.New(nil))

	first, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, first.UpToDate)
	require.FileExists(t, filepath.Join(root, ".weave", "cache.db"))

	second, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, second.UpToDate)

	merged := filepath.Join(root, "app", "component_merged_weave.go")
	require.NoError(t, os.Remove(filepath.Join(root, "app", "extra.go")))
	third, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, third.UpToDate)
	assert.Contains(t, third.Invalidated, merged)
	data, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Extra")

	require.NoError(t, os.Remove(merged))
	fourth, err := e.Run(ctx)
	require.NoError(t, err)
	assert.False(t, fourth.UpToDate, "a missing output forces a run")
	assert.FileExists(t, merged)
}

func TestHintsAcrossModules(t *testing.T) {
	ctx := context.Background()

	libRoot := weavetest.Write(t, map[string]string{
		"go.mod": "module example.com/lib\n\ngo 1.25\n",
		"db/db.go": `package db

//weave:module
//weave:contributes-to example.com/app/app.S
var Module = 0
`,
	})
	libCfg := config.Default(libRoot, "example.com/lib")
	_, err := New(libCfg, astscan.New(nil), nil).Run(ctx)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(libRoot, hints.FileName))

	f := app(`
type S struct{}

//weave:merge-component S
type Component interface{}
`)
	f.configure = func(c *config.Config) { c.Hints = []string{libRoot} }
	res, err := f.run(t, astscan.New(nil))
	require.NoError(t, err)

	m := mergeOf(t, res.Round, "Component")
	assert.Equal(t, []model.TypeID{{Pkg: "example.com/lib/db", Name: "Module"}}, m.Modules)
	assert.Nil(t, m.Sources)

	out, ok := fileNamed(res, "component_merged_weave.go")
	require.True(t, ok)
	assert.Empty(t, out.Sources)
	assert.Contains(t, string(out.Content), `db "example.com/lib/db"`)
}

func TestMissingHintIndex(t *testing.T) {
	f := app("\ntype S struct{}\n")
	f.configure = func(c *config.Config) { c.Hints = []string{t.TempDir()} }
	_, err := f.run(t, astscan.New(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no hint index")
}

func TestExampleModule(t *testing.T) {
	cfg, err := config.BuildConfig(filepath.Join("..", "..", "testapp"))
	require.NoError(t, err)
	assert.True(t, cfg.GenerateFactories)
	assert.True(t, cfg.TrackSourceFiles)

	e := New(cfg, astscan.New(nil), nil)
	var out bytes.Buffer
	e.DryRun, e.Out = true, &out
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	var names []string
	for _, f := range res.Files {
		names = append(names, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{
		"memory_bindings_weave.go",
		"hello_bindings_weave.go",
		"service_factory_weave.go",
		"component_merged_weave.go",
		"request_component_merged_weave.go",
		"request_component_subcomponent_weave.go",
		hints.FileName,
	}, names)

	merged, ok := fileNamed(res, "component_merged_weave.go")
	require.True(t, ok)
	for _, want := range []string{
		"greet.HelloBindingModuleForAppScope,",
		"store.MemoryBindingModuleForAppScope,",
		"store.Module,",
		"RequestComponentSubcomponentModule,",
		"type ComponentSupertypes interface {\n\tgreet.Api\n}",
	} {
		assert.Contains(t, string(merged.Content), want)
	}

	factory, ok := fileNamed(res, "service_factory_weave.go")
	require.True(t, ok)
	assert.Contains(t, string(factory.Content), "func NewService(store store.Store, greeters []Greeter) *Service {")
}
