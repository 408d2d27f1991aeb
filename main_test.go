package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/model"
)

func TestNewBackend(t *testing.T) {
	for _, name := range []string{config.BackendAST, config.BackendTypes, config.BackendTreeSitter} {
		assert.Equal(t, name, newBackend(name, nil).Name())
	}
	assert.Equal(t, config.BackendAST, newBackend("", nil).Name())
}

func TestPrintContributions(t *testing.T) {
	id := func(name string) model.TypeID { return model.TypeID{Pkg: "example.com/app", Name: name} }
	app, req := model.Scope(id("AppScope")), model.Scope(id("RequestScope"))

	var buf bytes.Buffer
	printContributions(&buf, []model.Contribution{
		{Type: id("Module"), Scope: app, Kind: model.KindModule, Replaces: []model.TypeID{id("Old")}},
		{Type: id("Impl"), Scope: app, Kind: model.KindBinding, Bound: id("Iface"),
			Qualifier: &model.Key{Type: model.NamedQualifier, Value: "primary"}},
		{Type: id("Request"), Scope: req, Parent: app, Kind: model.KindSubcomponent},
	}, []model.MergePoint{
		{Decl: id("Component"), Scope: app, Kind: model.MergeComponent},
	})

	want := "example.com/app.AppScope\n" +
		"  merge-component          example.com/app.Component\n" +
		"  module                   example.com/app.Module (replaces example.com/app.Old)\n" +
		"  binding                  example.com/app.Impl (as example.com/app.Iface; qualified github.com/iVampireSP/weave.Named(primary))\n" +
		"  subcomponent             example.com/app.Request (scope example.com/app.RequestScope)\n"
	assert.Equal(t, want, buf.String())
}
