package scan

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/backend/astscan"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/weavetest"
)

var (
	appScope  = model.Scope{Pkg: "example.com/app/svc", Name: "AppScope"}
	userScope = model.Scope{Pkg: "example.com/app/svc", Name: "UserScope"}
)

func newRound(t *testing.T, src string, hintFacts ...model.Contribution) *Round {
	t.Helper()
	unit := weavetest.Load(t, map[string]string{"svc/svc.go": src})
	u, err := astscan.New(nil).Load(context.Background(), unit)
	require.NoError(t, err)
	r, err := NewRound(1, u, hintFacts, nil)
	require.NoError(t, err)
	return r
}

const fixture = `package svc

type AppScope struct{}
type UserScope struct{}

//weave:module
//weave:contributes-to AppScope
var A = 0

//weave:module
//weave:contributes-to AppScope
//weave:contributes-to UserScope
var B = 0

//weave:contributes-to AppScope
type Api interface{}

//weave:contributes-subcomponent UserScope parent=AppScope
type Child interface{}

//weave:merge-output example.com/app/svc.AppComponent
//weave:contributes-to AppScope
type AppComponentSupertypes interface{}
`

func collect(r *Round, scope model.Scope, kind model.Kind) []model.TypeID {
	var out []model.TypeID
	for c := range r.FindContributed(scope, kind) {
		out = append(out, c.Type)
	}
	return out
}

func TestFindContributed(t *testing.T) {
	t.Parallel()

	r := newRound(t, fixture)
	svc := func(n string) model.TypeID { return model.TypeID{Pkg: "example.com/app/svc", Name: n} }

	assert.Equal(t, []model.TypeID{svc("A"), svc("B")}, collect(r, appScope, model.KindModule))
	assert.Equal(t, []model.TypeID{svc("B")}, collect(r, userScope, model.KindModule))
	assert.Equal(t, []model.TypeID{svc("Api")}, collect(r, appScope, model.KindSupertype), "merge outputs are excluded")
	assert.Equal(t, []model.TypeID{svc("Child")}, collect(r, appScope, model.KindSubcomponent))
	assert.Empty(t, collect(r, userScope, model.KindSubcomponent))

	// Served from the cache the second time.
	assert.Equal(t, collect(r, appScope, model.KindModule), collect(r, appScope, model.KindModule))
	assert.Len(t, r.cache, 2)
}

func TestFindContributedStopsEarly(t *testing.T) {
	t.Parallel()

	r := newRound(t, fixture)
	var seen int
	for range r.FindContributed(appScope, model.KindModule) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestHintFactsJoinTheRound(t *testing.T) {
	t.Parallel()

	lib := model.TypeID{Pkg: "example.com/lib", Name: "Impl"}
	r := newRound(t, fixture, model.Contribution{
		Type:   lib,
		Scope:  appScope,
		Kind:   model.KindBinding,
		Module: model.BindingModuleID(lib),
		Origin: model.Origin{Hint: "/deps/lib/weave.hints.yaml"},
	})

	bindings := slices.Collect(r.FindContributed(appScope, model.KindBinding))
	require.Len(t, bindings, 1)
	assert.True(t, bindings[0].Origin.FromHint())
	assert.True(t, r.IsModule(model.BindingModuleID(lib)))
	assert.True(t, r.IsModule(model.TypeID{Pkg: "example.com/app/svc", Name: "A"}))
	assert.False(t, r.IsModule(model.TypeID{Pkg: "example.com/app/svc", Name: "Api"}))
	assert.False(t, r.InUniverse(lib))
}

func TestRoundRecordsDeferrals(t *testing.T) {
	t.Parallel()

	r := newRound(t, `package svc

//weave:contributes-to NotYet
type Api interface{}
`)
	require.Len(t, r.Deferred(), 1)
	assert.True(t, r.IsDeferred(model.TypeID{Pkg: "example.com/app/svc", Name: "Api"}))
	assert.Empty(t, r.Contributions())
}

func TestRoundFailsOnStructuralErrors(t *testing.T) {
	t.Parallel()

	unit := weavetest.Load(t, map[string]string{"svc/svc.go": `package svc

type S struct{}

//weave:contributes-to S
type impl interface{}
`})
	u, err := astscan.New(nil).Load(context.Background(), unit)
	require.NoError(t, err)
	_, err = NewRound(1, u, nil, nil)
	require.ErrorContains(t, err, "isn't exported")
}
