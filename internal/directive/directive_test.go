package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	d, ok := Parse("//weave:contributes-binding scopes.AppScope bound=Iface replaces=a.Old,b.Older ignore-qualifier")
	require.True(t, ok)
	assert.Equal(t, ContributesBinding, d.Name)
	assert.Equal(t, []string{"scopes.AppScope"}, d.Args)
	bound, ok := d.Value(ParamBound)
	assert.True(t, ok)
	assert.Equal(t, "Iface", bound)
	assert.Equal(t, []string{"a.Old", "b.Older"}, d.List(ParamReplaces))
	assert.True(t, d.Has(ParamIgnoreQualifier))
}

func TestParseQuotedAndSpaced(t *testing.T) {
	t.Parallel()

	d, ok := Parse(`// weave:named "primary db"`)
	require.True(t, ok)
	assert.Equal(t, Named, d.Name)
	assert.Equal(t, "primary db", d.Arg(0))
	assert.Equal(t, "", d.Arg(1))
}

func TestParseDashedArgumentIsNotAFlag(t *testing.T) {
	t.Parallel()

	d, ok := Parse("//weave:named read-only")
	require.True(t, ok)
	assert.Equal(t, []string{"read-only"}, d.Args)
	assert.Empty(t, d.Flags)
}

func TestParseIgnoresOtherComments(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"// Impl does things.",
		"//go:generate weave",
		"//other:bind Foo",
		"//weave:",
		"weave:module",
	} {
		_, ok := Parse(line)
		assert.False(t, ok, line)
	}
}

func TestFindAndHas(t *testing.T) {
	t.Parallel()

	ds := ParseLines([]string{
		"// Repo stores users.",
		"//",
		"//weave:contributes-to AppScope",
		"//weave:contributes-to UserScope",
		"//weave:module",
	})
	require.Len(t, ds, 3)
	assert.Len(t, Find(ds, ContributesTo), 2)
	assert.True(t, Has(ds, Module))
	assert.False(t, Has(ds, Component))
}
