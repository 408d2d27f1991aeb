package diag

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iVampireSP/weave/internal/model"
)

func TestErrorCarriesPosition(t *testing.T) {
	t.Parallel()

	err := Errorf(token.Position{Filename: "a.go", Line: 3, Column: 6}, model.TypeID{Pkg: "p", Name: "Impl"}, "bad %s", "thing")
	assert.Equal(t, "a.go:3:6: bad thing", err.Error())
}

func TestIsDeferralSeesWrapped(t *testing.T) {
	t.Parallel()

	d := &Deferral{Decl: model.TypeID{Pkg: "p", Name: "Impl"}, Ref: "Missing"}
	assert.True(t, IsDeferral(fmt.Errorf("round 2: %w", d)))
	assert.False(t, IsDeferral(errors.New("other")))
}

func TestListErrAndPrint(t *testing.T) {
	t.Parallel()

	assert.NoError(t, List(nil).Err())

	one := errors.New("only")
	assert.Same(t, one, List{one}.Err())

	err := List{errors.New("b"), List{errors.New("a"), errors.New("c")}}.Err()
	require.Error(t, err)

	var buf bytes.Buffer
	Print(&buf, err)
	assert.Equal(t, "weave: a\nweave: c\nweave: b\n", buf.String())
}
