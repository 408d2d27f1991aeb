// Package diag defines the errors weave reports: structural errors in
// user declarations, deferrals for references that do not resolve yet,
// and incremental cache errors.
package diag

import (
	"errors"
	"fmt"
	"go/token"
	"io"
	"sort"
	"strings"

	"github.com/iVampireSP/weave/internal/model"
)

// Error is a structural error tied to a declaration. It is fatal.
type Error struct {
	Pos  token.Position
	Decl model.TypeID
	Msg  string
}

// Errorf builds an Error positioned at a declaration.
func Errorf(pos token.Position, decl model.TypeID, format string, args ...any) *Error {
	return &Error{Pos: pos, Decl: decl, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return e.Pos.String() + ": " + e.Msg
	}
	return e.Msg
}

// Deferral means a declaration referenced something that is not known in
// the current round. It may resolve once another round generates it.
type Deferral struct {
	Pos  token.Position
	Decl model.TypeID
	Ref  string
}

func (d *Deferral) Error() string {
	msg := fmt.Sprintf("%s: cannot resolve %q", d.Decl, d.Ref)
	if d.Pos.IsValid() {
		return d.Pos.String() + ": " + msg
	}
	return msg
}

// IsDeferral reports whether err is or wraps a Deferral.
func IsDeferral(err error) bool {
	var d *Deferral
	return errors.As(err, &d)
}

// CacheError reports a provenance edge that would make a generated file
// depend on itself.
type CacheError struct {
	Generated string
	Source    string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("generated file %s would depend on itself through %s", e.Generated, e.Source)
}

// List is a set of errors reported together.
type List []error

func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, err := range l {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap exposes the members to errors.Is and errors.As.
func (l List) Unwrap() []error { return l }

// Err returns nil for an empty list, the single error for a list of one,
// and the sorted list otherwise.
func (l List) Err() error {
	switch len(l) {
	case 0:
		return nil
	case 1:
		return l[0]
	}
	sort.SliceStable(l, func(i, j int) bool { return l[i].Error() < l[j].Error() })
	return l
}

// Flatten expands nested Lists into their members.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	var l List
	if errors.As(err, &l) {
		var out []error
		for _, e := range l {
			out = append(out, Flatten(e)...)
		}
		return out
	}
	return []error{err}
}

// Print writes one "weave: <error>" line per error.
func Print(w io.Writer, err error) {
	for _, e := range Flatten(err) {
		fmt.Fprintf(w, "weave: %v\n", e)
	}
}
