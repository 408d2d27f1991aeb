// Package model holds the facts weave reasons about: type identities,
// scopes, contributions, merge points and the binding modules generated
// for them.
package model

import (
	"go/token"
	"sort"
	"strings"
)

// TypeID identifies a declaration by import path and declared name.
type TypeID struct {
	Pkg  string
	Name string
}

// ParseTypeID parses a fully qualified reference such as
// "example.com/app/scopes.AppScope".
func ParseTypeID(s string) (TypeID, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "*")
	dot := strings.LastIndex(s, ".")
	if dot <= 0 || dot < strings.LastIndex(s, "/") || dot == len(s)-1 {
		return TypeID{}, false
	}
	return TypeID{Pkg: s[:dot], Name: s[dot+1:]}, true
}

func (t TypeID) String() string {
	if t.Pkg == "" {
		return t.Name
	}
	return t.Pkg + "." + t.Name
}

func (t TypeID) IsZero() bool { return t.Pkg == "" && t.Name == "" }

// Less orders type identities by qualified name.
func (t TypeID) Less(o TypeID) bool {
	if t.Pkg != o.Pkg {
		return t.Pkg < o.Pkg
	}
	return t.Name < o.Name
}

// SortTypeIDs sorts ids by qualified name in place and returns them.
func SortTypeIDs(ids []TypeID) []TypeID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// UniqueTypeIDs returns the sorted set of ids.
func UniqueTypeIDs(ids []TypeID) []TypeID {
	seen := make(map[TypeID]bool, len(ids))
	out := make([]TypeID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return SortTypeIDs(out)
}

// Names renders ids as a sorted, comma separated list.
func Names(ids []TypeID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Scope is an opaque marker type used as a grouping key.
type Scope TypeID

func (s Scope) ID() TypeID        { return TypeID(s) }
func (s Scope) String() string    { return TypeID(s).String() }
func (s Scope) Less(o Scope) bool { return TypeID(s).Less(TypeID(o)) }

// SortScopes sorts scopes by qualified name in place.
func SortScopes(scopes []Scope) []Scope {
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Less(scopes[j]) })
	return scopes
}

// Kind is the flavour of a contribution.
type Kind int

const (
	KindSupertype Kind = iota
	KindModule
	KindBinding
	KindMultibinding
	KindSubcomponent
)

var kindNames = [...]string{
	KindSupertype:    "supertype",
	KindModule:       "module",
	KindBinding:      "binding",
	KindMultibinding: "multibinding",
	KindSubcomponent: "subcomponent",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// NamedQualifier is the qualifier type of //weave:named.
var NamedQualifier = TypeID{Pkg: "github.com/iVampireSP/weave", Name: "Named"}

// Key is a qualifier or map key: a declared key type plus its value.
type Key struct {
	Type  TypeID
	Value string
}

func (k *Key) String() string {
	if k == nil {
		return ""
	}
	return k.Type.String() + "(" + k.Value + ")"
}

// Rank values understood by contributes-binding.
const (
	RankNormal  = 0
	RankHigh    = 100
	RankHighest = 200
)

// Origin records where a fact was read from. Hint is set for facts read
// from a dependency's hint index, in which case Pos is zero.
type Origin struct {
	Pos  token.Position
	Hint string
}

// FromHint reports whether the fact came from a precompiled dependency.
func (o Origin) FromHint() bool { return o.Hint != "" }

// Contribution is one fact: a type contributes to a scope in a given way.
type Contribution struct {
	Type     TypeID
	Scope    Scope
	Kind     Kind
	Replaces []TypeID

	// Binding and multibinding.
	Bound           TypeID
	Qualifier       *Key
	MapKey          *Key
	Rank            int
	IgnoreQualifier bool
	Singleton       bool
	Pointer         bool

	// Subcomponent.
	Parent  Scope
	Modules []TypeID
	Exclude []TypeID

	// Module is the generated module that carries a binding or
	// subcomponent contribution. Only set for hint facts.
	Module TypeID

	Origin Origin
}

// GroupScope is the scope a contribution is grouped under when a merge
// point collects candidates: the parent scope for subcomponents.
func (c *Contribution) GroupScope() Scope {
	if c.Kind == KindSubcomponent {
		return c.Parent
	}
	return c.Scope
}

// SortContributions orders contributions deterministically.
func SortContributions(cs []Contribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Type != b.Type {
			return a.Type.Less(b.Type)
		}
		if a.Scope != b.Scope {
			return a.Scope.Less(b.Scope)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Bound != b.Bound {
			return a.Bound.Less(b.Bound)
		}
		return a.Qualifier.String() < b.Qualifier.String()
	})
}

// MergeKind selects the shape of a merge point's synthesized output.
type MergeKind int

const (
	MergeComponent MergeKind = iota
	MergeSubcomponent
	MergeModules
	MergeInterfaces
)

var mergeKindNames = [...]string{
	MergeComponent:    "merge-component",
	MergeSubcomponent: "merge-subcomponent",
	MergeModules:      "merge-modules",
	MergeInterfaces:   "merge-interfaces",
}

func (k MergeKind) String() string {
	if int(k) < len(mergeKindNames) {
		return mergeKindNames[k]
	}
	return "unknown"
}

// MergePoint is one merge directive on a declaration.
type MergePoint struct {
	Decl         TypeID
	Scope        Scope
	Kind         MergeKind
	Modules      []TypeID
	Dependencies []TypeID
	Exclude      []TypeID
	Origin       Origin
}
