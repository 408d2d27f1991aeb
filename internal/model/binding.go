package model

import "strconv"

// MethodKind is the shape of a generated binding method.
type MethodKind int

const (
	MethodBind MethodKind = iota
	MethodIntoSet
	MethodIntoMap
)

// Directive is the directive weave writes above a generated method.
func (k MethodKind) Directive(provides bool) string {
	switch {
	case k == MethodBind && provides:
		return "provides"
	case k == MethodBind:
		return "binds"
	case k == MethodIntoSet:
		return "into-set"
	default:
		return "into-map"
	}
}

// BindingMethod is one provider function in a generated binding module.
// Provides methods return the contributed singleton var itself, the others
// take the contributed type as their only parameter.
type BindingMethod struct {
	Name      string
	Kind      MethodKind
	Provides  bool
	Type      TypeID
	Pointer   bool
	Return    TypeID
	Qualifier *Key
	MapKey    *Key
	Rank      int
	// Scopes are the scopes the method is contributed to.
	Scopes []Scope
}

// BindingModule is the module generated for one contributed type. It holds
// every method of the type and one set per scope, so that a merge point
// only installs the bindings contributed to its own scopes.
type BindingModule struct {
	ID      TypeID
	For     TypeID
	Methods []BindingMethod
	Scoped  []ScopedBindings
	Sources []string
}

// ScopedBindings is the set of binding methods contributed to one scope.
type ScopedBindings struct {
	ID      TypeID
	Scope   Scope
	Methods []string
}

// BindingModuleID names the module generated for contributed type t.
func BindingModuleID(t TypeID) TypeID {
	return TypeID{Pkg: t.Pkg, Name: t.Name + "BindingModule"}
}

// BindingScopes lists the scopes cs contribute bindings or multibindings
// to, sorted and without duplicates.
func BindingScopes(cs []Contribution) []Scope {
	seen := make(map[Scope]bool)
	var out []Scope
	for _, c := range cs {
		if c.Kind != KindBinding && c.Kind != KindMultibinding || seen[c.Scope] {
			continue
		}
		seen[c.Scope] = true
		out = append(out, c.Scope)
	}
	return SortScopes(out)
}

// ScopedBindingModuleIDs names the per-scope sets of the binding module of
// t. Scopes sharing a name in different packages are numbered in sorted
// order.
func ScopedBindingModuleIDs(t TypeID, scopes []Scope) map[Scope]TypeID {
	base := BindingModuleID(t).Name + "For"
	out := make(map[Scope]TypeID, len(scopes))
	used := make(map[string]int)
	for _, s := range SortScopes(append([]Scope(nil), scopes...)) {
		if _, ok := out[s]; ok {
			continue
		}
		name := base + s.ID().Name
		used[name]++
		if n := used[name]; n > 1 {
			name += strconv.Itoa(n)
		}
		out[s] = TypeID{Pkg: t.Pkg, Name: name}
	}
	return out
}

// SubcomponentModuleID names the module that installs a contributed
// subcomponent into its parent.
func SubcomponentModuleID(t TypeID) TypeID {
	return TypeID{Pkg: t.Pkg, Name: t.Name + "SubcomponentModule"}
}

// MergedID names the aggregation module synthesized for a merge point.
func MergedID(t TypeID) TypeID {
	return TypeID{Pkg: t.Pkg, Name: t.Name + "Merged"}
}

// SupertypesID names the interface synthesized for a merge point's
// resolved supertypes.
func SupertypesID(t TypeID) TypeID {
	return TypeID{Pkg: t.Pkg, Name: t.Name + "Supertypes"}
}

// MergeOutput is the synthesized shape of one merge-point declaration.
type MergeOutput struct {
	Decl          TypeID
	Kind          MergeKind
	Scopes        []Scope
	Modules       []TypeID
	Dependencies  []TypeID
	Supertypes    []TypeID
	Subcomponents []TypeID
	Sources       []string
}

// SubcomponentModule installs a contributed subcomponent into its parent.
type SubcomponentModule struct {
	ID      TypeID
	For     TypeID
	Parent  Scope
	Sources []string
}
