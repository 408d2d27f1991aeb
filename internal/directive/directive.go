// Package directive parses //weave: doc-comment directives.
package directive

import (
	"go/token"
	"strconv"
	"strings"
)

// Prefix introduces a weave directive inside a line comment.
const Prefix = "weave:"

// Directive names.
const (
	ContributesTo           = "contributes-to"           // //weave:contributes-to Scope [replaces=..]
	ContributesBinding      = "contributes-binding"      // //weave:contributes-binding Scope [bound=T] [rank=N]
	ContributesMultibinding = "contributes-multibinding" // //weave:contributes-multibinding Scope [bound=T]
	ContributesSubcomponent = "contributes-subcomponent" // //weave:contributes-subcomponent Scope parent=P

	MergeComponent    = "merge-component"
	MergeSubcomponent = "merge-subcomponent"
	MergeModules      = "merge-modules"
	MergeInterfaces   = "merge-interfaces"

	Component    = "component"
	Subcomponent = "subcomponent"
	Module       = "module"

	Named        = "named"
	Qualifier    = "qualifier"
	QualifierDef = "qualifier-def"
	MapKey       = "map-key"
	MapKeyDef    = "map-key-def"
	Inject       = "inject"

	BindingModule = "binding-module"
	MergeOutput   = "merge-output"
	Option        = "option"
)

// Parameter names.
const (
	ParamReplaces        = "replaces"
	ParamBound           = "bound"
	ParamRank            = "rank"
	ParamIgnoreQualifier = "ignore-qualifier"
	ParamParent          = "parent"
	ParamModules         = "modules"
	ParamIncludes        = "includes"
	ParamDependencies    = "dependencies"
	ParamExclude         = "exclude"
	ParamTargets         = "targets"
	ParamScope           = "scope"
)

// flags are the bare words parsed as switches rather than arguments.
var flags = map[string]bool{
	ParamIgnoreQualifier: true,
}

// Directive is one parsed //weave: line.
type Directive struct {
	Name   string
	Args   []string
	Params map[string][]string
	Flags  map[string]bool
	Pos    token.Position
}

// Parse parses a single comment line. It reports false when the line is
// not a weave directive.
func Parse(comment string) (Directive, bool) {
	text := strings.TrimSpace(comment)
	if !strings.HasPrefix(text, "//") {
		return Directive{}, false
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, "//"))
	if !strings.HasPrefix(text, Prefix) {
		return Directive{}, false
	}
	text = strings.TrimPrefix(text, Prefix)

	tokens := tokenize(text)
	if len(tokens) == 0 || tokens[0] == "" {
		return Directive{}, false
	}
	d := Directive{Name: tokens[0]}
	for _, tok := range tokens[1:] {
		if key, value, ok := strings.Cut(tok, "="); ok && key != "" && !strings.ContainsAny(key, `"`) {
			if d.Params == nil {
				d.Params = make(map[string][]string)
			}
			d.Params[key] = append(d.Params[key], splitList(value)...)
			continue
		}
		if flags[tok] {
			if d.Flags == nil {
				d.Flags = make(map[string]bool)
			}
			d.Flags[tok] = true
			continue
		}
		d.Args = append(d.Args, unquote(tok))
	}
	return d, true
}

// ParseLines parses every directive among the given comment lines.
func ParseLines(lines []string) []Directive {
	var out []Directive
	for _, line := range lines {
		if d, ok := Parse(line); ok {
			out = append(out, d)
		}
	}
	return out
}

// Arg returns the i-th positional argument or "".
func (d Directive) Arg(i int) string {
	if i < len(d.Args) {
		return d.Args[i]
	}
	return ""
}

// List returns the values of a key=a,b parameter.
func (d Directive) List(key string) []string { return d.Params[key] }

// Value returns the single value of a key=value parameter.
func (d Directive) Value(key string) (string, bool) {
	v, ok := d.Params[key]
	if !ok || len(v) == 0 {
		return "", ok
	}
	return v[0], true
}

// Has reports whether a bare flag such as ignore-qualifier is present.
func (d Directive) Has(flag string) bool { return d.Flags[flag] }

// Find returns the directives with the given name.
func Find(ds []Directive, name string) []Directive {
	var out []Directive
	for _, d := range ds {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// Has checks if ds contains a directive with the given name.
func Has(ds []Directive, name string) bool {
	for _, d := range ds {
		if d.Name == name {
			return true
		}
	}
	return false
}

// tokenize splits on whitespace, keeping "quoted strings" whole.
func tokenize(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, unquote(part))
		}
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}
