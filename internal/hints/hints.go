// Package hints reads and writes weave.hints.yaml, the index through which
// a module exposes its contributions to modules that depend on it.
package hints

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/iVampireSP/weave/internal/model"
)

// FileName is the hint index at a module root.
const FileName = "weave.hints.yaml"

// Version of the index format.
const Version = 1

// Index is the content of a hint file.
type Index struct {
	Version       int     `yaml:"version"`
	Module        string  `yaml:"module"`
	Contributions []Entry `yaml:"contributions"`
}

// Entry is one contribution in the index. Type references are fully
// qualified.
type Entry struct {
	Type            string   `yaml:"type"`
	Kind            string   `yaml:"kind"`
	Scope           string   `yaml:"scope"`
	Replaces        []string `yaml:"replaces,omitempty"`
	Bound           string   `yaml:"bound,omitempty"`
	Qualifier       *Key     `yaml:"qualifier,omitempty"`
	MapKey          *Key     `yaml:"mapKey,omitempty"`
	Rank            int      `yaml:"rank,omitempty"`
	IgnoreQualifier bool     `yaml:"ignoreQualifier,omitempty"`
	Singleton       bool     `yaml:"singleton,omitempty"`
	Pointer         bool     `yaml:"pointer,omitempty"`
	Parent          string   `yaml:"parent,omitempty"`
	Modules         []string `yaml:"modules,omitempty"`
	Exclude         []string `yaml:"exclude,omitempty"`
	Module          string   `yaml:"module,omitempty"`
}

// Key is a qualifier or map key.
type Key struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value,omitempty"`
}

// Build indexes the contributions a module declares itself. Bindings point
// at the set generated for their scope, subcomponents at the module that
// installs them.
func Build(module string, cs []model.Contribution) *Index {
	idx := &Index{Version: Version, Module: module}
	var (
		sorted = make([]model.Contribution, 0, len(cs))
		byType = make(map[model.TypeID][]model.Contribution)
	)
	for _, c := range cs {
		if c.Origin.FromHint() {
			continue
		}
		sorted = append(sorted, c)
		byType[c.Type] = append(byType[c.Type], c)
	}
	model.SortContributions(sorted)
	scoped := make(map[model.TypeID]map[model.Scope]model.TypeID)
	for t, tcs := range byType {
		scoped[t] = model.ScopedBindingModuleIDs(t, model.BindingScopes(tcs))
	}
	for _, c := range sorted {
		idx.Contributions = append(idx.Contributions, entry(c, scoped[c.Type]))
	}
	return idx
}

func entry(c model.Contribution, scoped map[model.Scope]model.TypeID) Entry {
	e := Entry{
		Type:            c.Type.String(),
		Kind:            c.Kind.String(),
		Scope:           c.Scope.String(),
		Replaces:        refs(c.Replaces),
		Rank:            c.Rank,
		IgnoreQualifier: c.IgnoreQualifier,
		Singleton:       c.Singleton,
		Pointer:         c.Pointer,
		Modules:         refs(c.Modules),
		Exclude:         refs(c.Exclude),
		Qualifier:       key(c.Qualifier),
		MapKey:          key(c.MapKey),
	}
	if !c.Bound.IsZero() {
		e.Bound = c.Bound.String()
	}
	switch c.Kind {
	case model.KindBinding, model.KindMultibinding:
		e.Module = scoped[c.Scope].String()
	case model.KindSubcomponent:
		e.Parent = c.Parent.String()
		e.Module = model.SubcomponentModuleID(c.Type).String()
	}
	return e
}

func refs(ids []model.TypeID) []string {
	var out []string
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func key(k *model.Key) *Key {
	if k == nil {
		return nil
	}
	return &Key{Type: k.Type.String(), Value: k.Value}
}

// Marshal renders the index.
func (idx *Index) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("marshal hints: %w", err)
	}
	return append([]byte("# Code generated by weave. DO NOT EDIT.\n"), data...), nil
}

// Read parses the hint index at path.
func Read(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if idx.Version != Version {
		return nil, fmt.Errorf("%s: unsupported hint version %d", path, idx.Version)
	}
	return &idx, nil
}

// Load reads the hint index of every dependency directory and returns
// their contributions.
func Load(dirs []string) ([]model.Contribution, error) {
	var out []model.Contribution
	for _, dir := range dirs {
		path := filepath.Join(dir, FileName)
		idx, err := Read(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no hint index in %s", dir)
		}
		if err != nil {
			return nil, err
		}
		cs, err := idx.Facts(path)
		if err != nil {
			return nil, err
		}
		out = append(out, cs...)
	}
	model.SortContributions(out)
	return out, nil
}

// Facts converts the index back into contributions originating from path.
func (idx *Index) Facts(path string) ([]model.Contribution, error) {
	var out []model.Contribution
	for i, e := range idx.Contributions {
		c, err := e.contribution(model.Origin{Hint: path})
		if err != nil {
			return nil, fmt.Errorf("%s: contribution %d: %w", path, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (e Entry) contribution(origin model.Origin) (model.Contribution, error) {
	kind, ok := model.ParseKind(e.Kind)
	if !ok {
		return model.Contribution{}, fmt.Errorf("unknown kind %q", e.Kind)
	}
	c := model.Contribution{
		Kind:            kind,
		Rank:            e.Rank,
		IgnoreQualifier: e.IgnoreQualifier,
		Singleton:       e.Singleton,
		Pointer:         e.Pointer,
		Origin:          origin,
	}
	p := parser{}
	c.Type = p.id(e.Type)
	c.Scope = model.Scope(p.id(e.Scope))
	c.Replaces = p.ids(e.Replaces)
	c.Modules = p.ids(e.Modules)
	c.Exclude = p.ids(e.Exclude)
	c.Qualifier = p.key(e.Qualifier)
	c.MapKey = p.key(e.MapKey)
	if e.Bound != "" {
		c.Bound = p.id(e.Bound)
	}
	if e.Parent != "" {
		c.Parent = model.Scope(p.id(e.Parent))
	}
	if e.Module != "" {
		c.Module = p.id(e.Module)
	}
	if p.err != nil {
		return model.Contribution{}, p.err
	}
	if (kind == model.KindBinding || kind == model.KindMultibinding || kind == model.KindSubcomponent) && c.Module.IsZero() {
		return model.Contribution{}, fmt.Errorf("%s: %s without module", e.Type, kind)
	}
	return c, nil
}

// parser keeps the first parse error so conversions read linearly.
type parser struct{ err error }

func (p *parser) id(s string) model.TypeID {
	id, ok := model.ParseTypeID(s)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("invalid type reference %q", s)
	}
	return id
}

func (p *parser) ids(ss []string) []model.TypeID {
	var out []model.TypeID
	for _, s := range ss {
		out = append(out, p.id(s))
	}
	return out
}

func (p *parser) key(k *Key) *model.Key {
	if k == nil {
		return nil
	}
	return &model.Key{Type: p.id(k.Type), Value: k.Value}
}
