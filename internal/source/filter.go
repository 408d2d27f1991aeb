package source

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

type rule struct {
	glob    string
	negate  bool
	dirOnly bool
	// anchored globs match from the module root only.
	anchored bool
}

// Filter decides which module paths are left out of a scan. It combines
// the module's .gitignore with the exclude entries from configuration.
type Filter struct {
	rules []rule
}

// NewFilter reads root/.gitignore, if any, and appends exclude.
func NewFilter(root string, exclude []string) *Filter {
	f := &Filter{}
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		f.add(strings.Split(string(data), "\n"))
	}
	f.add(exclude)
	return f
}

func (f *Filter) add(lines []string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		var r rule
		if line[0] == '!' {
			r.negate, line = true, line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly, line = true, strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored, line = true, strings.TrimLeft(line, "/")
		} else if strings.Contains(line, "/") {
			r.anchored = true
		}
		if line == "" {
			continue
		}
		r.glob = line
		f.rules = append(f.rules, r)
	}
}

// Len reports the number of active rules.
func (f *Filter) Len() int { return len(f.rules) }

// Skip reports whether rel, relative to the module root, is filtered out.
// The last matching rule wins.
func (f *Filter) Skip(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	skip := false
	for _, r := range f.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.match(rel) {
			skip = !r.negate
		}
	}
	return skip
}

func (r rule) match(rel string) bool {
	if r.anchored {
		if ok, _ := path.Match(r.glob, rel); ok {
			return true
		}
		return strings.HasPrefix(rel, r.glob+"/")
	}
	for _, seg := range strings.Split(rel, "/") {
		if ok, _ := path.Match(r.glob, seg); ok {
			return true
		}
	}
	return false
}
