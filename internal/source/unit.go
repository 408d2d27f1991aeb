// Package source discovers the Go files of a module and tracks the files
// weave generated earlier in the same run.
package source

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// GeneratedHeader starts every file weave writes.
	GeneratedHeader = "// Code generated by weave. DO NOT EDIT."
	// GeneratedSuffix ends the name of every Go file weave writes.
	GeneratedSuffix = "_weave.go"
)

// IsGenerated reports whether content was written by weave.
func IsGenerated(content []byte) bool {
	return bytes.HasPrefix(content, []byte(GeneratedHeader))
}

// File is one Go file of the unit.
type File struct {
	Path      string // absolute
	Dir       string // absolute
	Pkg       string // import path
	Content   []byte
	Generated bool // produced by an earlier round of this run
}

// Unit is the compilation unit weave processes: the module's own source
// files plus the files generated by earlier rounds.
type Unit struct {
	Root   string
	Module string
	Files  []*File
	// Stale are weave-generated files found on disk. They are not sources;
	// the run either rewrites or deletes them.
	Stale []*File
}

// Load walks root and reads every non-test Go file of the module.
func Load(root, module string, exclude []string) (*Unit, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	filter := NewFilter(root, exclude)

	u := &Unit{Root: root, Module: module}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if skipDir(p, d.Name()) || filter.Skip(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".go") || strings.HasSuffix(p, "_test.go") || filter.Skip(rel, false) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		f := &File{Path: p, Dir: filepath.Dir(p), Pkg: u.ImportPath(filepath.Dir(p)), Content: content}
		if IsGenerated(content) {
			u.Stale = append(u.Stale, f)
		} else {
			u.Files = append(u.Files, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sortFiles(u.Files)
	sortFiles(u.Stale)
	return u, nil
}

// Dirs returns root and every directory under it that Load would walk.
func Dirs(root string, exclude []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	filter := NewFilter(root, exclude)
	var dirs []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if p != root {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			if skipDir(p, d.Name()) || filter.Skip(rel, true) {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, p)
		return nil
	})
	return dirs, err
}

func skipDir(p, name string) bool {
	if name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	// Nested modules are processed on their own.
	_, err := os.Stat(filepath.Join(p, "go.mod"))
	return err == nil
}

func sortFiles(files []*File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// ImportPath maps a directory under the root to its import path.
func (u *Unit) ImportPath(dir string) string {
	rel, err := filepath.Rel(u.Root, dir)
	if err != nil || rel == "." {
		return u.Module
	}
	return path.Join(u.Module, filepath.ToSlash(rel))
}

// Dir maps an import path of the module back to its directory.
func (u *Unit) Dir(pkg string) (string, bool) {
	if pkg == u.Module {
		return u.Root, true
	}
	rel, ok := strings.CutPrefix(pkg, u.Module+"/")
	if !ok {
		return "", false
	}
	return filepath.Join(u.Root, filepath.FromSlash(rel)), true
}

// WithOverlay returns a copy of the unit whose file set also holds the
// generated files, keyed by absolute path. A generated file replaces a
// source file at the same path.
func (u *Unit) WithOverlay(generated map[string][]byte) *Unit {
	out := &Unit{Root: u.Root, Module: u.Module, Stale: u.Stale}
	for _, f := range u.Files {
		if _, ok := generated[f.Path]; !ok && !f.Generated {
			out.Files = append(out.Files, f)
		}
	}
	for p, content := range generated {
		out.Files = append(out.Files, &File{
			Path:      p,
			Dir:       filepath.Dir(p),
			Pkg:       u.ImportPath(filepath.Dir(p)),
			Content:   content,
			Generated: true,
		})
	}
	sortFiles(out.Files)
	return out
}

// Sources returns the files that are not generated.
func (u *Unit) Sources() []*File {
	var out []*File
	for _, f := range u.Files {
		if !f.Generated {
			out = append(out, f)
		}
	}
	return out
}

// Overlay returns the generated files by path.
func (u *Unit) Overlay() map[string][]byte {
	out := make(map[string][]byte)
	for _, f := range u.Files {
		if f.Generated {
			out[f.Path] = f.Content
		}
	}
	return out
}

// Packages returns the sorted import paths that have at least one file.
func (u *Unit) Packages() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range u.Files {
		if !seen[f.Pkg] {
			seen[f.Pkg] = true
			out = append(out, f.Pkg)
		}
	}
	sort.Strings(out)
	return out
}

// PackageDirs returns the directories that hold at least one file.
func (u *Unit) PackageDirs() map[string]bool {
	out := make(map[string]bool)
	for _, f := range u.Files {
		out[f.Dir] = true
	}
	return out
}
