// Package gen defines what a round generator produces.
package gen

import (
	"context"
	"slices"

	"github.com/iVampireSP/weave/internal/scan"
)

// File is one generated Go file.
type File struct {
	Path    string
	Content []byte
	// Sources are the input files the output was computed from. Empty
	// means the output depends on every input.
	Sources []string
}

// Generator produces files from a round. It runs every round until its
// output stops changing, so it must be deterministic.
type Generator interface {
	Name() string
	Generate(ctx context.Context, r *scan.Round) ([]File, error)
}

// Sort orders files by path.
func Sort(files []File) []File {
	slices.SortFunc(files, func(a, b File) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return files
}
