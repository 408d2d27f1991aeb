// Command weave merges contributed modules, bindings and interfaces into
// dependency injection components at generate time.
//
// Declarations opt in through //weave: doc-comment directives. weave scans
// the module, generates a binding module for every contributed binding,
// repeats until generated code stops changing and then writes a merged
// module set for every merge point:
//
//  1. Read go.mod, weave.yaml and //weave:option lines in generate.go
//  2. Scan the module with the selected front end (ast, types or treesitter)
//  3. Extract contributions and merge points, deferring unresolved references
//  4. Run generators; rescan with their output until nothing changes
//  5. Resolve replacements and exclusions per scope and render merge outputs
//  6. Write weave.hints.yaml so dependent modules see this module's facts
//
// Usage:
//
//	//go:generate go run github.com/iVampireSP/weave@latest
package main

import (
	"os"

	"github.com/iVampireSP/weave/internal/diag"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		diag.Print(os.Stderr, err)
		os.Exit(1)
	}
}
