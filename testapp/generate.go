// Package testapp shows weave on a small application.
package testapp

//go:generate go run github.com/iVampireSP/weave
//weave:option generate-factories
//weave:option track-source-files
