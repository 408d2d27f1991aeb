// Package app assembles the application component.
package app

// Component is the application graph. weave writes ComponentMerged with
// every module contributed to AppScope and ComponentSupertypes with every
// contributed interface.
//
//weave:merge-component example.com/testapp/scopes.AppScope
type Component interface{}

// RequestComponent is installed into Component for each request.
//
//weave:contributes-subcomponent example.com/testapp/scopes.RequestScope parent=example.com/testapp/scopes.AppScope
type RequestComponent interface{}
