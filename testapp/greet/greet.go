package greet

import (
	"fmt"

	"example.com/testapp/scopes"
	"example.com/testapp/store"
)

// Greeter is a named greeting strategy.
type Greeter interface {
	Greet(name string) string
}

// Hello greets politely.
//
//weave:contributes-multibinding scopes.AppScope
//weave:named hello
type Hello struct{}

var _ Greeter = Hello{}

func (Hello) Greet(name string) string { return "hello, " + name }

// Service greets and records every greeting.
//
//weave:inject
type Service struct {
	Store    store.Store
	Greeters []Greeter
}

func (s *Service) Greet(name string) error {
	for _, g := range s.Greeters {
		if err := s.Store.Save(g.Greet(name)); err != nil {
			return fmt.Errorf("save greeting: %w", err)
		}
	}
	return nil
}

// Api is what the application exposes from this package.
//
//weave:contributes-to scopes.AppScope
type Api interface {
	Greeter() Greeter
}
