package store

import "github.com/google/wire"

// Store persists greetings.
type Store interface {
	Save(msg string) error
}

// Memory keeps greetings in memory.
//
//weave:contributes-binding example.com/testapp/scopes.AppScope
type Memory struct {
	saved []string
}

var _ Store = (*Memory)(nil)

func (m *Memory) Save(msg string) error {
	m.saved = append(m.saved, msg)
	return nil
}

// Module provides the store's own dependencies.
//
//weave:contributes-to example.com/testapp/scopes.AppScope
var Module = wire.NewSet(wire.Struct(new(Memory)))
