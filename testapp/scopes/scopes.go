// Package scopes declares the scope markers of the application.
package scopes

// AppScope holds application-wide contributions.
type AppScope struct{}

// RequestScope holds contributions that live for one request.
type RequestScope struct{}
