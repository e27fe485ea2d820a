// Package provider defines the narrow generation capability the pipeline
// depends on, one implementation per backend provider, and the lookup table
// the router resolves candidates through.
package provider

import (
	"context"
	"errors"
)

// ErrNotConfigured marks a provider that is missing the credentials it
// needs. The router skips such candidates without attempting a call.
var ErrNotConfigured = errors.New("provider is not configured")

// Generator is the single capability a backend provider exposes to the
// pipeline. Implementations translate to their own wire protocol; the core
// never interprets provider-specific error taxonomies beyond configured vs
// call failure.
type Generator interface {
	// Name is the stable provider identifier candidates reference.
	Name() string

	// Configured reports whether the provider has the credential and
	// connection state it needs. No network I/O.
	Configured() bool

	// Generate performs one generation call and returns the raw text.
	Generate(ctx context.Context, model, system, user string, temperature float64, maxTokens int) (string, error)
}

// Registry resolves provider identifiers to implementations. It is built
// once at startup; candidate resolution is a map lookup, not runtime string
// matching.
type Registry map[string]Generator

// NewRegistry builds a Registry from the given generators, keyed by name.
func NewRegistry(gens ...Generator) Registry {
	r := make(Registry, len(gens))
	for _, g := range gens {
		r[g.Name()] = g
	}
	return r
}

// Lookup returns the generator registered under name.
func (r Registry) Lookup(name string) (Generator, bool) {
	g, ok := r[name]
	return g, ok
}
