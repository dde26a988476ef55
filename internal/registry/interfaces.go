package registry

import "github.com/zjrosen/tessera/internal/component"

// Provider defines read-only access to registered definitions. The
// resolver and the selector engine depend on it rather than on Registry,
// which lets tests substitute fixed definition sets.
type Provider interface {
	// Lookup returns the definition registered under name.
	// Returns component.ErrNotFound if no definition matches.
	Lookup(name string) (*component.Definition, error)

	// Seq returns the registration sequence of name, or 0 if unknown.
	Seq(name string) uint64

	// List returns all definitions in registration order.
	List() []*component.Definition
}

// Compile-time check that Registry implements Provider.
var _ Provider = (*Registry)(nil)
