// Package llm defines the text-generation provider interface and its
// configured backends.
//
// The core never branches on backend identity beyond selecting which
// credentials and endpoint to use: every backend is polymorphic over one
// Generate capability, and the registry decides ordering.
package llm

import "context"

// Provider is the single capability the rest of the system consumes.
type Provider interface {
	// Name returns the configured provider name, used for logging and metrics.
	Name() string

	// Generate sends a prompt to the backing model and returns the raw
	// response text. Errors cover network, auth and quota failures; the
	// caller decides whether to fall through to another provider.
	Generate(ctx context.Context, prompt string) (string, error)
}
