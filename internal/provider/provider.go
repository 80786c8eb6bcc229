// Package provider abstracts the outbound email backends. A closed set of
// implementations is registered once at startup; dispatch resolves them by
// name, never constructing providers per send.
package provider

import (
	"context"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
)

// Message is a fully rendered outbound email, ready for handoff. A provider
// accepting it means "handed to the transport", not "delivered"; delivery
// corrections arrive later through tracking ingest.
type Message struct {
	ID        string
	To        string
	ToName    string
	FromEmail string
	FromName  string
	ReplyTo   string
	Subject   string
	Body      string
}

// Provider is the delivery backend port.
type Provider interface {
	// Name returns the unique identifier for this provider.
	Name() string

	// IsConfigured reports whether the provider has usable credentials.
	IsConfigured() bool

	// Send hands one message to the backend.
	Send(ctx context.Context, msg *Message) error

	// Test checks backend reachability without sending.
	Test(ctx context.Context) error
}

// BulkSender is implemented by providers that accept batched handoff.
// Results are per-message; one failure never fails the batch.
type BulkSender interface {
	SendBulk(ctx context.Context, msgs []*Message) []error
}

// Registry holds the providers registered at startup. It is immutable after
// construction, so lookups need no locking.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds a registry from the given providers. The first argument
// names the default provider used when a send does not request one.
func NewRegistry(defaultName string, providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m, defaultName: defaultName}
}

// Get resolves a provider by name. An empty name resolves the default.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, appErrors.NewUnknownProvider(name)
	}
	return p, nil
}

// Default returns the provider used when no specific one is requested.
func (r *Registry) Default() (Provider, error) {
	return r.Get(r.defaultName)
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
