// Package identity resolves the current chat actor from the platform's
// session sources. Resolution is fixed-priority: the first provider that
// yields a usable identity wins; sources are never merged.
package identity

import (
	"context"
	"errors"

	"dental-lab-admin/chatkit/conversation/models"
)

// ErrNoIdentity is returned when every provider comes up empty.
var ErrNoIdentity = errors.New("no active session identity")

// Identity is the resolved chat actor.
type Identity struct {
	ActorID     string      `json:"actor_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"display_name"`
}

// Usable reports whether the identity carries enough to act on.
func (id *Identity) Usable() bool {
	return id != nil && id.ActorID != "" && id.Role.Valid()
}

// Provider is one session source. Returning (nil, nil) means "nothing here,
// try the next source"; an error also falls through to the next source, so a
// broken store never blocks a later one.
type Provider interface {
	Resolve(ctx context.Context) (*Identity, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*Identity, error)

// Resolve implements Provider.
func (f ProviderFunc) Resolve(ctx context.Context) (*Identity, error) { return f(ctx) }

// Resolver walks an explicit, ordered provider list.
type Resolver struct {
	providers []Provider
}

// NewResolver builds a resolver over providers in priority order.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve returns the first usable identity, or ErrNoIdentity.
func (r *Resolver) Resolve(ctx context.Context) (*Identity, error) {
	for _, p := range r.providers {
		id, err := p.Resolve(ctx)
		if err != nil || !id.Usable() {
			continue
		}
		return id, nil
	}
	return nil, ErrNoIdentity
}
